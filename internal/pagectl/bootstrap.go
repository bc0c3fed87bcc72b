package pagectl

import (
	"context"
	"encoding/json"

	"github.com/stillpointlabs/vidmark/internal/types"
)

// Binding event kinds emitted by the bootstrap and by per-epoch observers
// installed during candidate acceptance and overlay rendering.
const (
	EventNavigated      = "navigated"
	EventTime           = "time"
	EventDuration       = "duration"
	EventVisibility     = "visibility"
	EventMediaError     = "media_error"
	EventMediaGone      = "media_gone"
	EventContainerLost  = "container_lost"
	EventScrubberResize = "scrubber_resize"
	EventMarkerClick    = "marker_click"
)

// BindingEvent is one decoded bootstrap emission. Fields beyond Epoch and
// Kind are populated per kind.
type BindingEvent struct {
	Epoch    int     `json:"epoch"`
	Kind     string  `json:"kind"`
	URL      string  `json:"url,omitempty"`
	Handle   string  `json:"handle,omitempty"`
	Time     float64 `json:"time,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Visible  float64 `json:"visible,omitempty"`
	Code     int     `json:"code,omitempty"`
	Message  string  `json:"message,omitempty"`
	MarkerID string  `json:"marker_id,omitempty"`
	Position float64 `json:"position,omitempty"`
	Width    float64 `json:"w,omitempty"`
	Height   float64 `json:"h,omitempty"`
}

// ParseBindingEvent decodes the raw payload delivered to an OnBinding
// handler. Events from epochs older than the supervisor's current one must
// be dropped by the caller.
func ParseBindingEvent(payload string) (BindingEvent, error) {
	var ev BindingEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return BindingEvent{}, types.NewError(types.CodeEvalFailure, "invalid binding payload", err)
	}
	if ev.Kind == "" {
		return BindingEvent{}, types.NewError(types.CodeEvalFailure, "binding payload missing kind", nil)
	}
	return ev, nil
}

// InitEpoch advances the page epoch, tearing down every observer and timer
// registered under prior epochs. Call before installing new observers and
// on stop (discarding the result) to release the page entirely.
func (c *Client) InitEpoch(ctx context.Context, tabID string) (int, error) {
	js := wrapJSEval(jsVMGuard + `
var e = vm.reset();
return JSON.stringify({ok:true,data:{epoch:e}});
`)
	var out struct {
		Epoch int `json:"epoch"`
	}
	if err := c.EvalOnTab(ctx, tabID, js, &out); err != nil {
		return 0, err
	}
	return out.Epoch, nil
}

// PageInfo reads the tab's current document URL and title. Works without
// the bootstrap so it is safe during navigation races.
func (c *Client) PageInfo(ctx context.Context, tabID string) (PageInfo, error) {
	js := wrapJSEval(`
return JSON.stringify({ok:true,data:{url:String(location.href||""),title:String(document.title||"")}});
`)
	var out PageInfo
	if err := c.EvalOnTab(ctx, tabID, js, &out); err != nil {
		return PageInfo{}, err
	}
	return out, nil
}

// DocumentHTML serializes the tab's current document. Used for fixture
// capture; the result reflects the live DOM, not the original response.
func (c *Client) DocumentHTML(ctx context.Context, tabID string) (string, error) {
	js := wrapJSEval(`
var root = document.documentElement;
var html = root ? root.outerHTML : "";
return JSON.stringify({ok:true,data:{html:String(html||"")}});
`)
	var out struct {
		HTML string `json:"html"`
	}
	if err := c.EvalOnTab(ctx, tabID, js, &out); err != nil {
		return "", err
	}
	return out.HTML, nil
}

// bootstrapJS is installed via Page.addScriptToEvaluateOnNewDocument and
// evaluated once on attach, so every document in the tab carries the
// helper library before any probe runs. Idempotent per document. Probes
// reach it through the jsVMGuard preamble; page events flow back through
// the registered binding.
//
// The library only reads the page except for three writes: handle
// attributes on elements we track, history hooks for SPA navigation
// events, and the overlay container created by the overlay probes.
const bootstrapJS = `(function() {
  if (window.__vidmark && window.__vidmark.v === 1) return;
  var S = {v: 1, epoch: 0, handleSeq: 0, cleanups: []};

  S.emit = function(kind, data) {
    try {
      if (typeof window.__vidmarkEmit__ !== "function") return;
      var msg = {epoch: S.epoch, kind: kind};
      if (data) { for (var k in data) { msg[k] = data[k]; } }
      window.__vidmarkEmit__(JSON.stringify(msg));
    } catch(_) {}
  };

  S.onCleanup = function(epoch, fn) {
    S.cleanups.push({epoch: epoch, fn: fn});
  };

  S.reset = function() {
    S.epoch += 1;
    var keep = [];
    for (var i = 0; i < S.cleanups.length; i++) {
      var c = S.cleanups[i];
      if (c.epoch < S.epoch) { try { c.fn(); } catch(_) {} }
      else { keep.push(c); }
    }
    S.cleanups = keep;
    return S.epoch;
  };

  // shadowRoots collects doc plus every reachable open shadow root.
  S.shadowRoots = function(doc, limit) {
    var roots = [doc];
    var queue = [doc];
    while (queue.length > 0 && roots.length < limit) {
      var root = queue.shift();
      var els;
      try { els = root.querySelectorAll("*"); } catch(_) { continue; }
      for (var i = 0; i < els.length && roots.length < limit; i++) {
        var sr = els[i].shadowRoot;
        if (sr) { roots.push(sr); queue.push(sr); }
      }
    }
    return roots;
  };

  // frameDocs collects same-origin iframe documents with their index
  // paths. Cross-origin frames throw on contentDocument and are skipped.
  S.frameDocs = function(limit) {
    var out = [];
    var walk = function(doc, path, depth) {
      if (out.length >= limit || depth > 3) return;
      var frames;
      try { frames = doc.querySelectorAll("iframe,frame"); } catch(_) { return; }
      for (var i = 0; i < frames.length && out.length < limit; i++) {
        var fd = null;
        try { fd = frames[i].contentDocument; } catch(_) { fd = null; }
        if (!fd) continue;
        var p = path === "" ? String(i) : path + "/" + i;
        out.push({doc: fd, path: p});
        walk(fd, p, depth + 1);
      }
    };
    walk(document, "", 0);
    return out;
  };

  S.queryAll = function(sel, roots, limit) {
    var out = [];
    for (var i = 0; i < roots.length && out.length < limit; i++) {
      var found;
      try { found = roots[i].querySelectorAll(sel); } catch(_) { continue; }
      for (var j = 0; j < found.length && out.length < limit; j++) {
        out.push(found[j]);
      }
    }
    return out;
  };

  S.media = function(roots, limit) {
    var vids = S.queryAll("video", roots, limit);
    if (vids.length >= limit) return vids;
    return vids.concat(S.queryAll("audio", roots, limit - vids.length));
  };

  S.tag = function(el) {
    if (!el || !el.setAttribute) return "";
    var h = null;
    try { h = el.getAttribute("data-vidmark-id"); } catch(_) {}
    if (h) return h;
    S.handleSeq += 1;
    h = "vm-" + S.epoch + "-" + S.handleSeq;
    try { el.setAttribute("data-vidmark-id", h); } catch(_) { return ""; }
    return h;
  };

  S.byHandle = function(h) {
    if (!h) return null;
    var sel = "[data-vidmark-id=\"" + h + "\"]";
    var roots = S.shadowRoots(document, 64);
    var found = S.queryAll(sel, roots, 1);
    if (found.length > 0) return found[0];
    var frames = S.frameDocs(16);
    for (var i = 0; i < frames.length; i++) {
      found = S.queryAll(sel, S.shadowRoots(frames[i].doc, 16), 1);
      if (found.length > 0) return found[0];
    }
    return null;
  };

  S.hidden = function(el) {
    var n = el, guard = 0;
    while (n && n.nodeType === 1 && guard < 5) {
      try {
        var st = (n.ownerDocument.defaultView || window).getComputedStyle(n);
        if (st.display === "none" || st.visibility === "hidden") return true;
        if (n === el && parseFloat(st.opacity) === 0) return true;
      } catch(_) {}
      n = n.parentElement;
      guard += 1;
    }
    return false;
  };

  // topRect translates an element rect into top-window viewport
  // coordinates, walking up through same-origin frame elements.
  S.topRect = function(el) {
    var r = el.getBoundingClientRect();
    var x = r.left, y = r.top;
    try {
      var win = el.ownerDocument ? el.ownerDocument.defaultView : null;
      var guard = 0;
      while (win && win !== window && win.frameElement && guard < 5) {
        var fr = win.frameElement.getBoundingClientRect();
        x += fr.left;
        y += fr.top;
        win = win.parent;
        guard += 1;
      }
    } catch(_) {}
    return {x: x, y: y, w: r.width, h: r.height};
  };

  // occluded reports whether another element covers most of el. Control
  // bars and caption strips cover a sliver of the media box and do not
  // count; a modal or interstitial covering 80%+ does.
  S.occluded = function(el) {
    try {
      var doc = el.ownerDocument || document;
      var r = el.getBoundingClientRect();
      if (r.width <= 0 || r.height <= 0) return false;
      var hit = doc.elementFromPoint(r.left + r.width / 2, r.top + r.height / 2);
      if (!hit || hit === el) return false;
      if (el.contains(hit) || hit.contains(el)) return false;
      if (hit.closest && hit.closest("[data-vidmark-overlay]")) return false;
      var hr = hit.getBoundingClientRect();
      var ix = Math.max(0, Math.min(hr.right, r.right) - Math.max(hr.left, r.left));
      var iy = Math.max(0, Math.min(hr.bottom, r.bottom) - Math.max(hr.top, r.top));
      return (ix * iy) / (r.width * r.height) >= 0.8;
    } catch(_) { return false; }
  };

  S.visibleFrac = function(el) {
    try {
      if (S.hidden(el)) return 0;
      var r = S.topRect(el);
      if (r.w <= 0 || r.h <= 0) return 0;
      var ix = Math.min(r.x + r.w, window.innerWidth) - Math.max(r.x, 0);
      var iy = Math.min(r.y + r.h, window.innerHeight) - Math.max(r.y, 0);
      if (ix <= 0 || iy <= 0) return 0;
      if (S.occluded(el)) return 0;
      var frac = (ix * iy) / (r.w * r.h);
      return Math.max(0, Math.min(1, frac));
    } catch(_) { return 0; }
  };

  // zTop finds the max z-index along the ancestor chain, crossing shadow
  // boundaries through the host element.
  S.zTop = function(el) {
    var z = 0, n = el, guard = 0;
    while (n && n.nodeType === 1 && guard < 30) {
      try {
        var st = (n.ownerDocument.defaultView || window).getComputedStyle(n);
        if (st.position !== "static") {
          var zi = parseInt(st.zIndex, 10);
          if (!isNaN(zi) && zi > z) z = zi;
        }
      } catch(_) {}
      var parent = n.parentElement;
      if (!parent && n.getRootNode) {
        var root = n.getRootNode();
        parent = root && root.host ? root.host : null;
      }
      n = parent;
      guard += 1;
    }
    return z;
  };

  S.mediaFeatures = function(el, framePath) {
    var r = S.topRect(el);
    var dur = 0;
    try { if (isFinite(el.duration) && el.duration > 0) dur = el.duration; } catch(_) {}
    var hid = S.hidden(el) || r.w <= 0 || r.h <= 0;
    return {
      handle: S.tag(el),
      frame: framePath || "",
      rect: r,
      vw: window.innerWidth,
      vh: window.innerHeight,
      visible: hid ? 0 : S.visibleFrac(el),
      playing: !!(!el.paused && !el.ended && el.readyState >= 2),
      muted: !!(el.muted || el.volume === 0),
      autoplay: !!el.autoplay,
      controls: !!el.controls,
      duration: dur,
      ready_state: el.readyState || 0,
      z: S.zTop(el),
      hidden: hid,
      src: String(el.currentSrc || el.src || "").substring(0, 300)
    };
  };

  // SPA navigation hooks. Hard navigations are covered by the load event;
  // these catch history transitions that never reload the document.
  var fireNav = function() { S.emit("navigated", {url: String(location.href)}); };
  try {
    var origPush = history.pushState;
    history.pushState = function() {
      var r = origPush.apply(this, arguments);
      try { fireNav(); } catch(_) {}
      return r;
    };
    var origReplace = history.replaceState;
    history.replaceState = function() {
      var r = origReplace.apply(this, arguments);
      try { fireNav(); } catch(_) {}
      return r;
    };
    window.addEventListener("popstate", fireNav, true);
    window.addEventListener("hashchange", fireNav, true);
  } catch(_) {}

  window.__vidmark = S;
})();`
