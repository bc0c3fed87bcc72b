package pagectl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stillpointlabs/vidmark/internal/types"
)

// DetectOptions bounds a detection pass. Zero fields fall back to the
// defaults below.
type DetectOptions struct {
	WaitMS     int // mutation-wait budget for the second strategy
	Limit      int // max candidates collected per strategy
	ScoreFloor int
	Weights    ScoreWeights
}

const (
	defaultDetectWaitMS = 8000
	defaultDetectLimit  = 12
)

func (o DetectOptions) normalized() DetectOptions {
	if o.WaitMS <= 0 {
		o.WaitMS = defaultDetectWaitMS
	}
	if o.Limit <= 0 {
		o.Limit = defaultDetectLimit
	}
	if o.Weights == (ScoreWeights{}) {
		o.Weights = DefaultScoreWeights()
	}
	return o
}

// DetectMedia runs the detection strategies in order, short-circuiting on
// the first that yields a candidate above the score floor: immediate query
// across the document and its shadow roots, a bounded wait for late
// insertion, then same-origin frames. Selection never installs observers;
// callers accept the winner explicitly.
func (c *Client) DetectMedia(ctx context.Context, tabID string, selectors []string, opts DetectOptions) (MediaCandidate, error) {
	opts = opts.normalized()

	var lastErr error
	probes := []struct {
		strategy string
		run      func() ([]CandidateFeatures, error)
	}{
		{StrategyImmediate, func() ([]CandidateFeatures, error) {
			return c.CollectCandidates(ctx, tabID, selectors, opts.Limit)
		}},
		{StrategyMutation, func() ([]CandidateFeatures, error) {
			return c.AwaitMediaInsertion(ctx, tabID, selectors, opts.WaitMS, opts.Limit)
		}},
		{StrategyFrames, func() ([]CandidateFeatures, error) {
			return c.CollectFrameCandidates(ctx, tabID, opts.Limit)
		}},
	}

	succeeded := false
	for _, p := range probes {
		feats, err := p.run()
		if err != nil {
			// A failing probe must not end detection; later strategies may
			// still land (e.g. the main document is wedged but a frame with
			// the player responds).
			slog.Warn("media probe failed", "tab_id", tabID, "strategy", p.strategy, "error", err)
			lastErr = err
			continue
		}
		succeeded = true
		if best, ok := SelectBest(feats, opts.Weights, opts.ScoreFloor); ok {
			best.Strategy = p.strategy
			slog.Info("media detected",
				"tab_id", tabID,
				"strategy", p.strategy,
				"score", best.Score,
				"handle", best.Features.Handle,
				"candidates", len(feats))
			return best, nil
		}
		slog.Debug("media probe empty", "tab_id", tabID, "strategy", p.strategy, "candidates", len(feats))
	}

	if !succeeded && lastErr != nil {
		return MediaCandidate{}, lastErr
	}
	return MediaCandidate{}, types.NewError(types.CodeMediaNotFound, "no scoreable media element on page", nil)
}

// CollectCandidates is the immediate-query strategy: adapter selectors
// first, then every video and audio element reachable through the document
// and its open shadow roots.
func (c *Client) CollectCandidates(ctx context.Context, tabID string, selectors []string, limit int) ([]CandidateFeatures, error) {
	var out candidateList
	if err := c.EvalOnTab(ctx, tabID, jsCollectCandidates(selectors, limit), &out); err != nil {
		return nil, err
	}
	return out.Candidates, nil
}

// AwaitMediaInsertion is the mutation-wait strategy: it resolves as soon as
// a media element is inserted anywhere under the document root, or with
// whatever exists when the budget expires.
func (c *Client) AwaitMediaInsertion(ctx context.Context, tabID string, selectors []string, waitMS, limit int) ([]CandidateFeatures, error) {
	var out candidateList
	if err := c.EvalOnTab(ctx, tabID, jsAwaitMedia(selectors, waitMS, limit), &out); err != nil {
		return nil, err
	}
	return out.Candidates, nil
}

// CollectFrameCandidates is the frame-probe strategy: media inside
// same-origin iframes, reported with top-window coordinates and the frame
// index path.
func (c *Client) CollectFrameCandidates(ctx context.Context, tabID string, limit int) ([]CandidateFeatures, error) {
	var out candidateList
	if err := c.EvalOnTab(ctx, tabID, jsCollectFrameCandidates(limit), &out); err != nil {
		return nil, err
	}
	return out.Candidates, nil
}

type candidateList struct {
	Candidates []CandidateFeatures `json:"candidates"`
}

// AcceptCandidate installs the per-epoch observers on the chosen element:
// throttled time updates, duration changes, playback errors, visibility
// transitions, and a removal watch. Returns the element's duration when
// already known, 0 otherwise. The observers unregister themselves when the
// epoch advances.
func (c *Client) AcceptCandidate(ctx context.Context, tabID, handle string, epoch int) (float64, error) {
	var out struct {
		Duration float64 `json:"duration"`
	}
	if err := c.EvalOnTab(ctx, tabID, jsAcceptCandidate(handle, epoch), &out); err != nil {
		return 0, err
	}
	slog.Debug("media candidate accepted", "tab_id", tabID, "handle", handle, "epoch", epoch, "duration", out.Duration)
	return out.Duration, nil
}

// Accepted stamps a detected candidate for bookkeeping.
func Accepted(cand MediaCandidate) MediaCandidate {
	cand.AcceptedAt = time.Now()
	return cand
}

// jsCollectorHelpers defines _consider/_collect shared by the immediate
// and mutation-wait probes. Adapter selectors run first so a platform's
// known player wins tag-order ties against incidental media.
const jsCollectorHelpers = `
var seen = {};
var out = [];
var _consider = function(el, fp) {
  if (!el) return;
  var tn = (el.tagName || "").toUpperCase();
  if (tn !== "VIDEO" && tn !== "AUDIO") return;
  var h = vm.tag(el);
  if (!h || seen[h]) return;
  seen[h] = true;
  if (out.length < limit) out.push(vm.mediaFeatures(el, fp));
};
var _collect = function() {
  var roots = vm.shadowRoots(document, 64);
  for (var i = 0; i < sels.length; i++) {
    var found = vm.queryAll(sels[i], roots, limit * 2);
    for (var j = 0; j < found.length; j++) _consider(found[j], "");
  }
  var med = vm.media(roots, limit * 2);
  for (var k = 0; k < med.length; k++) _consider(med[k], "");
  return out;
};
`

func jsCollectCandidates(selectors []string, limit int) string {
	return wrapJSEval(jsVMGuard + fmt.Sprintf(`
var sels = %s;
var limit = %d;
`, jsJSON(selectors), limit) + jsCollectorHelpers + `
_collect();
return JSON.stringify({ok:true,data:{candidates:out}});
`)
}

func jsAwaitMedia(selectors []string, waitMS, limit int) string {
	return wrapJSEvalAsync(jsVMGuard + fmt.Sprintf(`
var sels = %s;
var limit = %d;
var waitMS = %d;
`, jsJSON(selectors), limit, waitMS) + jsCollectorHelpers + `
_collect();
if (out.length > 0) return JSON.stringify({ok:true,data:{candidates:out}});
await new Promise(function(resolve) {
  var done = false;
  var mo = null;
  var timer = null;
  var finish = function() {
    if (done) return;
    done = true;
    if (mo) { try { mo.disconnect(); } catch(_) {} }
    if (timer) clearTimeout(timer);
    resolve(null);
  };
  try {
    mo = new MutationObserver(function(muts) {
      for (var i = 0; i < muts.length; i++) {
        var added = muts[i].addedNodes;
        for (var j = 0; j < added.length; j++) {
          var n = added[j];
          if (n.nodeType !== 1) continue;
          var tn = (n.tagName || "").toUpperCase();
          if (tn === "VIDEO" || tn === "AUDIO") { finish(); return; }
          try {
            if (n.querySelector && n.querySelector("video,audio")) { finish(); return; }
          } catch(_) {}
        }
      }
    });
    mo.observe(document.documentElement, {childList: true, subtree: true});
  } catch(_) { finish(); return; }
  timer = setTimeout(finish, waitMS);
});
seen = {};
out = [];
_collect();
return JSON.stringify({ok:true,data:{candidates:out}});
`)
}

func jsCollectFrameCandidates(limit int) string {
	return wrapJSEval(jsVMGuard + fmt.Sprintf(`
var limit = %d;
`, limit) + `
var out = [];
var frames = vm.frameDocs(16);
for (var i = 0; i < frames.length && out.length < limit; i++) {
  var roots = vm.shadowRoots(frames[i].doc, 16);
  var med = vm.media(roots, limit - out.length);
  for (var j = 0; j < med.length; j++) {
    out.push(vm.mediaFeatures(med[j], frames[i].path));
  }
}
return JSON.stringify({ok:true,data:{candidates:out}});
`)
}

func jsAcceptCandidate(handle string, epoch int) string {
	return wrapJSEval(jsVMGuard + fmt.Sprintf(`
var h = %s;
var e = %d;
`, jsString(handle), epoch) + `
if (vm.epoch !== e) return JSON.stringify({ok:false,error_code:"` + types.CodeEvalFailure + `",error_message:"stale epoch"});
var el = vm.byHandle(h);
if (!el) return JSON.stringify({ok:false,error_code:"` + types.CodeMediaNotFound + `",error_message:"media handle not found"});

var _dur = function() {
  try { if (isFinite(el.duration) && el.duration > 0) return el.duration; } catch(_) {}
  return 0;
};

var lastEmit = 0;
var onTime = function() {
  var now = Date.now();
  if (now - lastEmit < 900) return;
  lastEmit = now;
  vm.emit("time", {handle: h, time: el.currentTime || 0, duration: _dur()});
};
var onSeeked = function() { lastEmit = 0; onTime(); };
var onDur = function() { vm.emit("duration", {handle: h, duration: _dur()}); };
var onErr = function() {
  var me = el.error;
  vm.emit("media_error", {
    handle: h,
    code: me ? me.code : 0,
    message: me && me.message ? String(me.message).substring(0, 200) : ""
  });
};
el.addEventListener("timeupdate", onTime);
el.addEventListener("seeked", onSeeked);
el.addEventListener("durationchange", onDur);
el.addEventListener("error", onErr);
vm.onCleanup(e, function() {
  el.removeEventListener("timeupdate", onTime);
  el.removeEventListener("seeked", onSeeked);
  el.removeEventListener("durationchange", onDur);
  el.removeEventListener("error", onErr);
});

try {
  var io = new IntersectionObserver(function(entries) {
    var last = entries[entries.length - 1];
    vm.emit("visibility", {handle: h, visible: last ? last.intersectionRatio : 0});
  }, {threshold: [0, 0.2, 0.6, 1]});
  io.observe(el);
  vm.onCleanup(e, function() { try { io.disconnect(); } catch(_) {} });
} catch(_) {}

// Removal watch. Coalesced: mutation storms on player pages are constant,
// the isConnected check runs at most every 250ms.
var doc = el.ownerDocument || document;
var checking = false;
var mo = new MutationObserver(function() {
  if (checking) return;
  checking = true;
  setTimeout(function() {
    checking = false;
    if (!el.isConnected) {
      vm.emit("media_gone", {handle: h});
      try { mo.disconnect(); } catch(_) {}
    }
  }, 250);
});
mo.observe(doc.documentElement || doc, {childList: true, subtree: true});
vm.onCleanup(e, function() { try { mo.disconnect(); } catch(_) {} });

return JSON.stringify({ok:true,data:{duration:_dur()}});
`)
}
