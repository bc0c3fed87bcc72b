package pagectl

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stillpointlabs/vidmark/internal/types"
)

// LocateScrubber finds the seek bar for the tracked media element, running
// the locator strategies in priority order inside a single probe: adapter
// selectors, class and attribute patterns near the media, an ancestor
// climb for bar-shaped children, shadow-root recursion, semantic slider
// and progress roles, and finally hit-testing sample points along the
// media's bottom band.
func (c *Client) LocateScrubber(ctx context.Context, tabID, mediaHandle string, adapterSelectors []string, climbDepth, samplePoints int) (ScrubberInfo, error) {
	if climbDepth <= 0 {
		climbDepth = 6
	}
	if samplePoints <= 0 {
		samplePoints = 9
	}
	var out ScrubberInfo
	if err := c.EvalOnTab(ctx, tabID, jsLocateScrubber(mediaHandle, adapterSelectors, climbDepth, samplePoints), &out); err != nil {
		return ScrubberInfo{}, err
	}
	slog.Info("scrubber located", "tab_id", tabID, "strategy", out.Strategy, "handle", out.Handle,
		"w", out.Rect.W, "h", out.Rect.H)
	return out, nil
}

func jsLocateScrubber(mediaHandle string, adapterSelectors []string, climbDepth, samplePoints int) string {
	return wrapJSEval(jsVMGuard + fmt.Sprintf(`
var h = %s;
var sels = %s;
var climbDepth = %d;
var samples = %d;
`, jsString(mediaHandle), jsJSON(adapterSelectors), climbDepth, samplePoints) + `
var el = vm.byHandle(h);
if (!el) return JSON.stringify({ok:false,error_code:"` + types.CodeMediaNotFound + `",error_message:"media handle not found"});
var mr = el.getBoundingClientRect();

var _visible = function(n) {
  var r = n.getBoundingClientRect();
  return r.width > 0 && r.height > 0 && !vm.hidden(n);
};

// A seek bar is a wide, short strip at least a quarter as wide as the
// media box.
var _barLike = function(n) {
  var r = n.getBoundingClientRect();
  if (r.width <= 0 || r.height <= 0 || r.height > 32) return false;
  if (r.width < r.height * 8) return false;
  if (mr.width > 0 && r.width < mr.width * 0.25) return false;
  return !vm.hidden(n);
};

var pat = /(progress|scrub|seek|timeline|slider|track)/i;
var _patMatch = function(n) {
  var cls = "";
  try { cls = String(n.className && n.className.baseVal !== undefined ? n.className.baseVal : n.className || ""); } catch(_) {}
  if (pat.test(cls)) return true;
  var attrs = ["data-a-target", "data-testid", "aria-label", "id"];
  for (var ai = 0; ai < attrs.length; ai++) {
    var v = null;
    try { v = n.getAttribute ? n.getAttribute(attrs[ai]) : null; } catch(_) {}
    if (v && pat.test(v)) return true;
  }
  return false;
};

var _roleMatch = function(n) {
  var role = null;
  try { role = n.getAttribute ? n.getAttribute("role") : null; } catch(_) {}
  if (role === "slider" || role === "progressbar") return true;
  var tn = (n.tagName || "").toUpperCase();
  if (tn === "PROGRESS") return true;
  if (tn === "INPUT" && n.type === "range") return true;
  return false;
};

var _result = function(n, strat) {
  return JSON.stringify({ok:true,data:{handle:vm.tag(n),strategy:strat,rect:vm.topRect(n)}});
};

var roots = vm.shadowRoots(document, 64);

// 1. Site-specific selectors, trusted as-is when visible.
for (var i = 0; i < sels.length; i++) {
  var found = vm.queryAll(sels[i], roots, 8);
  for (var j = 0; j < found.length; j++) {
    if (_visible(found[j])) return _result(found[j], "` + ScrubStrategyAdapter + `");
  }
}

// 2. Pattern-named bars inside the media's ancestors, nearest level first.
var anc = el.parentElement;
var depth = 0;
while (anc && depth < climbDepth) {
  var all = [];
  try { all = anc.querySelectorAll("*"); } catch(_) {}
  for (var k = 0; k < all.length && k < 400; k++) {
    if (_patMatch(all[k]) && _barLike(all[k])) return _result(all[k], "` + ScrubStrategyPattern + `");
  }
  anc = anc.parentElement;
  depth += 1;
}

// 3. Any bar-shaped child near the media, widest ratio at the nearest
// level wins.
anc = el.parentElement;
depth = 0;
while (anc && depth < climbDepth) {
  var bestBar = null;
  var bestRatio = 0;
  var kids = [];
  try { kids = anc.querySelectorAll("*"); } catch(_) {}
  for (var m = 0; m < kids.length && m < 400; m++) {
    if (!_barLike(kids[m])) continue;
    var kr = kids[m].getBoundingClientRect();
    var ratio = kr.width / Math.max(kr.height, 1);
    if (ratio > bestRatio) { bestRatio = ratio; bestBar = kids[m]; }
  }
  if (bestBar) return _result(bestBar, "` + ScrubStrategyClimb + `");
  anc = anc.parentElement;
  depth += 1;
}

// 4. Custom-element players keep their controls in shadow roots.
for (var si = 0; si < roots.length; si++) {
  if (roots[si] === document) continue;
  var cand = [];
  try { cand = roots[si].querySelectorAll("*"); } catch(_) { continue; }
  for (var ci = 0; ci < cand.length && ci < 400; ci++) {
    var sn = cand[ci];
    if ((_patMatch(sn) || _roleMatch(sn)) && _barLike(sn)) return _result(sn, "` + ScrubStrategyShadow + `");
  }
}

// 5. Semantic sliders and progress bars, the one nearest the media's
// bottom edge with horizontal overlap.
var sem = vm.queryAll("[role=\"slider\"],[role=\"progressbar\"],progress,input[type=\"range\"]", roots, 24);
var bestSem = null;
var bestDist = 1e9;
for (var si2 = 0; si2 < sem.length; si2++) {
  var n2 = sem[si2];
  if (!_visible(n2)) continue;
  var r2 = n2.getBoundingClientRect();
  var ox = Math.min(r2.right, mr.right) - Math.max(r2.left, mr.left);
  if (ox <= 0) continue;
  var dy = Math.abs((r2.top + r2.height / 2) - mr.bottom);
  if (dy < bestDist) { bestDist = dy; bestSem = n2; }
}
if (bestSem && bestDist <= Math.max(mr.height, 200)) return _result(bestSem, "` + ScrubStrategySemantic + `");

// 6. Hit-test sample points along the bottom band of the media box and
// climb from each hit looking for a bar.
if (samples > 0 && mr.width > 0 && mr.height > 0) {
  var y = Math.min(mr.bottom - 6, mr.top + mr.height * 0.92);
  var doc2 = el.ownerDocument || document;
  for (var pi = 1; pi <= samples; pi++) {
    var x = mr.left + (mr.width * pi) / (samples + 1);
    var hitN = null;
    try { hitN = doc2.elementFromPoint(x, y); } catch(_) {}
    var up = 0;
    while (hitN && up < 4) {
      if (hitN !== el && _barLike(hitN)) return _result(hitN, "` + ScrubStrategySpatial + `");
      hitN = hitN.parentElement;
      up += 1;
    }
  }
}

return JSON.stringify({ok:false,error_code:"` + types.CodeScrubberNotFound + `",error_message:"no scrubber found near media"});
`)
}
