package pagectl

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/stillpointlabs/vidmark/internal/types"
)

// MarkerPlacement is one rendered marker position, precomputed in Go so
// the render probe stays dumb.
type MarkerPlacement struct {
	ID       string  `json:"id"`
	Fraction float64 `json:"fraction"`
	Position float64 `json:"position"`
	Category string  `json:"category"`
	Title    string  `json:"title"`
}

// overlayProbes is the page-side surface the overlay state machine drives.
// Narrow so tests can fake the page.
type overlayProbes interface {
	EnsureOverlay(ctx context.Context, tabID, scrubberHandle string, epoch int) (Rect, error)
	RenderMarkers(ctx context.Context, tabID, scrubberHandle string, items []MarkerPlacement, epoch int) (int, error)
	ClearOverlay(ctx context.Context, tabID string) error
}

// Overlay owns the authoritative marker set for one tab and mirrors it
// into the page. Rendered nodes are disposable: any loss of the container
// or resize of the scrubber is repaired by re-running Sync from this
// state, never by reading the page back.
type Overlay struct {
	probes overlayProbes
	tabID  string

	mu       sync.Mutex
	epoch    int
	scrubber ScrubberInfo
	duration float64
	markers  map[string]types.Marker
	attached bool
}

func NewOverlay(probes overlayProbes, tabID string) *Overlay {
	return &Overlay{
		probes:  probes,
		tabID:   tabID,
		markers: make(map[string]types.Marker),
	}
}

// Reset rebinds the overlay to a fresh epoch and scrubber after
// re-detection. Marker data survives; the rendered container does not.
func (o *Overlay) Reset(epoch int, scrubber ScrubberInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.epoch = epoch
	o.scrubber = scrubber
	o.attached = false
}

// SetDuration records the media runtime. Returns true when this call just
// made pending markers renderable, so the caller knows to Sync.
func (o *Overlay) SetDuration(d float64) bool {
	if d <= 0 {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	hadNone := o.duration <= 0
	changed := o.duration != d
	o.duration = d
	return changed && hadNone && len(o.markers) > 0
}

func (o *Overlay) Duration() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.duration
}

// SetMarkers replaces the whole marker set (item switch, store load).
func (o *Overlay) SetMarkers(ms []types.Marker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.markers = make(map[string]types.Marker, len(ms))
	for _, m := range ms {
		o.markers[m.ID] = m
	}
}

// Upsert adds or updates one marker.
func (o *Overlay) Upsert(m types.Marker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.markers[m.ID] = m
}

// Remove deletes a marker by id, reporting whether it existed.
func (o *Overlay) Remove(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.markers[id]
	delete(o.markers, id)
	return ok
}

// Markers returns the marker set ordered by position.
func (o *Overlay) Markers() []types.Marker {
	o.mu.Lock()
	out := make([]types.Marker, 0, len(o.markers))
	for _, m := range o.markers {
		out = append(out, m)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Detached flags the rendered container as gone so the next Sync rebuilds
// it. Called on container_lost events.
func (o *Overlay) Detached() {
	o.mu.Lock()
	o.attached = false
	o.mu.Unlock()
}

// Placements computes the fractional positions for the current duration.
// Empty until the duration is known; markers past the end clamp to 1.
func (o *Overlay) Placements() []MarkerPlacement {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.placementsLocked()
}

func (o *Overlay) placementsLocked() []MarkerPlacement {
	if o.duration <= 0 {
		return nil
	}
	out := make([]MarkerPlacement, 0, len(o.markers))
	for _, m := range o.markers {
		frac := m.Position / o.duration
		if frac < 0 {
			frac = 0
		}
		if frac > 1 {
			frac = 1
		}
		out = append(out, MarkerPlacement{
			ID:       m.ID,
			Fraction: frac,
			Position: m.Position,
			Category: m.Category,
			Title:    m.Text,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Fraction != out[j].Fraction {
			return out[i].Fraction < out[j].Fraction
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Sync makes the page match the marker data: attaches the container if it
// is missing, then renders every placeable marker. Idempotent.
func (o *Overlay) Sync(ctx context.Context) error {
	o.mu.Lock()
	scrubber := o.scrubber
	epoch := o.epoch
	attached := o.attached
	placements := o.placementsLocked()
	o.mu.Unlock()

	if scrubber.Handle == "" {
		return types.NewError(types.CodeScrubberNotFound, "overlay has no scrubber", nil)
	}

	if !attached {
		if _, err := o.probes.EnsureOverlay(ctx, o.tabID, scrubber.Handle, epoch); err != nil {
			return err
		}
		o.mu.Lock()
		o.attached = true
		o.mu.Unlock()
	}

	if len(placements) == 0 {
		return nil
	}
	n, err := o.probes.RenderMarkers(ctx, o.tabID, scrubber.Handle, placements, epoch)
	if err != nil {
		return err
	}
	slog.Debug("overlay synced", "tab_id", o.tabID, "rendered", n, "markers", len(placements))
	return nil
}

// Clear removes the rendered container from the page. Marker data stays;
// callers drop it separately when the item changes.
func (o *Overlay) Clear(ctx context.Context) error {
	o.mu.Lock()
	o.attached = false
	o.mu.Unlock()
	return o.probes.ClearOverlay(ctx, o.tabID)
}

// EnsureOverlay creates (or finds) the marker container inside the
// scrubber and wires the epoch-scoped resize and removal observers.
// Returns the scrubber's current rect.
func (c *Client) EnsureOverlay(ctx context.Context, tabID, scrubberHandle string, epoch int) (Rect, error) {
	var out struct {
		Rect Rect `json:"rect"`
	}
	if err := c.EvalOnTab(ctx, tabID, jsEnsureOverlay(scrubberHandle, epoch), &out); err != nil {
		return Rect{}, err
	}
	return out.Rect, nil
}

// RenderMarkers replaces the container's children with one node per
// placement. Returns the rendered count.
func (c *Client) RenderMarkers(ctx context.Context, tabID, scrubberHandle string, items []MarkerPlacement, epoch int) (int, error) {
	var out struct {
		Rendered int `json:"rendered"`
	}
	if err := c.EvalOnTab(ctx, tabID, jsRenderMarkers(scrubberHandle, items, epoch), &out); err != nil {
		return 0, err
	}
	return out.Rendered, nil
}

// ClearOverlay removes every overlay container in the tab, including any
// orphaned by scrubber churn.
func (c *Client) ClearOverlay(ctx context.Context, tabID string) error {
	return c.EvalOnTab(ctx, tabID, jsClearOverlay(), nil)
}

func jsEnsureOverlay(scrubberHandle string, epoch int) string {
	return wrapJSEval(jsVMGuard + fmt.Sprintf(`
var sh = %s;
var e = %d;
`, jsString(scrubberHandle), epoch) + `
if (vm.epoch !== e) return JSON.stringify({ok:false,error_code:"` + types.CodeEvalFailure + `",error_message:"stale epoch"});
var bar = vm.byHandle(sh);
if (!bar) return JSON.stringify({ok:false,error_code:"` + types.CodeScrubberNotFound + `",error_message:"scrubber handle not found"});
var doc = bar.ownerDocument || document;

var c = null;
for (var i = 0; i < bar.children.length; i++) {
  if (bar.children[i].getAttribute && bar.children[i].getAttribute("data-vidmark-overlay")) { c = bar.children[i]; break; }
}
if (!c) {
  c = doc.createElement("div");
  c.setAttribute("data-vidmark-overlay", "1");
  c.style.cssText = "position:absolute;left:0;top:-6px;width:100%;height:0;overflow:visible;pointer-events:none;z-index:2147483646;";
  try {
    var st = (doc.defaultView || window).getComputedStyle(bar);
    if (st && st.position === "static") bar.style.position = "relative";
  } catch(_) {}
  bar.appendChild(c);
}

// Observers register once per epoch.
if (c.__vmWired !== e) {
  c.__vmWired = e;
  try {
    var ro = new ResizeObserver(function() {
      var r = bar.getBoundingClientRect();
      vm.emit("scrubber_resize", {w: r.width, h: r.height});
    });
    ro.observe(bar);
    vm.onCleanup(e, function() { try { ro.disconnect(); } catch(_) {} });
  } catch(_) {}
  var checking = false;
  var mo = new MutationObserver(function() {
    if (checking) return;
    checking = true;
    setTimeout(function() {
      checking = false;
      if (!c.isConnected) {
        vm.emit("container_lost", {});
        try { mo.disconnect(); } catch(_) {}
      }
    }, 250);
  });
  mo.observe(doc.documentElement || doc, {childList: true, subtree: true});
  vm.onCleanup(e, function() { try { mo.disconnect(); } catch(_) {} });
}

return JSON.stringify({ok:true,data:{rect:vm.topRect(bar)}});
`)
}

func jsRenderMarkers(scrubberHandle string, items []MarkerPlacement, epoch int) string {
	return wrapJSEval(jsVMGuard + fmt.Sprintf(`
var sh = %s;
var items = %s;
var e = %d;
`, jsString(scrubberHandle), jsJSON(items), epoch) + `
if (vm.epoch !== e) return JSON.stringify({ok:false,error_code:"` + types.CodeEvalFailure + `",error_message:"stale epoch"});
var bar = vm.byHandle(sh);
if (!bar) return JSON.stringify({ok:false,error_code:"` + types.CodeScrubberNotFound + `",error_message:"scrubber handle not found"});
var c = null;
for (var i = 0; i < bar.children.length; i++) {
  if (bar.children[i].getAttribute && bar.children[i].getAttribute("data-vidmark-overlay")) { c = bar.children[i]; break; }
}
if (!c) return JSON.stringify({ok:false,error_code:"` + types.CodeEvalFailure + `",error_message:"overlay container missing"});
var doc = bar.ownerDocument || document;

while (c.firstChild) c.removeChild(c.firstChild);
var rendered = 0;
for (var j = 0; j < items.length; j++) {
  (function(it) {
    var mEl = doc.createElement("div");
    mEl.setAttribute("data-vidmark-marker", it.id);
    mEl.style.cssText = "position:absolute;bottom:-2px;width:8px;height:12px;margin-left:-4px;cursor:pointer;pointer-events:auto;border-radius:2px;opacity:0.9;";
    mEl.style.left = (it.fraction * 100).toFixed(3) + "%";
    mEl.style.background = it.category === "voice" ? "#e8b339" : "#4f9cf7";
    if (it.title) mEl.title = it.title;
    mEl.addEventListener("click", function(ev) {
      try { ev.stopPropagation(); ev.preventDefault(); } catch(_) {}
      vm.emit("marker_click", {marker_id: it.id, position: it.position});
    });
    c.appendChild(mEl);
    rendered += 1;
  })(items[j]);
}
return JSON.stringify({ok:true,data:{rendered:rendered}});
`)
}

func jsClearOverlay() string {
	return wrapJSEval(jsVMGuard + `
var removed = 0;
var roots = vm.shadowRoots(document, 64);
var found = vm.queryAll("[data-vidmark-overlay]", roots, 16);
var frames = vm.frameDocs(16);
for (var i = 0; i < frames.length; i++) {
  found = found.concat(vm.queryAll("[data-vidmark-overlay]", vm.shadowRoots(frames[i].doc, 16), 8));
}
for (var j = 0; j < found.length; j++) {
  try { found[j].remove(); removed += 1; } catch(_) {}
}
return JSON.stringify({ok:true,data:{removed:removed}});
`)
}
