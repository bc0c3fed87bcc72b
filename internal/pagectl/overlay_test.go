package pagectl

import (
	"context"
	"errors"
	"testing"

	"github.com/stillpointlabs/vidmark/internal/types"
)

type fakeOverlayProbes struct {
	ensures   int
	renders   [][]MarkerPlacement
	clears    int
	ensureErr error
	renderErr error
}

func (f *fakeOverlayProbes) EnsureOverlay(_ context.Context, _, _ string, _ int) (Rect, error) {
	f.ensures++
	if f.ensureErr != nil {
		return Rect{}, f.ensureErr
	}
	return Rect{X: 10, Y: 500, W: 800, H: 6}, nil
}

func (f *fakeOverlayProbes) RenderMarkers(_ context.Context, _, _ string, items []MarkerPlacement, _ int) (int, error) {
	if f.renderErr != nil {
		return 0, f.renderErr
	}
	cp := make([]MarkerPlacement, len(items))
	copy(cp, items)
	f.renders = append(f.renders, cp)
	return len(items), nil
}

func (f *fakeOverlayProbes) ClearOverlay(context.Context, string) error {
	f.clears++
	return nil
}

func marker(id string, pos float64) types.Marker {
	return types.Marker{ID: id, ItemKey: "youtube:abc123def45", Position: pos, Category: types.CategoryManual, Text: "note " + id}
}

func readyOverlay(probes *fakeOverlayProbes) *Overlay {
	o := NewOverlay(probes, "tab-1")
	o.Reset(3, ScrubberInfo{Handle: "vm-3-7", Strategy: ScrubStrategyAdapter, Rect: Rect{W: 800, H: 6}})
	return o
}

func TestOverlayWaitsForDuration(t *testing.T) {
	probes := &fakeOverlayProbes{}
	o := readyOverlay(probes)
	o.Upsert(marker("m1", 30))

	if err := o.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() = %v", err)
	}
	if probes.ensures != 1 {
		t.Fatalf("ensures = %d, want 1", probes.ensures)
	}
	if len(probes.renders) != 0 {
		t.Fatalf("rendered before duration known: %v", probes.renders)
	}

	if !o.SetDuration(600) {
		t.Fatal("SetDuration(600) = false, want true with pending markers")
	}
	if err := o.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() after duration = %v", err)
	}
	if len(probes.renders) != 1 {
		t.Fatalf("renders = %d, want 1", len(probes.renders))
	}
	got := probes.renders[0]
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("placements = %+v", got)
	}
	if got[0].Fraction != 30.0/600.0 {
		t.Fatalf("fraction = %v, want %v", got[0].Fraction, 30.0/600.0)
	}
}

func TestOverlayReflowIsIdempotent(t *testing.T) {
	probes := &fakeOverlayProbes{}
	o := readyOverlay(probes)
	o.SetDuration(600)
	o.Upsert(marker("m1", 30))
	o.Upsert(marker("m2", 450))

	for i := 0; i < 3; i++ {
		if err := o.Sync(context.Background()); err != nil {
			t.Fatalf("Sync() pass %d = %v", i, err)
		}
	}

	if len(probes.renders) != 3 {
		t.Fatalf("renders = %d, want 3", len(probes.renders))
	}
	first := probes.renders[0]
	for i, r := range probes.renders {
		if len(r) != len(first) {
			t.Fatalf("pass %d rendered %d markers, want %d", i, len(r), len(first))
		}
		for j := range r {
			if r[j] != first[j] {
				t.Fatalf("pass %d placement %d = %+v, want %+v", i, j, r[j], first[j])
			}
		}
	}
	if first[0].ID != "m1" || first[1].ID != "m2" {
		t.Fatalf("placements unordered: %+v", first)
	}
}

func TestOverlayReattachesFromData(t *testing.T) {
	probes := &fakeOverlayProbes{}
	o := readyOverlay(probes)
	o.SetDuration(600)
	o.Upsert(marker("m1", 30))

	if err := o.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() = %v", err)
	}
	if probes.ensures != 1 {
		t.Fatalf("ensures = %d, want 1", probes.ensures)
	}

	// Page chrome re-rendered and took the container with it.
	o.Detached()

	if err := o.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() after loss = %v", err)
	}
	if probes.ensures != 2 {
		t.Fatalf("ensures = %d, want 2 after reattach", probes.ensures)
	}
	last := probes.renders[len(probes.renders)-1]
	if len(last) != 1 || last[0].ID != "m1" {
		t.Fatalf("markers did not reappear from data: %+v", last)
	}
}

func TestOverlayClampsPlacements(t *testing.T) {
	probes := &fakeOverlayProbes{}
	o := readyOverlay(probes)
	o.SetDuration(600)
	o.Upsert(marker("past-end", 700))
	o.Upsert(marker("negative", -5))

	got := o.Placements()
	if len(got) != 2 {
		t.Fatalf("placements = %d, want 2", len(got))
	}
	if got[0].ID != "negative" || got[0].Fraction != 0 {
		t.Fatalf("negative placement = %+v, want fraction 0", got[0])
	}
	if got[1].ID != "past-end" || got[1].Fraction != 1 {
		t.Fatalf("past-end placement = %+v, want fraction 1", got[1])
	}
}

func TestOverlayMarkerDataIsAuthoritative(t *testing.T) {
	probes := &fakeOverlayProbes{}
	o := readyOverlay(probes)
	o.Upsert(marker("m1", 30))
	o.Upsert(marker("m2", 60))

	// Upsert with the same id replaces, never duplicates.
	m1 := marker("m1", 45)
	o.Upsert(m1)
	ms := o.Markers()
	if len(ms) != 2 {
		t.Fatalf("markers = %d, want 2", len(ms))
	}
	if ms[0].ID != "m1" || ms[0].Position != 45 {
		t.Fatalf("markers[0] = %+v, want m1 at 45", ms[0])
	}

	if !o.Remove("m2") {
		t.Fatal("Remove(m2) = false, want true")
	}
	if o.Remove("m2") {
		t.Fatal("Remove(m2) twice = true, want false")
	}
	if got := len(o.Markers()); got != 1 {
		t.Fatalf("markers after remove = %d, want 1", got)
	}
}

func TestOverlayResetKeepsMarkersDropsAttachment(t *testing.T) {
	probes := &fakeOverlayProbes{}
	o := readyOverlay(probes)
	o.SetDuration(600)
	o.Upsert(marker("m1", 30))
	if err := o.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() = %v", err)
	}

	o.Reset(4, ScrubberInfo{Handle: "vm-4-2", Strategy: ScrubStrategyClimb})

	if got := len(o.Markers()); got != 1 {
		t.Fatalf("markers after Reset = %d, want 1", got)
	}
	if err := o.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() after Reset = %v", err)
	}
	if probes.ensures != 2 {
		t.Fatalf("ensures = %d, want 2 after rebind", probes.ensures)
	}
}

func TestOverlaySyncWithoutScrubber(t *testing.T) {
	probes := &fakeOverlayProbes{}
	o := NewOverlay(probes, "tab-1")

	err := o.Sync(context.Background())
	if err == nil {
		t.Fatal("Sync() without scrubber = nil, want error")
	}
	var coded *types.CodedError
	if !errors.As(err, &coded) || coded.Code != types.CodeScrubberNotFound {
		t.Fatalf("err = %v, want %s", err, types.CodeScrubberNotFound)
	}
}

func TestOverlayEnsureFailureStaysDetached(t *testing.T) {
	probes := &fakeOverlayProbes{ensureErr: types.NewError(types.CodeScrubberNotFound, "scrubber handle not found", nil)}
	o := readyOverlay(probes)
	o.SetDuration(600)
	o.Upsert(marker("m1", 30))

	if err := o.Sync(context.Background()); err == nil {
		t.Fatal("Sync() = nil, want ensure error")
	}

	// Scrubber relocated: the next Sync attaches cleanly.
	probes.ensureErr = nil
	if err := o.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() after recovery = %v", err)
	}
	if probes.ensures != 2 || len(probes.renders) != 1 {
		t.Fatalf("ensures = %d renders = %d, want 2 and 1", probes.ensures, len(probes.renders))
	}
}
