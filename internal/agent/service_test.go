package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stillpointlabs/vidmark/internal/fixture"
	"github.com/stillpointlabs/vidmark/internal/lifecycle"
	"github.com/stillpointlabs/vidmark/internal/tabrouter"
	"github.com/stillpointlabs/vidmark/internal/types"
)

func TestStatusAggregatesTabs(t *testing.T) {
	fc := newFakeClient(ytTab("tab-1"), ytTab("tab-2"))
	c, _, router := testCoordinator(t, fc)
	c.syncTabs(context.Background())
	waitTracked(t, c, router, "tab-1")
	waitTracked(t, c, router, "tab-2")

	st := c.Status()
	if st.TabCount != 2 || len(st.Tabs) != 2 {
		t.Fatalf("tab count = %d (%d statuses), want 2", st.TabCount, len(st.Tabs))
	}
	if st.Tabs[0].TabID != "tab-1" || st.Tabs[1].TabID != "tab-2" {
		t.Fatalf("tabs not sorted by id: %q, %q", st.Tabs[0].TabID, st.Tabs[1].TabID)
	}
	if st.Backend {
		t.Fatal("backend reported configured without one")
	}
	if st.ContextCount != 2 {
		t.Fatalf("context count = %d, want 2", st.ContextCount)
	}

	tabs := c.ListTabs()
	if len(tabs) != 2 {
		t.Fatalf("ListTabs len = %d, want 2", len(tabs))
	}
	if tabs[0].Adapter != "youtube" || tabs[0].Item == nil {
		t.Fatalf("tab info = %+v, want youtube adapter with item", tabs[0])
	}
}

func TestSeekValidatesInput(t *testing.T) {
	fc := newFakeClient(ytTab("tab-1"))
	c, _, router := testCoordinator(t, fc)
	c.syncTabs(context.Background())
	waitTracked(t, c, router, "tab-1")

	if _, err := c.Seek(context.Background(), "tab-1", -5); types.ErrorCode(err) != types.CodeValidation {
		t.Fatalf("negative seek error = %v, want %s", err, types.CodeValidation)
	}
	if _, err := c.Seek(context.Background(), "tab-9", 10); types.ErrorCode(err) != types.CodeTabNotFound {
		t.Fatalf("unknown tab error = %v, want %s", err, types.CodeTabNotFound)
	}

	pos, err := c.Seek(context.Background(), "tab-1", 125)
	if err != nil || pos != 125 {
		t.Fatalf("Seek = %v, %v, want 125", pos, err)
	}
}

func TestAddMarkerPersistsAndProjects(t *testing.T) {
	fc := newFakeClient(ytTab("tab-1"))
	c, store, router := testCoordinator(t, fc)
	c.syncTabs(context.Background())
	waitTracked(t, c, router, "tab-1")

	_, ch := c.Subscribe("tab-1")

	m, err := c.AddMarker(context.Background(), "tab-1", 30, "", "  check this part  ")
	if err != nil {
		t.Fatalf("AddMarker: %v", err)
	}
	if m.ID == "" || m.Category != types.CategoryManual {
		t.Fatalf("marker = %+v, want generated id with manual category", m)
	}
	if m.ItemKey != "youtube:dQw4w9WgXcQ" || m.Text != "check this part" {
		t.Fatalf("marker = %+v", m)
	}

	if _, err := store.GetMarker(context.Background(), m.ID); err != nil {
		t.Fatalf("marker not persisted: %v", err)
	}

	markers, err := c.TabMarkers("tab-1")
	if err != nil {
		t.Fatalf("TabMarkers: %v", err)
	}
	found := false
	for _, got := range markers {
		if got.ID == m.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("marker %s not projected on tab, got %+v", m.ID, markers)
	}

	msg := drainFor(t, ch, types.ActionMarkerAdded)
	if msg.Marker == nil || msg.Marker.ID != m.ID {
		t.Fatalf("marker_added message = %+v", msg)
	}
}

func TestAddMarkerWithoutIdentifiedItemFails(t *testing.T) {
	// Page info never resolves, so no item is identified for the tab.
	fc := newFakeClient(ytTab("tab-1"))
	fc.setPageErr(types.NewError(types.CodeEvalFailure, "eval failed", nil))
	c, _, _ := testCoordinator(t, fc)
	c.syncTabs(context.Background())

	waitFor(t, "error state", func() bool {
		st, err := c.TabStatus("tab-1")
		return err == nil && st.State == lifecycle.StateError
	})

	_, err := c.AddMarker(context.Background(), "tab-1", 10, "", "")
	if types.ErrorCode(err) != types.CodeMediaNotFound {
		t.Fatalf("error = %v, want %s", err, types.CodeMediaNotFound)
	}
}

func TestAddMarkerSurvivesMediaLoss(t *testing.T) {
	// Detection failed but the URL still identifies the item; the record
	// is accepted and the overlay catches up when media comes back.
	fc := newFakeClient(ytTab("tab-1"))
	fc.setDetectErr(types.NewError(types.CodeMediaNotFound, "no playable media found", nil))
	c, store, _ := testCoordinator(t, fc)
	c.syncTabs(context.Background())

	waitFor(t, "error state", func() bool {
		st, err := c.TabStatus("tab-1")
		return err == nil && st.State == lifecycle.StateError
	})

	m, err := c.AddMarker(context.Background(), "tab-1", 45, "", "while degraded")
	if err != nil {
		t.Fatalf("AddMarker in error state: %v", err)
	}
	if m.ItemKey != "youtube:dQw4w9WgXcQ" {
		t.Fatalf("marker item = %q, want youtube:dQw4w9WgXcQ", m.ItemKey)
	}
	if _, err := store.GetMarker(context.Background(), m.ID); err != nil {
		t.Fatalf("marker not persisted: %v", err)
	}
}

func TestDeleteMarkerClearsStoreAndOverlay(t *testing.T) {
	fc := newFakeClient(ytTab("tab-1"))
	c, store, router := testCoordinator(t, fc)
	c.syncTabs(context.Background())
	waitTracked(t, c, router, "tab-1")

	m, err := c.AddMarker(context.Background(), "tab-1", 60, types.CategoryManual, "")
	if err != nil {
		t.Fatalf("AddMarker: %v", err)
	}

	if err := c.DeleteMarker(context.Background(), m.ID); err != nil {
		t.Fatalf("DeleteMarker: %v", err)
	}
	if _, err := store.GetMarker(context.Background(), m.ID); types.ErrorCode(err) != types.CodeMarkerNotFound {
		t.Fatalf("store lookup after delete = %v, want %s", err, types.CodeMarkerNotFound)
	}

	markers, err := c.TabMarkers("tab-1")
	if err != nil {
		t.Fatalf("TabMarkers: %v", err)
	}
	for _, got := range markers {
		if got.ID == m.ID {
			t.Fatal("marker still projected on tab after delete")
		}
	}

	if err := c.DeleteMarker(context.Background(), m.ID); types.ErrorCode(err) != types.CodeMarkerNotFound {
		t.Fatalf("second delete error = %v, want %s", err, types.CodeMarkerNotFound)
	}
}

func TestHandleSignalCreatesVoiceMarker(t *testing.T) {
	fc := newFakeClient(ytTab("tab-1"))
	c, store, router := testCoordinator(t, fc)
	c.syncTabs(context.Background())
	waitTracked(t, c, router, "tab-1")

	ts := 12.5
	m, err := c.HandleSignal(context.Background(), "tab-1", types.TriggerSignal{
		Type:      types.SignalAnnotationStart,
		Timestamp: &ts,
	})
	if err != nil {
		t.Fatalf("start signal: %v", err)
	}
	if m != nil {
		t.Fatalf("start signal returned marker %+v, want nil", m)
	}
	if tc, ok := router.Get("tab-1"); !ok || !tc.Recording {
		t.Fatalf("context after start = %+v (ok=%v), want recording", tc, ok)
	}

	m, err = c.HandleSignal(context.Background(), "tab-1", types.TriggerSignal{Type: types.SignalAnnotationStop})
	if err != nil {
		t.Fatalf("stop signal: %v", err)
	}
	if m == nil || m.Category != types.CategoryVoice || m.Position != 12.5 {
		t.Fatalf("stop marker = %+v, want voice marker at 12.5", m)
	}
	if m.ItemKey != "youtube:dQw4w9WgXcQ" {
		t.Fatalf("marker item = %q, want youtube:dQw4w9WgXcQ", m.ItemKey)
	}
	if tc, _ := router.Get("tab-1"); tc.Recording {
		t.Fatal("recording flag still set after stop")
	}
	if _, err := store.GetMarker(context.Background(), m.ID); err != nil {
		t.Fatalf("voice marker not persisted: %v", err)
	}
}

func TestHandleSignalRejectsBadInput(t *testing.T) {
	fc := newFakeClient(ytTab("tab-1"))
	c, _, router := testCoordinator(t, fc)
	c.syncTabs(context.Background())
	waitTracked(t, c, router, "tab-1")

	_, err := c.HandleSignal(context.Background(), "tab-1", types.TriggerSignal{Type: types.SignalAnnotationStop})
	if types.ErrorCode(err) != types.CodeValidation {
		t.Fatalf("unmatched stop error = %v, want %s", err, types.CodeValidation)
	}
	if !strings.Contains(err.Error(), "without a matching start") {
		t.Fatalf("unmatched stop error = %v", err)
	}

	_, err = c.HandleSignal(context.Background(), "tab-1", types.TriggerSignal{Type: "annotation_pause"})
	if types.ErrorCode(err) != types.CodeValidation {
		t.Fatalf("unknown type error = %v, want %s", err, types.CodeValidation)
	}

	_, err = c.HandleSignal(context.Background(), "tab-9", types.TriggerSignal{Type: types.SignalAnnotationStart})
	if types.ErrorCode(err) != types.CodeTabNotFound {
		t.Fatalf("unknown tab error = %v, want %s", err, types.CodeTabNotFound)
	}
}

func TestHandleSignalAnchorsLastKnownPosition(t *testing.T) {
	fc := newFakeClient(ytTab("tab-1"))
	c, _, router := testCoordinator(t, fc)
	c.syncTabs(context.Background())
	waitTracked(t, c, router, "tab-1")

	// Playback position arrives from the page, not the signal.
	fc.emitBinding("tab-1", `{"epoch":1,"kind":"time","time":77.25,"duration":300}`)
	waitFor(t, "status timestamp", func() bool {
		st, err := c.TabStatus("tab-1")
		return err == nil && st.CurrentTime == 77.25
	})

	if _, err := c.HandleSignal(context.Background(), "tab-1", types.TriggerSignal{Type: types.SignalAnnotationStart}); err != nil {
		t.Fatalf("start signal: %v", err)
	}
	m, err := c.HandleSignal(context.Background(), "tab-1", types.TriggerSignal{Type: types.SignalAnnotationStop})
	if err != nil {
		t.Fatalf("stop signal: %v", err)
	}
	if m == nil || m.Position != 77.25 {
		t.Fatalf("marker = %+v, want position 77.25", m)
	}
}

func TestCaptureFixtureSavesPage(t *testing.T) {
	fc := newFakeClient(ytTab("tab-1"))
	store := newFakeMarkerStore()
	router := tabrouter.NewRouter(nil, time.Hour)
	dir := t.TempDir()
	fixtures, err := fixture.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	c := New(Options{
		Config:   testAgentConfig(),
		Client:   fc,
		Router:   router,
		Store:    store,
		Fixtures: fixtures,
	})
	t.Cleanup(c.Stop)
	c.syncTabs(context.Background())
	waitTracked(t, c, router, "tab-1")

	meta, err := c.CaptureFixture(context.Background(), "tab-1", "regression page")
	if err != nil {
		t.Fatalf("CaptureFixture: %v", err)
	}
	if meta.URL != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" || meta.Adapter != "youtube" {
		t.Fatalf("meta = %+v", meta)
	}
	if meta.ItemKey != "youtube:dQw4w9WgXcQ" || meta.Notes != "regression page" {
		t.Fatalf("meta = %+v", meta)
	}
	if meta.SizeBytes == 0 || meta.CreatedAt.IsZero() {
		t.Fatalf("meta missing stamps: %+v", meta)
	}

	html, err := fixtures.ReadHTML(meta.ID)
	if err != nil || !strings.Contains(string(html), "<video") {
		t.Fatalf("ReadHTML = %q, %v", html, err)
	}

	shot, err := os.ReadFile(filepath.Join(dir, meta.ID+".png"))
	if err != nil || string(shot) != "fake-png" {
		t.Fatalf("screenshot = %q, %v", shot, err)
	}
}

func TestForceDetectRecoversParkedTab(t *testing.T) {
	fc := newFakeClient(ytTab("tab-1"))
	fc.setDetectErr(types.NewError(types.CodeMediaNotFound, "no playable media found", nil))
	c, _, router := testCoordinator(t, fc)
	c.syncTabs(context.Background())

	waitFor(t, "exhausted error state", func() bool {
		st, err := c.TabStatus("tab-1")
		return err == nil && st.State == lifecycle.StateError && st.RedetectAttempts >= 3
	})

	fc.setDetectErr(nil)
	if err := c.ForceDetect("tab-1", "operator retry"); err != nil {
		t.Fatalf("ForceDetect: %v", err)
	}
	waitTracked(t, c, router, "tab-1")
}
