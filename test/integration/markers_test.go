//go:build integration

package integration

import (
	"net/http"
	"testing"
)

type marker struct {
	ID       string  `json:"id"`
	ItemKey  string  `json:"item_key"`
	Position float64 `json:"position"`
	Category string  `json:"category"`
	Text     string  `json:"text"`
}

func TestMarkerLifecycle(t *testing.T) {
	resp := env.POST(t, env.tabPath("markers"), map[string]any{
		"position": 7.5,
		"text":     "integration probe",
	})
	requireStatus(t, resp, http.StatusOK)
	created := decodeJSON[marker](t, resp)

	if created.ID == "" {
		t.Fatal("created marker has no id")
	}
	// Cleanup for the failure paths below; a harmless 404 once the happy
	// path has already deleted it.
	defer func() { drain(env.DELETE(t, "/api/v1/markers/"+created.ID)) }()

	requireField(t, created.Category, "manual", "category")
	requireField(t, created.Position, 7.5, "position")
	if created.ItemKey == "" {
		t.Fatal("marker not bound to an item")
	}

	resp = env.GET(t, env.tabPath("markers"))
	requireStatus(t, resp, http.StatusOK)
	listing := decodeJSON[struct {
		Markers []marker `json:"markers"`
	}](t, resp)
	found := false
	for _, m := range listing.Markers {
		if m.ID == created.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("marker %s missing from listing of %d markers", created.ID, len(listing.Markers))
	}

	del := env.DELETE(t, "/api/v1/markers/"+created.ID)
	requireStatus(t, del, http.StatusOK)
	drain(del)

	again := env.DELETE(t, "/api/v1/markers/"+created.ID)
	defer drain(again)
	if again.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want %d", again.StatusCode, http.StatusNotFound)
	}
}

func TestMarkerCountReflectedInStatus(t *testing.T) {
	before := getMedia(t)

	resp := env.POST(t, env.tabPath("markers"), map[string]any{"position": 2.0})
	requireStatus(t, resp, http.StatusOK)
	created := decodeJSON[marker](t, resp)
	defer func() { drain(env.DELETE(t, "/api/v1/markers/"+created.ID)) }()

	after := getMedia(t)
	if after.MarkerCount != before.MarkerCount+1 {
		t.Fatalf("marker_count = %d after create, want %d", after.MarkerCount, before.MarkerCount+1)
	}
}

func TestSignalCreatesVoiceMarker(t *testing.T) {
	type signalResult struct {
		Status string  `json:"status"`
		Marker *marker `json:"marker"`
	}

	resp := env.POST(t, env.tabPath("signal"), map[string]any{
		"type":      "annotation_start",
		"timestamp": 3.25,
	})
	requireStatus(t, resp, http.StatusOK)
	start := decodeJSON[signalResult](t, resp)
	requireField(t, start.Status, "anchored", "status")
	if start.Marker != nil {
		t.Fatal("start signal should not create a marker")
	}

	resp = env.POST(t, env.tabPath("signal"), map[string]any{"type": "annotation_stop"})
	requireStatus(t, resp, http.StatusOK)
	stop := decodeJSON[signalResult](t, resp)
	requireField(t, stop.Status, "marker_created", "status")
	if stop.Marker == nil {
		t.Fatal("stop signal did not return a marker")
	}
	defer func() { drain(env.DELETE(t, "/api/v1/markers/"+stop.Marker.ID)) }()

	requireField(t, stop.Marker.Category, "voice", "category")
	requireField(t, stop.Marker.Position, 3.25, "position")
}

func TestSignalStopWithoutStartRejected(t *testing.T) {
	resp := env.POST(t, env.tabPath("signal"), map[string]any{"type": "annotation_stop"})
	defer drain(resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}
