package annotations

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stillpointlabs/vidmark/internal/types"
)

func TestFetchMarkersRequestShape(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"markers":[{"id":"m1","item_key":"youtube:dQw4w9WgXcQ","position":12.5,"category":"voice"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 250)
	ms, err := c.FetchMarkers(context.Background(), testItem)
	if err != nil {
		t.Fatalf("FetchMarkers: %v", err)
	}
	if gotPath != "/api/v1/items/youtube:dQw4w9WgXcQ/markers" {
		t.Fatalf("path = %q, want /api/v1/items/youtube:dQw4w9WgXcQ/markers", gotPath)
	}
	if gotQuery != "limit=250" {
		t.Fatalf("query = %q, want limit=250", gotQuery)
	}
	if len(ms) != 1 || ms[0].ID != "m1" || ms[0].Position != 12.5 {
		t.Fatalf("markers = %+v, want one m1 at 12.5", ms)
	}
}

func TestFetchMarkersStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream gone", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0)
	_, err := c.FetchMarkers(context.Background(), testItem)
	if err == nil {
		t.Fatal("FetchMarkers succeeded on 502")
	}
	if got := types.ErrorCode(err); got != types.CodeBackendUnavailable {
		t.Fatalf("error code = %q, want %q", got, types.CodeBackendUnavailable)
	}
}

func TestCreateMarkerPosts(t *testing.T) {
	var gotMethod, gotPath string
	var gotMarker types.Marker
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotMarker); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0)
	m := types.Marker{ID: "m9", ItemKey: testItem.Key(), Position: 77, Category: types.CategoryManual}
	if err := c.CreateMarker(context.Background(), m); err != nil {
		t.Fatalf("CreateMarker: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/v1/markers" {
		t.Fatalf("request = %s %s, want POST /api/v1/markers", gotMethod, gotPath)
	}
	if gotMarker.ID != "m9" || gotMarker.Position != 77 {
		t.Fatalf("posted marker = %+v, want m9 at 77", gotMarker)
	}
}

func TestStreamMarkersDeliversUntilCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer is not a flusher")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		fl.Flush()
		for i, mk := range []string{
			`{"id":"s1","item_key":"youtube:dQw4w9WgXcQ","position":5}`,
			`{"id":"s2","item_key":"youtube:dQw4w9WgXcQ","position":9}`,
		} {
			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", i+1, mk)
			fl.Flush()
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	var got struct {
		mu  sync.Mutex
		ids []string
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewClient(srv.URL, time.Second, 0)
	done := make(chan error, 1)
	go func() {
		done <- c.StreamMarkers(ctx, testItem, func(m types.Marker) {
			got.mu.Lock()
			got.ids = append(got.ids, m.ID)
			got.mu.Unlock()
		})
	}()

	waitFor(t, "stream delivery", func() bool {
		got.mu.Lock()
		defer got.mu.Unlock()
		return len(got.ids) == 2
	})
	got.mu.Lock()
	if got.ids[0] != "s1" || got.ids[1] != "s2" {
		t.Fatalf("stream ids = %v, want [s1 s2]", got.ids)
	}
	got.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StreamMarkers did not return after cancel")
	}
}
