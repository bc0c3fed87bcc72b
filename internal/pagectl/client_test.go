package pagectl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stillpointlabs/vidmark/internal/types"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func withDefaultHTTPClient(t *testing.T, transport http.RoundTripper) {
	t.Helper()
	origClient := http.DefaultClient
	t.Cleanup(func() {
		http.DefaultClient = origClient
	})
	http.DefaultClient = &http.Client{
		Transport: transport,
	}
}

func TestCleanupLockedLogsDetachFailure(t *testing.T) {
	var buf bytes.Buffer
	oldLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() {
		slog.SetDefault(oldLogger)
	})

	client := &Client{
		cdp: &rawCDP{},
		tabs: map[string]*tabSession{
			"target-1": {
				sessionID: "session-1",
			},
		},
	}
	client.cleanupLocked()

	if !strings.Contains(buf.String(), "detach cleanup failed") {
		t.Fatalf("expected detach cleanup debug log, got %q", buf.String())
	}
	if len(client.tabs) != 0 {
		t.Fatalf("tabs not cleared: %d", len(client.tabs))
	}
}

func TestRefreshTabsWrapsListTargetsError(t *testing.T) {
	withDefaultHTTPClient(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/json/list" {
			return &http.Response{
				StatusCode: http.StatusInternalServerError,
				Body:       io.NopCloser(strings.NewReader(`oops`)),
			}, nil
		}
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(``))}, nil
	}))

	c := NewClient("http://example.com", "", time.Second)
	c.cdp = newRawCDP("http://example.com")

	err := c.refreshTabs(context.Background())
	if err == nil {
		t.Fatal("expected refreshTabs() to fail")
	}

	var codedErr *types.CodedError
	if !errors.As(err, &codedErr) {
		t.Fatalf("expected *CodedError, got %T", err)
	}
	if codedErr.Code != types.CodeCDPUnavailable {
		t.Fatalf("error code = %s; want %s", codedErr.Code, types.CodeCDPUnavailable)
	}
	if !strings.Contains(codedErr.Message, "failed to list targets") {
		t.Fatalf("error message = %q; want to contain %q", codedErr.Message, "failed to list targets")
	}
}

func TestSyncTabsLockedFiltersTargets(t *testing.T) {
	withDefaultHTTPClient(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/json/list" {
			return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(``))}, nil
		}
		targets := []map[string]any{
			{"id": "t1", "type": "page", "url": "https://www.youtube.com/watch?v=abc", "title": "video"},
			{"id": "t2", "type": "service_worker", "url": "https://www.youtube.com/sw.js"},
			{"id": "t3", "type": "page", "url": "chrome://settings"},
			{"id": "t4", "type": "page", "url": "https://example.com/article"},
		}
		payload, marshalErr := json.Marshal(targets)
		if marshalErr != nil {
			t.Fatalf("json.Marshal() = %v", marshalErr)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(string(payload))),
		}, nil
	}))

	c := NewClient("http://example.com", "youtube", time.Second)
	c.cdp = newRawCDP("http://example.com")

	// A previously tracked tab that disappeared must be pruned along with
	// its session mapping and lock.
	c.tabs["t9"] = &tabSession{info: TabHandle{TabID: "t9"}, sessionID: "s9"}
	c.sessionToTab["s9"] = "t9"
	c.tabLocks["t9"] = c.tabLock("t9")

	if err := c.syncTabsLocked(context.Background()); err != nil {
		t.Fatalf("syncTabsLocked() = %v", err)
	}

	if len(c.tabs) != 1 {
		t.Fatalf("tracked tabs = %d, want 1", len(c.tabs))
	}
	got, ok := c.tabs["t1"]
	if !ok {
		t.Fatalf("t1 not tracked: %v", c.tabs)
	}
	if got.info.URL != "https://www.youtube.com/watch?v=abc" || got.info.Title != "video" {
		t.Fatalf("t1 info = %+v", got.info)
	}
	if _, stale := c.sessionToTab["s9"]; stale {
		t.Fatal("stale session mapping survived sync")
	}
	if _, stale := c.tabLocks["t9"]; stale {
		t.Fatal("stale tab lock survived sync")
	}
}

func TestShouldRetry(t *testing.T) {
	c := NewClient("http://example.com", "", time.Second)

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"cdp unavailable", types.NewError(types.CodeCDPUnavailable, "down", nil), true},
		{"tab not found", types.NewError(types.CodeTabNotFound, "gone", nil), false},
		{"eval transient websocket", types.NewError(types.CodeEvalFailure, "eval", errors.New("websocket: close 1006")), true},
		{"eval transient target closed", types.NewError(types.CodeEvalFailure, "eval", errors.New("rawcdp: Target closed")), true},
		{"eval page error", types.NewError(types.CodeEvalFailure, "eval", errors.New("SyntaxError: unexpected token")), false},
		{"eval no cause", types.NewError(types.CodeEvalFailure, "eval", nil), false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.shouldRetry(tt.err); got != tt.want {
				t.Fatalf("shouldRetry(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBindingDispatch(t *testing.T) {
	c := NewClient("http://example.com", "", time.Second)
	c.sessionToTab["sess-1"] = "tab-1"

	var got []string
	unregister := c.OnBinding("tab-1", func(payload string) {
		got = append(got, payload)
	})

	params := func(name, payload string) json.RawMessage {
		b, _ := json.Marshal(map[string]any{"name": name, "payload": payload})
		return b
	}

	c.onBindingCalled("sess-1", params(bindingName, `{"epoch":2,"kind":"time","time":12.5}`))
	if len(got) != 1 || !strings.Contains(got[0], `"kind":"time"`) {
		t.Fatalf("payloads = %v", got)
	}

	// Foreign bindings and unknown sessions are ignored.
	c.onBindingCalled("sess-1", params("someOtherBinding", `{}`))
	c.onBindingCalled("sess-unknown", params(bindingName, `{}`))
	if len(got) != 1 {
		t.Fatalf("payloads after noise = %d, want 1", len(got))
	}

	unregister()
	c.onBindingCalled("sess-1", params(bindingName, `{"epoch":2,"kind":"time"}`))
	if len(got) != 1 {
		t.Fatalf("payloads after unregister = %d, want 1", len(got))
	}
}

func TestOnDetachedClearsSession(t *testing.T) {
	c := NewClient("http://example.com", "", time.Second)
	c.tabs["t1"] = &tabSession{info: TabHandle{TabID: "t1"}, sessionID: "s1", bootstrapped: true}
	c.sessionToTab["s1"] = "t1"

	b, _ := json.Marshal(map[string]string{"sessionId": "s1", "targetId": "t1"})
	c.onDetached("", b)

	if _, ok := c.sessionToTab["s1"]; ok {
		t.Fatal("session mapping survived detach")
	}
	s := c.tabs["t1"]
	if s.sessionID != "" || s.bootstrapped {
		t.Fatalf("session not reset: %+v", s)
	}
}

func TestTabLookup(t *testing.T) {
	c := NewClient("http://example.com", "", time.Second)
	c.tabs["t1"] = &tabSession{info: TabHandle{TabID: "t1", URL: "https://example.com/watch"}}

	if got, err := c.Tab("t1"); err != nil || got.URL != "https://example.com/watch" {
		t.Fatalf("Tab(t1) = %+v, %v", got, err)
	}

	_, err := c.Tab("missing")
	var coded *types.CodedError
	if !errors.As(err, &coded) || coded.Code != types.CodeTabNotFound {
		t.Fatalf("Tab(missing) err = %v, want %s", err, types.CodeTabNotFound)
	}
}

func TestTrackableURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.youtube.com/watch?v=abc", true},
		{"http://localhost:8080/video", true},
		{"file:///home/user/clip.html", true},
		{"chrome://settings", false},
		{"devtools://devtools/bundled", false},
		{"about:blank", false},
	}
	for _, tt := range tests {
		if got := trackableURL(tt.url); got != tt.want {
			t.Fatalf("trackableURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
