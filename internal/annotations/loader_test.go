package annotations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stillpointlabs/vidmark/internal/types"
)

type fakeCache struct {
	mu      sync.Mutex
	items   map[string]map[string]types.Marker
	readErr error
	saveErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: make(map[string]map[string]types.Marker)}
}

func (f *fakeCache) MarkersForItem(ctx context.Context, itemKey string) ([]types.Marker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	var out []types.Marker
	for _, m := range f.items[itemKey] {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeCache) SaveMarker(ctx context.Context, m types.Marker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.items[m.ItemKey] == nil {
		f.items[m.ItemKey] = make(map[string]types.Marker)
	}
	f.items[m.ItemKey][m.ID] = m
	return nil
}

func (f *fakeCache) seed(ms ...types.Marker) {
	for _, m := range ms {
		_ = f.SaveMarker(context.Background(), m)
	}
}

func (f *fakeCache) get(itemKey, id string) (types.Marker, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.items[itemKey][id]
	return m, ok
}

type fakeBackend struct {
	mu         sync.Mutex
	markers    map[string][]types.Marker
	fetchErr   error
	fetchCalls int
	gateKey    string
	gate       chan struct{}
	createErr  error
	created    []types.Marker
	streamFn   func(ctx context.Context, item types.ItemID, onMarker func(types.Marker)) error
}

func (f *fakeBackend) FetchMarkers(ctx context.Context, item types.ItemID) ([]types.Marker, error) {
	f.mu.Lock()
	f.fetchCalls++
	gate := f.gate
	gated := f.gateKey == item.Key() && gate != nil
	err := f.fetchErr
	ms := append([]types.Marker(nil), f.markers[item.Key()]...)
	f.mu.Unlock()

	if gated {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return ms, nil
}

func (f *fakeBackend) CreateMarker(ctx context.Context, m types.Marker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, m)
	return nil
}

func (f *fakeBackend) StreamMarkers(ctx context.Context, item types.ItemID, onMarker func(types.Marker)) error {
	if f.streamFn == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.streamFn(ctx, item, onMarker)
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var testItem = types.ItemID{Platform: "youtube", ID: "dQw4w9WgXcQ"}

func TestLoadMergesCacheAndBackendPrefersRemote(t *testing.T) {
	cache := newFakeCache()
	cache.seed(
		types.Marker{ID: "m1", ItemKey: testItem.Key(), Position: 10, Text: "local"},
		types.Marker{ID: "m2", ItemKey: testItem.Key(), Position: 50},
	)
	backend := &fakeBackend{markers: map[string][]types.Marker{
		testItem.Key(): {
			{ID: "m1", ItemKey: testItem.Key(), Position: 10, Text: "remote"},
			{ID: "m3", ItemKey: testItem.Key(), Position: 30},
		},
	}}
	l := NewLoader(LoaderConfig{TabID: "tab-1", Cache: cache, Backend: backend})

	ms, err := l.Load(context.Background(), testItem)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ms) != 3 {
		t.Fatalf("merged count = %d, want 3", len(ms))
	}
	if ms[0].ID != "m1" || ms[1].ID != "m3" || ms[2].ID != "m2" {
		t.Fatalf("merged order = %s,%s,%s, want m1,m3,m2", ms[0].ID, ms[1].ID, ms[2].ID)
	}
	if ms[0].Text != "remote" {
		t.Fatalf("m1 text = %q, want remote copy to win", ms[0].Text)
	}
	if st := l.Status(); st.State != StateLoaded {
		t.Fatalf("state = %q, want %q", st.State, StateLoaded)
	}
	// Remote markers are written through for offline reads later.
	if _, ok := cache.get(testItem.Key(), "m3"); !ok {
		t.Fatal("remote marker m3 not written through to cache")
	}
}

func TestConcurrentLoadsShareOneFetch(t *testing.T) {
	cache := newFakeCache()
	gate := make(chan struct{})
	backend := &fakeBackend{
		markers: map[string][]types.Marker{
			testItem.Key(): {{ID: "m1", ItemKey: testItem.Key(), Position: 5}},
		},
		gateKey: testItem.Key(),
		gate:    gate,
	}
	l := NewLoader(LoaderConfig{TabID: "tab-1", Cache: cache, Backend: backend})

	type result struct {
		ms  []types.Marker
		err error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			ms, err := l.Load(context.Background(), testItem)
			results <- result{ms, err}
		}()
	}

	waitFor(t, "first fetch to start", func() bool { return backend.calls() == 1 })
	// Give the second Load time to join rather than start its own fetch.
	time.Sleep(20 * time.Millisecond)
	close(gate)

	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			t.Fatalf("Load %d: %v", i, res.err)
		}
		if len(res.ms) != 1 || res.ms[0].ID != "m1" {
			t.Fatalf("Load %d markers = %v, want [m1]", i, res.ms)
		}
	}
	if got := backend.calls(); got != 1 {
		t.Fatalf("backend fetches = %d, want 1", got)
	}
}

func TestItemSwitchDiscardsLateResult(t *testing.T) {
	itemA := types.ItemID{Platform: "youtube", ID: "aaaaaaaaaaa"}
	itemB := types.ItemID{Platform: "youtube", ID: "bbbbbbbbbbb"}
	cache := newFakeCache()
	gate := make(chan struct{})
	backend := &fakeBackend{
		markers: map[string][]types.Marker{
			itemA.Key(): {{ID: "a1", ItemKey: itemA.Key(), Position: 1}},
			itemB.Key(): {{ID: "b1", ItemKey: itemB.Key(), Position: 2}},
		},
		gateKey: itemA.Key(),
		gate:    gate,
	}
	l := NewLoader(LoaderConfig{TabID: "tab-1", Cache: cache, Backend: backend})

	aErr := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), itemA)
		aErr <- err
	}()
	waitFor(t, "fetch for item A to start", func() bool { return backend.calls() == 1 })

	ms, err := l.Load(context.Background(), itemB)
	if err != nil {
		t.Fatalf("Load(B): %v", err)
	}
	if len(ms) != 1 || ms[0].ID != "b1" {
		t.Fatalf("Load(B) markers = %v, want [b1]", ms)
	}
	if got := l.Session(); got != 1 {
		t.Fatalf("session after switch = %d, want 1", got)
	}

	close(gate)
	if err := <-aErr; err == nil {
		t.Fatal("stale Load(A) returned no error")
	}

	st := l.Status()
	if st.State != StateLoaded || st.ItemKey != itemB.Key() {
		t.Fatalf("status = %+v, want loaded on %s", st, itemB.Key())
	}
}

func TestBackendFailureDegradesToCache(t *testing.T) {
	cache := newFakeCache()
	cache.seed(
		types.Marker{ID: "c1", ItemKey: testItem.Key(), Position: 3},
		types.Marker{ID: "c2", ItemKey: testItem.Key(), Position: 7},
	)
	backend := &fakeBackend{fetchErr: errors.New("backend down")}
	l := NewLoader(LoaderConfig{
		TabID: "tab-1", Cache: cache, Backend: backend,
		Retries: 2, InitialBackoff: 2 * time.Millisecond,
	})

	ms, err := l.Load(context.Background(), testItem)
	if err != nil {
		t.Fatalf("degraded Load returned error: %v", err)
	}
	if len(ms) != 2 || ms[0].ID != "c1" || ms[1].ID != "c2" {
		t.Fatalf("degraded markers = %v, want cached [c1 c2]", ms)
	}
	if got := backend.calls(); got != 2 {
		t.Fatalf("fetch attempts = %d, want 2", got)
	}
	st := l.Status()
	if st.State != StateFailed {
		t.Fatalf("state = %q, want %q", st.State, StateFailed)
	}
	if st.LastError != types.CodeBackendUnavailable {
		t.Fatalf("last error = %q, want %q", st.LastError, types.CodeBackendUnavailable)
	}
}

func TestRetryAbortsOnInvalidation(t *testing.T) {
	cache := newFakeCache()
	backend := &fakeBackend{fetchErr: errors.New("backend down")}
	l := NewLoader(LoaderConfig{
		TabID: "tab-1", Cache: cache, Backend: backend,
		Retries: 5, InitialBackoff: 30 * time.Millisecond,
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := l.Load(context.Background(), testItem)
		errCh <- err
	}()
	waitFor(t, "first attempt", func() bool { return backend.calls() == 1 })
	l.Invalidate()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("invalidated Load returned no error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("invalidated Load did not return")
	}
	// The second attempt saw the dead session before touching the backend.
	time.Sleep(80 * time.Millisecond)
	if got := backend.calls(); got != 1 {
		t.Fatalf("fetch attempts after invalidation = %d, want 1", got)
	}
}

func TestCacheOnlyMode(t *testing.T) {
	cache := newFakeCache()
	cache.seed(types.Marker{ID: "m1", ItemKey: testItem.Key(), Position: 12})
	l := NewLoader(LoaderConfig{TabID: "tab-1", Cache: cache})

	ms, err := l.Load(context.Background(), testItem)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ms) != 1 || ms[0].ID != "m1" {
		t.Fatalf("markers = %v, want [m1]", ms)
	}
	if st := l.Status(); st.State != StateLoaded || st.LastError != "" {
		t.Fatalf("status = %+v, want clean loaded", st)
	}
}

func TestCreateKeepsMarkerOnBackendFailure(t *testing.T) {
	cache := newFakeCache()
	backend := &fakeBackend{createErr: errors.New("backend down")}
	l := NewLoader(LoaderConfig{TabID: "tab-1", Cache: cache, Backend: backend})

	m := types.Marker{ID: "m1", ItemKey: testItem.Key(), Position: 20, Category: types.CategoryVoice}
	if err := l.Create(context.Background(), m); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := cache.get(testItem.Key(), "m1"); !ok {
		t.Fatal("marker missing from cache after backend failure")
	}
}

func TestCreateMirrorsToBackend(t *testing.T) {
	cache := newFakeCache()
	backend := &fakeBackend{}
	l := NewLoader(LoaderConfig{TabID: "tab-1", Cache: cache, Backend: backend})

	m := types.Marker{ID: "m1", ItemKey: testItem.Key(), Position: 20}
	if err := l.Create(context.Background(), m); err != nil {
		t.Fatalf("Create: %v", err)
	}
	backend.mu.Lock()
	created := len(backend.created)
	backend.mu.Unlock()
	if created != 1 {
		t.Fatalf("backend creates = %d, want 1", created)
	}
}

func TestPushStreamFollowsSession(t *testing.T) {
	cache := newFakeCache()
	pushed := struct {
		mu  sync.Mutex
		ids []string
	}{}
	stopped := make(chan struct{})
	backend := &fakeBackend{
		markers: map[string][]types.Marker{testItem.Key(): {}},
		streamFn: func(ctx context.Context, item types.ItemID, onMarker func(types.Marker)) error {
			onMarker(types.Marker{ID: "live-1", ItemKey: item.Key(), Position: 42})
			<-ctx.Done()
			// An event already in flight when the session died.
			onMarker(types.Marker{ID: "live-late", ItemKey: item.Key(), Position: 43})
			close(stopped)
			return ctx.Err()
		},
	}
	l := NewLoader(LoaderConfig{
		TabID: "tab-1", Cache: cache, Backend: backend,
		OnPush: func(m types.Marker) {
			pushed.mu.Lock()
			pushed.ids = append(pushed.ids, m.ID)
			pushed.mu.Unlock()
		},
	})

	if _, err := l.Load(context.Background(), testItem); err != nil {
		t.Fatalf("Load: %v", err)
	}
	waitFor(t, "push delivery", func() bool {
		pushed.mu.Lock()
		defer pushed.mu.Unlock()
		return len(pushed.ids) == 1 && pushed.ids[0] == "live-1"
	})
	if _, ok := cache.get(testItem.Key(), "live-1"); !ok {
		t.Fatal("pushed marker not written to cache")
	}

	l.Invalidate()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on invalidation")
	}
	pushed.mu.Lock()
	count := len(pushed.ids)
	pushed.mu.Unlock()
	if count != 1 {
		t.Fatalf("pushes after invalidation = %d, want 1 (late event dropped)", count)
	}
}
