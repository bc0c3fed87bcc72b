// Package annotations loads and persists the marker sets attached to video
// items. A Loader serves one tab: it merges the local cache with the
// optional backend, deduplicates concurrent fetches for the same item, and
// kills in-flight work the moment the tab moves to a different item.
package annotations

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/stillpointlabs/vidmark/internal/types"
)

// Loader states.
const (
	StateIdle    = "idle"
	StateLoading = "loading"
	StateLoaded  = "loaded"
	StateFailed  = "failed"
)

// Cache is the local marker persistence the loader reads through and
// writes back to. Always consulted, even with a backend configured.
type Cache interface {
	MarkersForItem(ctx context.Context, itemKey string) ([]types.Marker, error)
	SaveMarker(ctx context.Context, m types.Marker) error
}

// Backend is the remote annotation service. StreamMarkers blocks until ctx
// is done, invoking onMarker for each pushed marker.
type Backend interface {
	FetchMarkers(ctx context.Context, item types.ItemID) ([]types.Marker, error)
	CreateMarker(ctx context.Context, m types.Marker) error
	StreamMarkers(ctx context.Context, item types.ItemID, onMarker func(types.Marker)) error
}

// LoaderConfig wires one loader to one tab.
type LoaderConfig struct {
	TabID   string
	Cache   Cache
	Backend Backend // nil = cache-only mode

	Retries        int           // total fetch attempts, default 4
	InitialBackoff time.Duration // default 500ms
	FetchTimeout   time.Duration // overall budget per fetch, default 30s

	// OnPush receives markers arriving on the backend's push stream while
	// the item stays current.
	OnPush func(types.Marker)
}

func (c LoaderConfig) withDefaults() LoaderConfig {
	if c.Retries <= 0 {
		c.Retries = 4
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	return c
}

// LoaderStatus is a snapshot for the status surface.
type LoaderStatus struct {
	State     string `json:"state"`
	ItemKey   string `json:"item_key,omitempty"`
	Session   uint64 `json:"session"`
	LastError string `json:"last_error,omitempty"`
}

type fetchResult struct {
	done    chan struct{}
	markers []types.Marker
	err     error
}

func (r *fetchResult) wait(ctx context.Context) ([]types.Marker, error) {
	select {
	case <-r.done:
		return r.markers, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Loader tracks which item a tab shows and owns the fetch session for it.
// The session counter only moves forward; any fetch or push subscription
// started under an older session is dead the moment the counter moves.
type Loader struct {
	cfg LoaderConfig

	mu           sync.Mutex
	session      uint64
	item         types.ItemID
	state        string
	lastErr      error
	inflight     *fetchResult
	cancelStream context.CancelFunc
}

func NewLoader(cfg LoaderConfig) *Loader {
	return &Loader{
		cfg:   cfg.withDefaults(),
		state: StateIdle,
	}
}

// Load returns the marker set for item. Concurrent calls for the same item
// share one fetch; a call for a different item invalidates whatever was in
// flight and starts over.
func (l *Loader) Load(ctx context.Context, item types.ItemID) ([]types.Marker, error) {
	l.mu.Lock()
	if l.inflight != nil && l.item.Key() == item.Key() {
		res := l.inflight
		l.mu.Unlock()
		return res.wait(ctx)
	}
	if l.item.Key() != item.Key() {
		if !l.item.IsZero() {
			l.invalidateLocked()
		}
		l.item = item
	}
	l.state = StateLoading
	res := &fetchResult{done: make(chan struct{})}
	l.inflight = res
	session := l.session
	l.mu.Unlock()

	// The fetch outlives the first caller so joiners still get a result.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.FetchTimeout)
	go func() {
		defer cancel()
		l.fetch(fctx, item, session, res)
	}()
	return res.wait(ctx)
}

// MarkersFor adapts Load to the lifecycle manager's marker source shape.
func (l *Loader) MarkersFor(ctx context.Context, tabID string, item types.ItemID) ([]types.Marker, error) {
	return l.Load(ctx, item)
}

// Create persists a marker locally and mirrors it to the backend when one
// is configured. Backend failure never loses the marker.
func (l *Loader) Create(ctx context.Context, m types.Marker) error {
	if err := l.cfg.Cache.SaveMarker(ctx, m); err != nil {
		return err
	}
	if l.cfg.Backend != nil {
		if err := l.cfg.Backend.CreateMarker(ctx, m); err != nil {
			slog.Warn("annotations backend create failed, marker kept locally",
				"marker_id", m.ID, "item", m.ItemKey, "error", err)
		}
	}
	return nil
}

// Invalidate drops the current item: bumps the session, cancels the push
// stream, and resets state. Late results from the old session are
// discarded on arrival.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalidateLocked()
	l.item = types.ItemID{}
	l.state = StateIdle
	l.lastErr = nil
}

// Stop is Invalidate under a name that reads right at teardown sites.
func (l *Loader) Stop() { l.Invalidate() }

// Session exposes the monotonic session counter.
func (l *Loader) Session() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// Status reports the loader snapshot.
func (l *Loader) Status() LoaderStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := LoaderStatus{State: l.state, Session: l.session}
	if !l.item.IsZero() {
		st.ItemKey = l.item.Key()
	}
	if l.lastErr != nil {
		st.LastError = types.ErrorCode(l.lastErr)
	}
	return st
}

func (l *Loader) invalidateLocked() {
	l.session++
	l.inflight = nil
	if l.cancelStream != nil {
		l.cancelStream()
		l.cancelStream = nil
	}
}

func (l *Loader) sessionChanged(session uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return session != l.session
}

func (l *Loader) fetch(ctx context.Context, item types.ItemID, session uint64, res *fetchResult) {
	markers, backendErr := l.doFetch(ctx, item, session)

	l.mu.Lock()
	if session != l.session {
		l.mu.Unlock()
		res.err = types.NewError(types.CodeValidation, "fetch session invalidated", nil)
		close(res.done)
		return
	}
	if l.inflight == res {
		l.inflight = nil
	}
	if backendErr != nil {
		l.state = StateFailed
		l.lastErr = backendErr
	} else {
		l.state = StateLoaded
		l.lastErr = nil
	}
	l.mu.Unlock()

	if backendErr == nil {
		l.startStream(item, session)
	}

	// Degraded mode hands back whatever the cache had; the failure lives
	// in the loader status, not in the caller's path.
	res.markers = markers
	close(res.done)
}

// doFetch reads the cache, pulls the backend with bounded retries, writes
// remote markers through to the cache, and merges with remote winning.
func (l *Loader) doFetch(ctx context.Context, item types.ItemID, session uint64) ([]types.Marker, error) {
	cached, cacheErr := l.cfg.Cache.MarkersForItem(ctx, item.Key())
	if cacheErr != nil {
		slog.Warn("annotations cache read failed", "item", item.Key(), "error", cacheErr)
	}
	if l.cfg.Backend == nil {
		return sortMarkers(cached), nil
	}

	var remote []types.Marker
	op := func() error {
		if l.sessionChanged(session) {
			return backoff.Permanent(types.NewError(types.CodeValidation, "fetch session invalidated", nil))
		}
		ms, err := l.cfg.Backend.FetchMarkers(ctx, item)
		if err != nil {
			return err
		}
		remote = ms
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.InitialBackoff
	bo.Multiplier = 2
	bo.MaxInterval = 8 * time.Second
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(l.cfg.Retries-1)), ctx))
	if err != nil {
		return sortMarkers(cached), types.NewError(types.CodeBackendUnavailable, "marker fetch failed", err)
	}

	for _, m := range remote {
		if err := l.cfg.Cache.SaveMarker(ctx, m); err != nil {
			slog.Warn("annotations cache write-through failed", "marker_id", m.ID, "error", err)
			break
		}
	}

	merged := make(map[string]types.Marker, len(cached)+len(remote))
	for _, m := range cached {
		merged[m.ID] = m
	}
	for _, m := range remote {
		merged[m.ID] = m
	}
	out := make([]types.Marker, 0, len(merged))
	for _, m := range merged {
		out = append(out, m)
	}
	return sortMarkers(out), nil
}

// startStream opens the push subscription for the loaded item. It lives
// until the session moves on.
func (l *Loader) startStream(item types.ItemID, session uint64) {
	if l.cfg.Backend == nil || l.cfg.OnPush == nil {
		return
	}
	l.mu.Lock()
	if session != l.session {
		l.mu.Unlock()
		return
	}
	if l.cancelStream != nil {
		// Same-item reload; the existing subscription is still right.
		l.mu.Unlock()
		return
	}
	sctx, cancel := context.WithCancel(context.Background())
	l.cancelStream = cancel
	l.mu.Unlock()

	go func() {
		err := l.cfg.Backend.StreamMarkers(sctx, item, func(m types.Marker) {
			if l.sessionChanged(session) {
				return
			}
			if err := l.cfg.Cache.SaveMarker(context.Background(), m); err != nil {
				slog.Warn("annotations push cache write failed", "marker_id", m.ID, "error", err)
			}
			l.cfg.OnPush(m)
		})
		if err != nil && sctx.Err() == nil {
			slog.Debug("annotations push stream ended", "item", item.Key(), "error", err)
		}
	}()
}

func sortMarkers(ms []types.Marker) []types.Marker {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Position != ms[j].Position {
			return ms[i].Position < ms[j].Position
		}
		return ms[i].ID < ms[j].ID
	})
	return ms
}
