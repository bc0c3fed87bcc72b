// Package tabrouter keeps the per-tab context records and routes UI
// messages to the single subscriber each tab is allowed. A panel following
// tab A can never see events from tab B; tabs that vanish get a grace
// window before their context expires.
package tabrouter

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stillpointlabs/vidmark/internal/types"
)

const subscriberBufSize = 256

// TabContext is the minimal per-tab state worth keeping across restarts.
type TabContext struct {
	TabID         string       `json:"tab_id"`
	Item          types.ItemID `json:"item"`
	LastTimestamp float64      `json:"last_timestamp"`
	Recording     bool         `json:"recording"`
	State         string       `json:"state"`
	Stale         bool         `json:"stale,omitempty"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// ContextStore persists tab contexts. Every transition writes through so a
// restart mid-session keeps tab-to-item associations alive.
type ContextStore interface {
	SaveTabContext(ctx context.Context, tc TabContext) error
	DeleteTabContext(ctx context.Context, tabID string) error
	LoadTabContexts(ctx context.Context) ([]TabContext, error)
}

type subscriber struct {
	id int64
	ch chan types.UIMessage
}

type tabEntry struct {
	ctx        TabContext
	staleTimer *time.Timer
}

// Router owns tab contexts and message delivery.
type Router struct {
	store ContextStore // nil disables persistence
	grace time.Duration

	mu       sync.RWMutex
	contexts map[string]*tabEntry
	subs     map[string]*subscriber
	nextID   atomic.Int64
}

func NewRouter(store ContextStore, grace time.Duration) *Router {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &Router{
		store:    store,
		grace:    grace,
		contexts: make(map[string]*tabEntry),
		subs:     make(map[string]*subscriber),
	}
}

// Restore loads the persisted contexts and starts every one of them on a
// stale grace timer: a tab that does not reappear within one window is
// expired, one that does gets its record back seamlessly.
func (r *Router) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	saved, err := r.store.LoadTabContexts(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	for _, tc := range saved {
		tc.Stale = true
		entry := &tabEntry{ctx: tc}
		entry.staleTimer = r.startGraceLocked(tc.TabID)
		r.contexts[tc.TabID] = entry
	}
	r.mu.Unlock()
	if len(saved) > 0 {
		slog.Info("tabrouter restored contexts", "count", len(saved), "grace", r.grace)
	}
	return nil
}

// Update upserts a tab's context and clears any pending staleness.
func (r *Router) Update(ctx context.Context, tc TabContext) {
	tc.Stale = false
	tc.UpdatedAt = time.Now()
	r.mu.Lock()
	entry, ok := r.contexts[tc.TabID]
	if !ok {
		entry = &tabEntry{}
		r.contexts[tc.TabID] = entry
	}
	if entry.staleTimer != nil {
		entry.staleTimer.Stop()
		entry.staleTimer = nil
	}
	entry.ctx = tc
	r.mu.Unlock()
	r.persist(ctx, tc)
}

// Touch refreshes a tab's playback position. Activity also cancels a
// pending expiry.
func (r *Router) Touch(ctx context.Context, tabID string, timestamp float64) {
	r.mu.Lock()
	entry, ok := r.contexts[tabID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if entry.staleTimer != nil {
		entry.staleTimer.Stop()
		entry.staleTimer = nil
	}
	entry.ctx.Stale = false
	entry.ctx.LastTimestamp = timestamp
	entry.ctx.UpdatedAt = time.Now()
	tc := entry.ctx
	r.mu.Unlock()
	r.persist(ctx, tc)
}

// SetRecording flips the tab's recording flag.
func (r *Router) SetRecording(ctx context.Context, tabID string, recording bool) {
	r.mu.Lock()
	entry, ok := r.contexts[tabID]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry.ctx.Recording = recording
	entry.ctx.UpdatedAt = time.Now()
	tc := entry.ctx
	r.mu.Unlock()
	r.persist(ctx, tc)
}

// MarkStale starts the tab's grace window. If nothing refreshes the record
// before it runs out, the context expires.
func (r *Router) MarkStale(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.contexts[tabID]
	if !ok {
		return
	}
	if entry.ctx.Stale {
		return
	}
	entry.ctx.Stale = true
	entry.ctx.UpdatedAt = time.Now()
	entry.staleTimer = r.startGraceLocked(tabID)
	slog.Debug("tabrouter context stale", "tab_id", tabID, "grace", r.grace)
}

func (r *Router) startGraceLocked(tabID string) *time.Timer {
	return time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		entry, ok := r.contexts[tabID]
		if !ok || !entry.ctx.Stale {
			// Refreshed while the timer was in flight.
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()
		r.Expire(context.Background(), tabID)
	})
}

// Expire removes a tab's context, tells its subscriber to clear, and
// closes the subscription.
func (r *Router) Expire(ctx context.Context, tabID string) {
	r.mu.Lock()
	entry, ok := r.contexts[tabID]
	if ok {
		if entry.staleTimer != nil {
			entry.staleTimer.Stop()
		}
		delete(r.contexts, tabID)
	}
	sub := r.subs[tabID]
	delete(r.subs, tabID)
	r.mu.Unlock()

	if !ok {
		return
	}
	if sub != nil {
		select {
		case sub.ch <- types.UIMessage{Action: types.ActionClearUI, TabID: tabID, At: time.Now()}:
		default:
		}
		close(sub.ch)
	}
	if r.store != nil {
		if err := r.store.DeleteTabContext(ctx, tabID); err != nil {
			slog.Warn("tabrouter context delete failed", "tab_id", tabID, "error", err)
		}
	}
	slog.Info("tabrouter context expired", "tab_id", tabID)
}

// Get returns a tab's context.
func (r *Router) Get(tabID string) (TabContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.contexts[tabID]
	if !ok {
		return TabContext{}, false
	}
	return entry.ctx, true
}

// List returns every known context ordered by tab id.
func (r *Router) List() []TabContext {
	r.mu.RLock()
	out := make([]TabContext, 0, len(r.contexts))
	for _, entry := range r.contexts {
		out = append(out, entry.ctx)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// Subscribe registers the UI subscriber for one tab. Each tab carries at
// most one: a new subscription replaces and closes the previous channel.
// The channel is buffered; slow consumers have messages dropped.
func (r *Router) Subscribe(tabID string) (int64, <-chan types.UIMessage) {
	id := r.nextID.Add(1)
	ch := make(chan types.UIMessage, subscriberBufSize)
	r.mu.Lock()
	if prev, ok := r.subs[tabID]; ok {
		close(prev.ch)
	}
	r.subs[tabID] = &subscriber{id: id, ch: ch}
	r.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscription by id. A stale id from a replaced
// subscriber leaves the current one untouched.
func (r *Router) Unsubscribe(tabID string, id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[tabID]
	if !ok || sub.id != id {
		return
	}
	delete(r.subs, tabID)
	close(sub.ch)
}

// Publish delivers a message to the subscriber of the tab it came from,
// and nobody else. Non-blocking: a full buffer drops the message.
func (r *Router) Publish(msg types.UIMessage) {
	r.mu.RLock()
	sub, ok := r.subs[msg.TabID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case sub.ch <- msg:
	default:
		slog.Debug("tabrouter message dropped, slow subscriber", "tab_id", msg.TabID, "action", msg.Action)
	}
}

// SubscriberCount reports the number of live subscriptions.
func (r *Router) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *Router) persist(ctx context.Context, tc TabContext) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveTabContext(ctx, tc); err != nil {
		slog.Warn("tabrouter context persist failed", "tab_id", tc.TabID, "error", err)
	}
}
