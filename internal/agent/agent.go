// Package agent ties the pieces together: one CDP client fanned out to
// per-tab lifecycle supervisors, the tab context router, marker
// persistence, and the operation facade the HTTP surface calls.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/stillpointlabs/vidmark/internal/annotations"
	"github.com/stillpointlabs/vidmark/internal/config"
	"github.com/stillpointlabs/vidmark/internal/fixture"
	"github.com/stillpointlabs/vidmark/internal/journal"
	"github.com/stillpointlabs/vidmark/internal/lifecycle"
	"github.com/stillpointlabs/vidmark/internal/notify"
	"github.com/stillpointlabs/vidmark/internal/pagectl"
	"github.com/stillpointlabs/vidmark/internal/site"
	"github.com/stillpointlabs/vidmark/internal/tabrouter"
	"github.com/stillpointlabs/vidmark/internal/types"
)

// markerRetentionDays bounds the local cache when a backend is the source
// of truth. Cache-only deployments never prune; the store is the record.
const markerRetentionDays = 90

// TabClient is the browser surface the coordinator drives. Implemented by
// pagectl.Client; faked in tests.
type TabClient interface {
	lifecycle.PageDriver
	SyncTabs(ctx context.Context) ([]pagectl.TabHandle, error)
	OnBinding(tabID string, fn func(payload string)) func()
	OnPageLoad(tabID string, fn func()) func()
	DocumentHTML(ctx context.Context, tabID string) (string, error)
	Screenshot(ctx context.Context, tabID string) (string, error)
}

// MarkerStore is the marker persistence surface. Implemented by
// store.Store.
type MarkerStore interface {
	annotations.Cache
	GetMarker(ctx context.Context, id string) (types.Marker, error)
	DeleteMarker(ctx context.Context, id string) (bool, error)
	PruneMarkers(ctx context.Context, cutoff time.Time) (int64, error)
}

// Options wires a Coordinator. Config, Client, Router, and Store are
// required; everything else degrades to a no-op when absent.
type Options struct {
	Config   *config.AgentConfig
	Client   TabClient
	Router   *tabrouter.Router
	Store    MarkerStore
	Registry *site.Registry
	Backend  annotations.Backend
	Journal  *journal.Journal
	Fixtures *fixture.Store
	Notifier *notify.Notifier
}

// Coordinator owns the per-tab supervisors and the maintenance jobs.
type Coordinator struct {
	cfg      *config.AgentConfig
	client   TabClient
	registry *site.Registry
	router   *tabrouter.Router
	store    MarkerStore
	backend  annotations.Backend
	journal  *journal.Journal
	fixtures *fixture.Store
	notifier *notify.Notifier

	scheduler *gocron.Scheduler

	mu          sync.Mutex
	supervisors map[string]*supervisor
	startedAt   time.Time
	stopped     bool
}

func New(opts Options) *Coordinator {
	if opts.Registry == nil {
		opts.Registry = site.NewRegistry()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.New("", "")
	}
	return &Coordinator{
		cfg:         opts.Config,
		client:      opts.Client,
		registry:    opts.Registry,
		router:      opts.Router,
		store:       opts.Store,
		backend:     opts.Backend,
		journal:     opts.Journal,
		fixtures:    opts.Fixtures,
		notifier:    opts.Notifier,
		supervisors: make(map[string]*supervisor),
	}
}

// Start restores persisted tab contexts, runs a first tab sync, and
// schedules the recurring jobs. A browser that is down at start is not an
// error; the sync job keeps retrying through the client.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	c.startedAt = time.Now()
	c.mu.Unlock()

	if err := c.router.Restore(ctx); err != nil {
		slog.Warn("agent context restore failed", "error", err)
	}

	c.syncTabs(ctx)

	s := gocron.NewScheduler(time.UTC)
	if _, err := s.Every(c.cfg.TabSyncIntervalMS).Milliseconds().Do(func() {
		c.syncTabs(context.Background())
	}); err != nil {
		return types.NewError(types.CodeInternal, "schedule tab sync", err)
	}
	if _, err := s.Every(10).Minutes().Do(c.sweepContexts); err != nil {
		return types.NewError(types.CodeInternal, "schedule context sweep", err)
	}
	if c.backend != nil {
		if _, err := s.Every(24).Hours().Do(c.pruneMarkers); err != nil {
			return types.NewError(types.CodeInternal, "schedule marker prune", err)
		}
	}
	s.StartAsync()
	c.scheduler = s

	slog.Info("agent started",
		"tab_sync_ms", c.cfg.TabSyncIntervalMS,
		"backend", c.backend != nil,
		"notify", c.notifier.Enabled())
	return nil
}

// Stop halts the jobs and every supervisor. Tab contexts stay persisted so
// a restart picks the same tabs back up.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	sups := make([]*supervisor, 0, len(c.supervisors))
	for _, sup := range c.supervisors {
		sups = append(sups, sup)
	}
	c.supervisors = make(map[string]*supervisor)
	c.mu.Unlock()

	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	for _, sup := range sups {
		sup.stop()
	}
	slog.Info("agent stopped", "tabs", len(sups))
}

// syncTabs diffs the browser's page targets against the running
// supervisors: new tabs get one, vanished tabs lose theirs and their
// context starts the stale grace window.
func (c *Coordinator) syncTabs(ctx context.Context) {
	tabs, err := c.client.SyncTabs(ctx)
	if err != nil {
		slog.Warn("agent tab sync failed", "error", err)
		return
	}

	live := make(map[string]bool, len(tabs))
	for _, tab := range tabs {
		live[tab.TabID] = true
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	var gone []*supervisor
	for _, tab := range tabs {
		if _, ok := c.supervisors[tab.TabID]; ok {
			continue
		}
		c.supervisors[tab.TabID] = c.startSupervisor(tab.TabID)
		slog.Info("agent tab tracked", "tab_id", tab.TabID, "url", tab.URL)
		c.journalRecord(journal.CategoryLifecycle, "tab_tracked", tab.TabID, map[string]string{"url": tab.URL})
	}
	for id, sup := range c.supervisors {
		if !live[id] {
			gone = append(gone, sup)
			delete(c.supervisors, id)
		}
	}
	c.mu.Unlock()

	for _, sup := range gone {
		slog.Info("agent tab gone", "tab_id", sup.tabID)
		sup.stop()
		c.router.MarkStale(sup.tabID)
		c.journalRecord(journal.CategoryLifecycle, "tab_gone", sup.tabID, nil)
	}
}

// sweepContexts is the safety net behind the router's grace timers: any
// context still flagged stale well past its window gets expired. Timers
// cover the normal path; this catches ones lost to a crash between the
// flag write and the fire.
func (c *Coordinator) sweepContexts() {
	grace := time.Duration(c.cfg.ContextGraceMS) * time.Millisecond
	cutoff := time.Now().Add(-2 * grace)
	for _, tc := range c.router.List() {
		if tc.Stale && tc.UpdatedAt.Before(cutoff) {
			slog.Info("agent sweeping stale context", "tab_id", tc.TabID)
			c.router.Expire(context.Background(), tc.TabID)
		}
	}
}

func (c *Coordinator) pruneMarkers() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	cutoff := time.Now().AddDate(0, 0, -markerRetentionDays)
	n, err := c.store.PruneMarkers(ctx, cutoff)
	if err != nil {
		slog.Warn("agent marker prune failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("agent pruned cached markers", "count", n)
	}
}

// onExhausted fires when a tab's re-detection budget runs out. The tab
// stays parked in its error state until an operator forces a pass.
func (c *Coordinator) onExhausted(tabID string, attempts int) {
	slog.Warn("agent detection exhausted", "tab_id", tabID, "attempts", attempts)
	c.journalRecord(journal.CategoryLifecycle, "detect_exhausted", tabID, map[string]int{"attempts": attempts})

	if !c.notifier.Enabled() {
		return
	}
	var url string
	if sup, err := c.supervisor(tabID); err == nil {
		url = sup.manager.Status().URL
	}
	go c.notifier.DetectionExhausted(tabID, url, attempts)
}

func (c *Coordinator) supervisor(tabID string) (*supervisor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sup, ok := c.supervisors[tabID]
	if !ok {
		return nil, types.NewError(types.CodeTabNotFound, "tab "+tabID+" not tracked", nil)
	}
	return sup, nil
}

func (c *Coordinator) journalRecord(category, kind, tabID string, data any) {
	if c.journal == nil {
		return
	}
	c.journal.Record(category, kind, tabID, data)
}
