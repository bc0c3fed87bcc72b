package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stillpointlabs/vidmark/internal/annotations"
	"github.com/stillpointlabs/vidmark/internal/lifecycle"
	"github.com/stillpointlabs/vidmark/internal/pagectl"
	"github.com/stillpointlabs/vidmark/internal/types"
)

// anchor is a pending annotation start: the playback position captured
// when the start signal arrived, tied to the item that was playing.
type anchor struct {
	position float64
	itemKey  string
	at       time.Time
}

// supervisor binds one tab's lifecycle manager to its marker loader and
// page event subscriptions.
type supervisor struct {
	tabID   string
	manager *lifecycle.Manager
	loader  *annotations.Loader
	cancel  context.CancelFunc

	offBinding  func()
	offPageLoad func()

	mu      sync.Mutex
	pending *anchor
}

// startSupervisor spins up the manager and loader for one tab. Caller
// holds c.mu; the manager's run loop starts immediately and queues its
// first detection pass.
func (c *Coordinator) startSupervisor(tabID string) *supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	sup := &supervisor{tabID: tabID, cancel: cancel}

	sup.loader = annotations.NewLoader(annotations.LoaderConfig{
		TabID:        tabID,
		Cache:        c.store,
		Backend:      c.backend,
		Retries:      c.cfg.FetchRetries,
		FetchTimeout: time.Duration(c.cfg.BackendTimeoutMS) * time.Millisecond,
		OnPush:       sup.applyPushed,
	})

	weights := pagectl.DefaultScoreWeights()
	weights.ZIndexCap = c.cfg.ZIndexCap

	sup.manager = lifecycle.New(lifecycle.Config{
		TabID:    tabID,
		Driver:   c.client,
		Registry: c.registry,
		Markers:  sup.loader,
		Sink:     &tabSink{router: c.router, journal: c.journal},

		DetectWait:       time.Duration(c.cfg.DetectWaitMS) * time.Millisecond,
		MonitorInterval:  time.Duration(c.cfg.MonitorIntervalMS) * time.Millisecond,
		HealthInterval:   time.Duration(c.cfg.HealthIntervalMS) * time.Millisecond,
		RedetectInterval: time.Duration(c.cfg.RedetectIntervalMS) * time.Millisecond,
		RedetectMax:      c.cfg.RedetectMaxAttempts,

		ScoreFloor:   c.cfg.ScoreFloor,
		Weights:      weights,
		ClimbDepth:   c.cfg.ClimbDepth,
		SamplePoints: c.cfg.SamplePoints,

		OnExhausted: c.onExhausted,
	})

	sup.offBinding = c.client.OnBinding(tabID, sup.handleBinding)
	sup.offPageLoad = c.client.OnPageLoad(tabID, sup.manager.HandlePageLoad)

	sup.manager.Start(ctx)
	return sup
}

// stop unsubscribes from page events first so nothing feeds the manager
// while it drains, then halts the manager and invalidates the loader.
func (s *supervisor) stop() {
	s.offBinding()
	s.offPageLoad()
	s.manager.Stop()
	s.loader.Stop()
	s.cancel()
}

// handleBinding decodes one raw page event and feeds it to the manager.
// Malformed payloads are dropped; in-page code is never trusted to crash
// the agent.
func (s *supervisor) handleBinding(payload string) {
	ev, err := pagectl.ParseBindingEvent(payload)
	if err != nil {
		slog.Debug("agent binding event dropped", "tab_id", s.tabID, "error", err)
		return
	}
	s.manager.HandleBinding(ev)
}

// applyPushed projects a backend-pushed marker onto the tab. Runs on the
// loader's stream goroutine.
func (s *supervisor) applyPushed(m types.Marker) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.manager.UpsertMarker(ctx, m); err != nil {
		slog.Debug("agent pushed marker not applied", "tab_id", s.tabID, "marker_id", m.ID, "error", err)
	}
}

func (s *supervisor) setAnchor(position float64, itemKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &anchor{position: position, itemKey: itemKey, at: time.Now()}
}

// takeAnchor consumes the pending anchor, if any. A stop signal always
// clears it, matched or not.
func (s *supervisor) takeAnchor() (anchor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return anchor{}, false
	}
	a := *s.pending
	s.pending = nil
	return a, true
}
