package pagectl

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Media loss reasons reported by the monitor.
const (
	LossRemoved    = "removed"
	LossBelowFloor = "below_floor"
	LossSuperseded = "superseded"
)

// collectFunc produces the current candidate set for one tab. Injected so
// monitor behavior is testable without a browser.
type collectFunc func(ctx context.Context) ([]CandidateFeatures, error)

// MonitorConfig bounds one monitoring session.
type MonitorConfig struct {
	Interval time.Duration
	Weights  ScoreWeights
	Floor    int
}

// Monitor re-scores the candidate set on an interval and on visibility
// nudges, reporting when the tracked element disappears, sinks below the
// floor, or is outscored by a newcomer. One Monitor serves one accepted
// candidate; acceptance of a new candidate starts a fresh Monitor.
type Monitor struct {
	collect collectFunc
	cfg     MonitorConfig
	onSwap  func(MediaCandidate)
	onLost  func(reason string)

	mu   sync.Mutex
	cur  MediaCandidate
	lost bool

	nudge    chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewMonitor(collect collectFunc, cfg MonitorConfig, onSwap func(MediaCandidate), onLost func(string)) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Weights == (ScoreWeights{}) {
		cfg.Weights = DefaultScoreWeights()
	}
	return &Monitor{
		collect: collect,
		cfg:     cfg,
		onSwap:  onSwap,
		onLost:  onLost,
		nudge:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins monitoring cur. Returns immediately; callbacks fire from
// the monitor goroutine.
func (m *Monitor) Start(ctx context.Context, cur MediaCandidate) {
	m.mu.Lock()
	m.cur = cur
	m.lost = false
	m.mu.Unlock()

	go m.loop(ctx)
}

// Stop halts the loop and waits for it to exit. Safe to call twice.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// Nudge requests an immediate re-score, used when a visibility event
// arrives between ticks. Coalesces when one is already pending.
func (m *Monitor) Nudge() {
	select {
	case m.nudge <- struct{}{}:
	default:
	}
}

// Current returns the last known state of the tracked candidate.
func (m *Monitor) Current() MediaCandidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.rescore(ctx)
		case <-m.nudge:
			m.rescore(ctx)
		}
	}
}

func (m *Monitor) rescore(ctx context.Context) {
	m.mu.Lock()
	if m.lost {
		m.mu.Unlock()
		return
	}
	cur := m.cur
	m.mu.Unlock()

	feats, err := m.collect(ctx)
	if err != nil {
		// Health checks own connectivity failures; a missed cycle here is
		// recovered by the next tick.
		slog.Debug("monitor rescore skipped", "handle", cur.Features.Handle, "error", err)
		return
	}

	var curFeat *CandidateFeatures
	for i := range feats {
		if feats[i].Handle == cur.Features.Handle {
			curFeat = &feats[i]
			break
		}
	}
	if curFeat == nil {
		m.reportLost(LossRemoved)
		return
	}

	curScore := Score(*curFeat, m.cfg.Weights)
	if curScore <= m.cfg.Floor {
		m.reportLost(LossBelowFloor)
		return
	}

	// Strictly greater only: equal scores never swap, so a stable page
	// keeps a stable selection.
	if best, ok := SelectBest(feats, m.cfg.Weights, m.cfg.Floor); ok &&
		best.Features.Handle != cur.Features.Handle && best.Score > curScore {
		m.mu.Lock()
		m.lost = true
		m.mu.Unlock()
		slog.Info("monitor found better candidate",
			"old_handle", cur.Features.Handle, "old_score", curScore,
			"new_handle", best.Features.Handle, "new_score", best.Score)
		if m.onSwap != nil {
			m.onSwap(best)
		}
		return
	}

	m.mu.Lock()
	m.cur.Features = *curFeat
	m.cur.Score = curScore
	m.mu.Unlock()
}

func (m *Monitor) reportLost(reason string) {
	m.mu.Lock()
	if m.lost {
		m.mu.Unlock()
		return
	}
	m.lost = true
	handle := m.cur.Features.Handle
	m.mu.Unlock()

	slog.Info("monitor lost media", "handle", handle, "reason", reason)
	if m.onLost != nil {
		m.onLost(reason)
	}
}
