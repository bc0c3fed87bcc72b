// Package lifecycle owns the per-tab detection state machine: idle until
// started, detecting while probes run, ready while a media element is
// tracked, error while bounded re-detection retries. Everything that can
// go wrong on a hostile page funnels into a state transition here; nothing
// escalates past the tab.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stillpointlabs/vidmark/internal/pagectl"
	"github.com/stillpointlabs/vidmark/internal/site"
	"github.com/stillpointlabs/vidmark/internal/types"
)

// Tab states.
const (
	StateIdle      = "idle"
	StateDetecting = "detecting"
	StateReady     = "ready"
	StateError     = "error"
)

// PageDriver is the page-side surface the manager drives. Implemented by
// pagectl.Client; faked in tests.
type PageDriver interface {
	InitEpoch(ctx context.Context, tabID string) (int, error)
	PageInfo(ctx context.Context, tabID string) (pagectl.PageInfo, error)
	DetectMedia(ctx context.Context, tabID string, selectors []string, opts pagectl.DetectOptions) (pagectl.MediaCandidate, error)
	AcceptCandidate(ctx context.Context, tabID, handle string, epoch int) (float64, error)
	CollectCandidates(ctx context.Context, tabID string, selectors []string, limit int) ([]pagectl.CandidateFeatures, error)
	LocateScrubber(ctx context.Context, tabID, mediaHandle string, adapterSelectors []string, climbDepth, samplePoints int) (pagectl.ScrubberInfo, error)
	MediaSnapshot(ctx context.Context, tabID, handle, adapterHealthJS string) (pagectl.MediaInfo, error)
	Seek(ctx context.Context, tabID, handle string, position float64) (float64, error)
	EnsureOverlay(ctx context.Context, tabID, scrubberHandle string, epoch int) (pagectl.Rect, error)
	RenderMarkers(ctx context.Context, tabID, scrubberHandle string, items []pagectl.MarkerPlacement, epoch int) (int, error)
	ClearOverlay(ctx context.Context, tabID string) error
}

// MarkerSource loads the marker set for an item. Implementations handle
// caching, dedup, and staleness; the manager only applies what comes back
// if the item is still current.
type MarkerSource interface {
	MarkersFor(ctx context.Context, tabID string, item types.ItemID) ([]types.Marker, error)
}

// EventSink receives the manager's UI-facing messages.
type EventSink interface {
	Publish(msg types.UIMessage)
}

// Config wires one manager to one tab.
type Config struct {
	TabID    string
	Driver   PageDriver
	Registry *site.Registry
	Markers  MarkerSource
	Sink     EventSink

	DetectWait       time.Duration
	MonitorInterval  time.Duration
	HealthInterval   time.Duration
	RedetectInterval time.Duration
	RedetectMax      int

	ScoreFloor   int
	Weights      pagectl.ScoreWeights
	ClimbDepth   int
	SamplePoints int

	// OnExhausted fires once when the re-detection budget runs out.
	OnExhausted func(tabID string, attempts int)
}

func (c Config) withDefaults() Config {
	if c.DetectWait <= 0 {
		c.DetectWait = 8 * time.Second
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 5 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 10 * time.Second
	}
	if c.RedetectInterval <= 0 {
		c.RedetectInterval = 3 * time.Second
	}
	if c.RedetectMax <= 0 {
		c.RedetectMax = 20
	}
	if c.Weights == (pagectl.ScoreWeights{}) {
		c.Weights = pagectl.DefaultScoreWeights()
	}
	return c
}

// Status is a point-in-time snapshot of the manager, safe to read from any
// goroutine.
type Status struct {
	TabID            string        `json:"tab_id"`
	State            string        `json:"state"`
	URL              string        `json:"url,omitempty"`
	Title            string        `json:"title,omitempty"`
	Adapter          string        `json:"adapter,omitempty"`
	Item             *types.ItemID `json:"item,omitempty"`
	Strategy         string        `json:"strategy,omitempty"`
	Score            int           `json:"score,omitempty"`
	Duration         float64       `json:"duration,omitempty"`
	CurrentTime      float64       `json:"current_time,omitempty"`
	ScrubberStrategy string        `json:"scrubber_strategy,omitempty"`
	MarkerCount      int           `json:"marker_count"`
	RedetectAttempts int           `json:"redetect_attempts,omitempty"`
	DetectedAt       time.Time     `json:"detected_at,omitempty"`
}

// Command ops for the run loop.
const (
	opDetect        = "detect"
	opBinding       = "binding"
	opLost          = "lost"
	opSwap          = "swap"
	opPageLoad      = "pageload"
	opNavSettled    = "nav_settled"
	opMarkersLoaded = "markers_loaded"
	opUpsertMarker  = "upsert_marker"
	opRemoveMarker  = "remove_marker"
	opSeek          = "seek"
	opForce         = "force"
)

type command struct {
	op        string
	binding   pagectl.BindingEvent
	candidate pagectl.MediaCandidate
	epoch     int
	navSeq    uint64
	force     bool
	reason    string
	marker    types.Marker
	markerID  string
	markers   []types.Marker
	item      types.ItemID
	position  float64
	url       string
	reply     chan cmdResult
}

type cmdResult struct {
	err error
	val float64
}

// Manager runs one tab's state machine on a single goroutine; public
// methods enqueue commands so every transition is serialized and a media
// lost message always lands before the matching media detected.
type Manager struct {
	cfg Config

	cmds     chan command
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// Loop-owned working state. Only the run loop touches these.
	epoch        int
	adapter      site.Adapter
	current      pagectl.MediaCandidate
	scrubber     pagectl.ScrubberInfo
	overlay      *pagectl.Overlay
	monitor      *pagectl.Monitor
	attempts     int
	exhausted    bool
	healthMisses int
	navSeq       uint64

	// Snapshot state, guarded for readers on other goroutines.
	mu     sync.Mutex
	status Status
}

func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		cfg:  cfg,
		cmds: make(chan command, 64),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		status: Status{
			TabID: cfg.TabID,
			State: StateIdle,
		},
	}
	m.overlay = pagectl.NewOverlay(cfg.Driver, cfg.TabID)
	return m
}

// Start launches the run loop and queues the first detection pass.
func (m *Manager) Start(ctx context.Context) {
	go m.run(ctx)
	m.enqueue(command{op: opDetect, reason: "start"})
}

// Stop halts the loop, releases every page-side observer and timer, and
// waits for the loop to exit. A ready tab gets a final media lost message.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

// ForceRedetect resets the retry budget and runs a fresh detection pass.
func (m *Manager) ForceRedetect(reason string) {
	m.enqueue(command{op: opForce, reason: reason})
}

// HandleBinding feeds one decoded page event into the loop. Called from
// the CDP dispatch goroutine; never blocks it.
func (m *Manager) HandleBinding(ev pagectl.BindingEvent) {
	m.enqueue(command{op: opBinding, binding: ev})
}

// HandlePageLoad reacts to a committed fresh document.
func (m *Manager) HandlePageLoad() {
	m.enqueue(command{op: opPageLoad})
}

// UpsertMarker adds or updates a marker on the tab's overlay.
func (m *Manager) UpsertMarker(ctx context.Context, marker types.Marker) error {
	_, err := m.request(ctx, command{op: opUpsertMarker, marker: marker})
	return err
}

// RemoveMarker removes a marker by id.
func (m *Manager) RemoveMarker(ctx context.Context, markerID string) error {
	_, err := m.request(ctx, command{op: opRemoveMarker, markerID: markerID})
	return err
}

// Markers returns the tab's current marker set.
func (m *Manager) Markers() []types.Marker {
	return m.overlay.Markers()
}

// Seek positions the tracked media. Fails unless the tab is ready.
func (m *Manager) Seek(ctx context.Context, position float64) (float64, error) {
	return m.request(ctx, command{op: opSeek, position: position})
}

// Status returns a snapshot safe for concurrent readers.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status
	st.MarkerCount = len(m.overlay.Markers())
	return st
}

// State returns the current machine state.
func (m *Manager) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.State
}

// Item returns the identity of the tracked item, if any.
func (m *Manager) Item() (types.ItemID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.Item == nil {
		return types.ItemID{}, false
	}
	return *m.status.Item, true
}

func (m *Manager) enqueue(cmd command) {
	select {
	case m.cmds <- cmd:
	case <-m.done:
	default:
		// The loop is wedged or flooded; page events are advisory and the
		// next health tick repairs anything a dropped one would have.
		slog.Warn("lifecycle command dropped", "tab_id", m.cfg.TabID, "op", cmd.op)
	}
}

func (m *Manager) request(ctx context.Context, cmd command) (float64, error) {
	cmd.reply = make(chan cmdResult, 1)
	select {
	case m.cmds <- cmd:
	case <-m.done:
		return 0, types.NewError(types.CodeTabNotFound, "tab manager stopped", nil)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res.val, res.err
	case <-m.done:
		return 0, types.NewError(types.CodeTabNotFound, "tab manager stopped", nil)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	health := time.NewTicker(m.cfg.HealthInterval)
	defer health.Stop()
	redetect := time.NewTicker(m.cfg.RedetectInterval)
	defer redetect.Stop()

	for {
		select {
		case <-m.stop:
			m.teardown()
			return
		case <-ctx.Done():
			m.teardown()
			return
		case cmd := <-m.cmds:
			m.handle(ctx, cmd)
		case <-health.C:
			if m.State() == StateReady {
				m.healthCheck(ctx)
			}
		case <-redetect.C:
			if m.State() == StateError {
				m.redetectTick(ctx)
			}
		}
	}
}

func (m *Manager) handle(ctx context.Context, cmd command) {
	switch cmd.op {
	case opDetect:
		m.detect(ctx, cmd.reason)
	case opForce:
		m.attempts = 0
		m.exhausted = false
		m.leaveReady(cmd.reason)
		m.detect(ctx, cmd.reason)
	case opBinding:
		m.handleBinding(ctx, cmd.binding)
	case opLost:
		if cmd.epoch != m.epoch || m.State() != StateReady {
			return
		}
		m.leaveReady(cmd.reason)
		m.detect(ctx, cmd.reason)
	case opSwap:
		if cmd.epoch != m.epoch || m.State() != StateReady {
			return
		}
		slog.Info("lifecycle media superseded",
			"tab_id", m.cfg.TabID,
			"handle", cmd.candidate.Features.Handle, "score", cmd.candidate.Score)
		m.leaveReady(pagectl.LossSuperseded)
		m.detect(ctx, pagectl.LossSuperseded)
	case opPageLoad:
		m.scheduleNavSettle("", true)
	case opNavSettled:
		m.handleNavSettled(ctx, cmd)
	case opMarkersLoaded:
		m.handleMarkersLoaded(ctx, cmd)
	case opUpsertMarker:
		cmd.reply <- cmdResult{err: m.handleUpsertMarker(ctx, cmd.marker)}
	case opRemoveMarker:
		cmd.reply <- cmdResult{err: m.handleRemoveMarker(ctx, cmd.markerID)}
	case opSeek:
		val, err := m.handleSeek(ctx, cmd.position)
		cmd.reply <- cmdResult{val: val, err: err}
	}
}

// teardown releases everything the manager holds on the page: the monitor
// goroutine, the epoch-scoped observers, and the rendered overlay.
func (m *Manager) teardown() {
	if m.monitor != nil {
		m.monitor.Stop()
		m.monitor = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := m.cfg.Driver.InitEpoch(ctx, m.cfg.TabID); err != nil {
		slog.Debug("lifecycle teardown epoch bump failed", "tab_id", m.cfg.TabID, "error", err)
	}
	if err := m.cfg.Driver.ClearOverlay(ctx, m.cfg.TabID); err != nil {
		slog.Debug("lifecycle teardown overlay clear failed", "tab_id", m.cfg.TabID, "error", err)
	}

	if m.State() == StateReady {
		m.publishLost("stopped")
	}
	m.setState(StateIdle)
	slog.Info("lifecycle stopped", "tab_id", m.cfg.TabID)
}

func (m *Manager) setState(state string) {
	m.mu.Lock()
	prev := m.status.State
	m.status.State = state
	m.mu.Unlock()
	if prev != state {
		slog.Info("lifecycle state", "tab_id", m.cfg.TabID, "from", prev, "to", state)
	}
}

func (m *Manager) updateStatus(fn func(*Status)) {
	m.mu.Lock()
	fn(&m.status)
	m.mu.Unlock()
}

func (m *Manager) publish(msg types.UIMessage) {
	if m.cfg.Sink == nil {
		return
	}
	msg.TabID = m.cfg.TabID
	msg.At = time.Now()
	m.cfg.Sink.Publish(msg)
}

func (m *Manager) publishLost(reason string) {
	st := m.Status()
	m.publish(types.UIMessage{
		Action: types.ActionMediaLost,
		Item:   st.Item,
		URL:    st.URL,
		Reason: reason,
	})
}
