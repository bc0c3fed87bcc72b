package agent

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stillpointlabs/vidmark/internal/fixture"
	"github.com/stillpointlabs/vidmark/internal/journal"
	"github.com/stillpointlabs/vidmark/internal/lifecycle"
	"github.com/stillpointlabs/vidmark/internal/tabrouter"
	"github.com/stillpointlabs/vidmark/internal/types"
)

// AgentStatus is the coordinator-wide status snapshot.
type AgentStatus struct {
	StartedAt    time.Time          `json:"started_at"`
	TabCount     int                `json:"tab_count"`
	ContextCount int                `json:"context_count"`
	Subscribers  int                `json:"subscribers"`
	Backend      bool               `json:"backend"`
	Tabs         []lifecycle.Status `json:"tabs"`
}

// Status aggregates every tab's snapshot plus router counts.
func (c *Coordinator) Status() AgentStatus {
	c.mu.Lock()
	started := c.startedAt
	sups := make([]*supervisor, 0, len(c.supervisors))
	for _, sup := range c.supervisors {
		sups = append(sups, sup)
	}
	c.mu.Unlock()

	tabs := make([]lifecycle.Status, 0, len(sups))
	for _, sup := range sups {
		tabs = append(tabs, sup.manager.Status())
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].TabID < tabs[j].TabID })

	return AgentStatus{
		StartedAt:    started,
		TabCount:     len(tabs),
		ContextCount: len(c.router.List()),
		Subscribers:  c.router.SubscriberCount(),
		Backend:      c.backend != nil,
		Tabs:         tabs,
	}
}

// ListTabs returns the tracked tabs sorted by id.
func (c *Coordinator) ListTabs() []types.TabInfo {
	st := c.Status()
	tabs := make([]types.TabInfo, 0, len(st.Tabs))
	for _, s := range st.Tabs {
		tabs = append(tabs, types.TabInfo{
			TabID:    s.TabID,
			URL:      s.URL,
			Title:    s.Title,
			Adapter:  s.Adapter,
			State:    s.State,
			Item:     s.Item,
			Duration: s.Duration,
		})
	}
	return tabs
}

// TabStatus returns one tab's lifecycle snapshot.
func (c *Coordinator) TabStatus(tabID string) (lifecycle.Status, error) {
	sup, err := c.supervisor(tabID)
	if err != nil {
		return lifecycle.Status{}, err
	}
	return sup.manager.Status(), nil
}

// ForceDetect resets a tab's retry budget and queues a fresh detection
// pass. The operator escape hatch for a tab parked in its error state.
func (c *Coordinator) ForceDetect(tabID, reason string) error {
	sup, err := c.supervisor(tabID)
	if err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "manual"
	}
	sup.manager.ForceRedetect(reason)
	return nil
}

// Seek positions the tab's tracked media.
func (c *Coordinator) Seek(ctx context.Context, tabID string, position float64) (float64, error) {
	if position < 0 {
		return 0, types.NewError(types.CodeValidation, "position must be >= 0", nil)
	}
	sup, err := c.supervisor(tabID)
	if err != nil {
		return 0, err
	}
	return sup.manager.Seek(ctx, position)
}

// TabMarkers returns the marker set projected on the tab.
func (c *Coordinator) TabMarkers(tabID string) ([]types.Marker, error) {
	sup, err := c.supervisor(tabID)
	if err != nil {
		return nil, err
	}
	if _, ok := sup.manager.Item(); !ok {
		return nil, types.NewError(types.CodeMediaNotFound, "tab "+tabID+" has no identified media", nil)
	}
	return sup.manager.Markers(), nil
}

// AddMarker creates a marker at the given position on the tab's current
// item. The record is persisted first; a failed overlay render is retried
// by the manager's next sync and never fails the call.
func (c *Coordinator) AddMarker(ctx context.Context, tabID string, position float64, category, text string) (types.Marker, error) {
	if position < 0 {
		return types.Marker{}, types.NewError(types.CodeValidation, "position must be >= 0", nil)
	}
	sup, err := c.supervisor(tabID)
	if err != nil {
		return types.Marker{}, err
	}
	item, ok := sup.manager.Item()
	if !ok {
		return types.Marker{}, types.NewError(types.CodeMediaNotFound, "tab "+tabID+" has no identified media", nil)
	}

	category = strings.TrimSpace(category)
	if category == "" {
		category = types.CategoryManual
	}
	m := types.Marker{
		ID:       uuid.NewString(),
		ItemKey:  item.Key(),
		Position: position,
		Category: category,
		Text:     strings.TrimSpace(text),
	}
	if err := sup.loader.Create(ctx, m); err != nil {
		return types.Marker{}, err
	}
	if err := sup.manager.UpsertMarker(ctx, m); err != nil {
		slog.Debug("agent marker overlay update failed", "tab_id", tabID, "marker_id", m.ID, "error", err)
	}
	return m, nil
}

// DeleteMarker removes a marker from the store and pulls its projection
// off any tab currently showing the item.
func (c *Coordinator) DeleteMarker(ctx context.Context, markerID string) error {
	m, err := c.store.GetMarker(ctx, markerID)
	if err != nil {
		return err
	}
	if _, err := c.store.DeleteMarker(ctx, markerID); err != nil {
		return err
	}

	c.mu.Lock()
	sups := make([]*supervisor, 0, len(c.supervisors))
	for _, sup := range c.supervisors {
		sups = append(sups, sup)
	}
	c.mu.Unlock()

	for _, sup := range sups {
		item, ok := sup.manager.Item()
		if !ok || item.Key() != m.ItemKey {
			continue
		}
		if err := sup.manager.RemoveMarker(ctx, markerID); err != nil && types.ErrorCode(err) != types.CodeMarkerNotFound {
			slog.Debug("agent marker overlay removal failed", "tab_id", sup.tabID, "marker_id", markerID, "error", err)
		}
	}
	return nil
}

// HandleSignal reacts to one start/stop command from the capture pipeline.
// Start anchors the current playback position; stop turns the anchor into
// a voice marker. The created marker is returned on stop, nil on start.
func (c *Coordinator) HandleSignal(ctx context.Context, tabID string, sig types.TriggerSignal) (*types.Marker, error) {
	sup, err := c.supervisor(tabID)
	if err != nil {
		return nil, err
	}
	switch sig.Type {
	case types.SignalAnnotationStart:
		return nil, c.handleStart(ctx, sup, sig)
	case types.SignalAnnotationStop:
		return c.handleStop(ctx, sup)
	default:
		return nil, types.NewError(types.CodeValidation, "unknown signal type: "+sig.Type, nil)
	}
}

func (c *Coordinator) handleStart(ctx context.Context, sup *supervisor, sig types.TriggerSignal) error {
	item, ok := sup.manager.Item()
	if !ok {
		return types.NewError(types.CodeMediaNotFound, "tab "+sup.tabID+" has no identified media", nil)
	}
	var pos float64
	if sig.Timestamp != nil {
		if *sig.Timestamp < 0 {
			return types.NewError(types.CodeValidation, "timestamp must be >= 0", nil)
		}
		pos = *sig.Timestamp
	} else {
		// Last observed position; good enough even if the tab is mid
		// re-detection when the signal lands.
		pos = sup.manager.Status().CurrentTime
	}
	sup.setAnchor(pos, item.Key())
	c.router.SetRecording(ctx, sup.tabID, true)
	c.journalRecord(journal.CategoryEvents, "annotation_start", sup.tabID,
		map[string]any{"position": pos, "item_key": item.Key()})
	return nil
}

func (c *Coordinator) handleStop(ctx context.Context, sup *supervisor) (*types.Marker, error) {
	defer c.router.SetRecording(ctx, sup.tabID, false)

	a, ok := sup.takeAnchor()
	if !ok {
		return nil, types.NewError(types.CodeValidation, "annotation_stop without a matching start", nil)
	}
	item, ok := sup.manager.Item()
	if !ok || item.Key() != a.itemKey {
		return nil, types.NewError(types.CodeValidation, "media changed since the annotation started", nil)
	}

	m := types.Marker{
		ID:       uuid.NewString(),
		ItemKey:  a.itemKey,
		Position: a.position,
		Category: types.CategoryVoice,
	}
	if err := sup.loader.Create(ctx, m); err != nil {
		return nil, err
	}
	if err := sup.manager.UpsertMarker(ctx, m); err != nil {
		slog.Debug("agent marker overlay update failed", "tab_id", sup.tabID, "marker_id", m.ID, "error", err)
	}
	c.journalRecord(journal.CategoryEvents, "annotation_stop", sup.tabID, m)
	return &m, nil
}

// CaptureFixture saves the tab's live DOM plus detection metadata for
// offline heuristic work.
func (c *Coordinator) CaptureFixture(ctx context.Context, tabID, notes string) (fixture.Meta, error) {
	if c.fixtures == nil {
		return fixture.Meta{}, types.NewError(types.CodeInternal, "fixture store not configured", nil)
	}
	sup, err := c.supervisor(tabID)
	if err != nil {
		return fixture.Meta{}, err
	}
	html, err := c.client.DocumentHTML(ctx, tabID)
	if err != nil {
		return fixture.Meta{}, err
	}

	st := sup.manager.Status()
	meta := fixture.Meta{
		ID:      fixture.NewID(),
		URL:     st.URL,
		Title:   st.Title,
		Adapter: st.Adapter,
		Notes:   strings.TrimSpace(notes),
	}
	if st.Item != nil {
		meta.ItemKey = st.Item.Key()
	}
	if err := c.fixtures.Save(meta, []byte(html)); err != nil {
		return fixture.Meta{}, err
	}
	c.saveFixtureScreenshot(ctx, tabID, meta.ID)
	c.journalRecord(journal.CategoryLifecycle, "fixture_captured", tabID, map[string]string{"id": meta.ID, "url": meta.URL})
	return c.fixtures.Get(meta.ID)
}

// saveFixtureScreenshot adds a PNG of the page next to the fixture. Best
// effort: the HTML is the artifact that matters, the image is context.
func (c *Coordinator) saveFixtureScreenshot(ctx context.Context, tabID, fixtureID string) {
	shot, err := c.client.Screenshot(ctx, tabID)
	if err != nil {
		slog.Debug("agent fixture screenshot skipped", "tab_id", tabID, "error", err)
		return
	}
	png, err := base64.StdEncoding.DecodeString(shot)
	if err != nil {
		slog.Debug("agent fixture screenshot decode failed", "tab_id", tabID, "error", err)
		return
	}
	if err := c.fixtures.SaveScreenshot(fixtureID, png); err != nil {
		slog.Debug("agent fixture screenshot save failed", "tab_id", tabID, "error", err)
	}
}

// Subscribe attaches the UI surface for one tab. At most one subscriber
// per tab; a newer one replaces the older.
func (c *Coordinator) Subscribe(tabID string) (int64, <-chan types.UIMessage) {
	return c.router.Subscribe(tabID)
}

func (c *Coordinator) Unsubscribe(tabID string, id int64) {
	c.router.Unsubscribe(tabID, id)
}

// TabContexts returns the router's persisted per-tab records.
func (c *Coordinator) TabContexts() []tabrouter.TabContext {
	return c.router.List()
}
