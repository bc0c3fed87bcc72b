package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/stillpointlabs/vidmark/internal/pagectl"
	"github.com/stillpointlabs/vidmark/internal/site"
	"github.com/stillpointlabs/vidmark/internal/types"
)

// handleBinding dispatches one page event. Navigation is epoch-free (the
// document that emitted it may already be gone); everything else from a
// stale epoch is dropped, those observers belong to a page context the
// manager has moved past.
func (m *Manager) handleBinding(ctx context.Context, ev pagectl.BindingEvent) {
	if ev.Kind == pagectl.EventNavigated {
		m.scheduleNavSettle(ev.URL, false)
		return
	}
	if ev.Epoch != m.epoch {
		return
	}

	switch ev.Kind {
	case pagectl.EventTime:
		if m.State() != StateReady {
			return
		}
		m.updateStatus(func(s *Status) {
			s.CurrentTime = ev.Time
			if ev.Duration > 0 {
				s.Duration = ev.Duration
			}
		})
		if m.overlay.SetDuration(ev.Duration) {
			m.syncOverlay(ctx)
		}
		m.publish(types.UIMessage{
			Action:    types.ActionTimestampUpdate,
			Timestamp: ev.Time,
			Duration:  m.overlay.Duration(),
		})

	case pagectl.EventDuration:
		if ev.Duration <= 0 {
			return
		}
		m.updateStatus(func(s *Status) { s.Duration = ev.Duration })
		if m.overlay.SetDuration(ev.Duration) {
			m.syncOverlay(ctx)
		}

	case pagectl.EventVisibility:
		if m.monitor != nil {
			m.monitor.Nudge()
		}

	case pagectl.EventMediaError:
		if m.State() != StateReady {
			return
		}
		slog.Warn("lifecycle media error",
			"tab_id", m.cfg.TabID, "code", ev.Code, "message", ev.Message)
		m.leaveReady("media_error")
		m.detect(ctx, "media_error")

	case pagectl.EventMediaGone:
		if m.State() != StateReady {
			return
		}
		m.leaveReady(pagectl.LossRemoved)
		m.detect(ctx, pagectl.LossRemoved)

	case pagectl.EventContainerLost:
		m.overlay.Detached()
		if m.State() != StateReady {
			return
		}
		if err := m.overlay.Sync(ctx); err != nil {
			if types.ErrorCode(err) == types.CodeScrubberNotFound {
				// The bar went with the container. Health passes re-locate.
				m.scrubber = pagectl.ScrubberInfo{}
				m.overlay.Reset(m.epoch, m.scrubber)
				m.updateStatus(func(s *Status) { s.ScrubberStrategy = "" })
				slog.Debug("lifecycle scrubber gone with container", "tab_id", m.cfg.TabID)
			} else {
				slog.Debug("lifecycle overlay rebuild failed", "tab_id", m.cfg.TabID, "error", err)
			}
		}

	case pagectl.EventScrubberResize:
		if m.State() == StateReady {
			m.syncOverlay(ctx)
		}

	case pagectl.EventMarkerClick:
		if m.State() != StateReady {
			return
		}
		pos, err := m.cfg.Driver.Seek(ctx, m.cfg.TabID, m.current.Features.Handle, ev.Position)
		if err != nil {
			slog.Warn("lifecycle marker seek failed",
				"tab_id", m.cfg.TabID, "marker_id", ev.MarkerID, "error", err)
			return
		}
		m.updateStatus(func(s *Status) { s.CurrentTime = pos })
		m.publish(types.UIMessage{
			Action:    types.ActionTimestampUpdate,
			Timestamp: pos,
			Duration:  m.overlay.Duration(),
		})
	}
}

// scheduleNavSettle waits out the adapter's settle window before reacting
// to a navigation. Rapid-fire history churn coalesces: only the newest
// scheduled settle survives the sequence check.
func (m *Manager) scheduleNavSettle(url string, force bool) {
	m.navSeq++
	seq := m.navSeq
	settle := 500 * time.Millisecond
	if m.adapter != nil {
		settle = time.Duration(m.adapter.NavSettleMS()) * time.Millisecond
	}
	time.AfterFunc(settle, func() {
		m.enqueue(command{op: opNavSettled, navSeq: seq, url: url, force: force})
	})
}

// handleNavSettled decides whether a navigation changed the item. A soft
// navigation that keeps the item key keeps the ready state; anything else
// restarts detection with a fresh retry budget.
func (m *Manager) handleNavSettled(ctx context.Context, cmd command) {
	if cmd.navSeq != m.navSeq {
		return
	}
	url := cmd.url
	if url == "" {
		info, err := m.cfg.Driver.PageInfo(ctx, m.cfg.TabID)
		if err != nil {
			slog.Debug("lifecycle nav page info failed", "tab_id", m.cfg.TabID, "error", err)
			m.leaveReady("navigated")
			m.detect(ctx, "navigated")
			return
		}
		url = info.URL
	}

	adapter := m.cfg.Registry.Select(url)
	item := site.Identify(adapter, url)
	cur, ok := m.Item()
	if !cmd.force && ok && m.State() == StateReady && cur.Key() == item.Key() {
		m.updateStatus(func(s *Status) { s.URL = url })
		return
	}

	if ok && !item.IsZero() && cur.Key() != item.Key() {
		m.publish(types.UIMessage{
			Action: types.ActionTabChanged,
			TabID:  m.cfg.TabID,
			Item:   &item,
			URL:    url,
		})
	}

	m.attempts = 0
	m.exhausted = false
	m.leaveReady("navigated")
	m.detect(ctx, "navigated")
}

func (m *Manager) handleMarkersLoaded(ctx context.Context, cmd command) {
	cur, ok := m.Item()
	if !ok || cur.Key() != cmd.item.Key() {
		// The tab moved on while the fetch was in flight.
		return
	}
	m.overlay.SetMarkers(cmd.markers)
	slog.Debug("lifecycle markers loaded",
		"tab_id", m.cfg.TabID, "item", cmd.item.Key(), "count", len(cmd.markers))
	if m.State() == StateReady {
		m.syncOverlay(ctx)
	}
}

// handleUpsertMarker records the marker and projects it onto the page when
// possible. The record always wins: a failed render is retried by the next
// sync, never surfaced to the caller.
func (m *Manager) handleUpsertMarker(ctx context.Context, marker types.Marker) error {
	m.overlay.Upsert(marker)
	if m.State() == StateReady {
		m.syncOverlay(ctx)
	}
	st := m.Status()
	mk := marker
	m.publish(types.UIMessage{
		Action: types.ActionMarkerAdded,
		Item:   st.Item,
		Marker: &mk,
	})
	return nil
}

func (m *Manager) handleRemoveMarker(ctx context.Context, markerID string) error {
	if !m.overlay.Remove(markerID) {
		return types.NewError(types.CodeMarkerNotFound, "marker "+markerID+" not on this tab", nil)
	}
	if m.State() == StateReady {
		m.syncOverlay(ctx)
	}
	return nil
}

func (m *Manager) handleSeek(ctx context.Context, position float64) (float64, error) {
	if m.State() != StateReady {
		return 0, types.NewError(types.CodeMediaNotFound, "tab has no tracked media", nil)
	}
	pos, err := m.cfg.Driver.Seek(ctx, m.cfg.TabID, m.current.Features.Handle, position)
	if err != nil {
		return 0, err
	}
	m.updateStatus(func(s *Status) { s.CurrentTime = pos })
	m.publish(types.UIMessage{
		Action:    types.ActionTimestampUpdate,
		Timestamp: pos,
		Duration:  m.overlay.Duration(),
	})
	return pos, nil
}

func (m *Manager) syncOverlay(ctx context.Context) {
	if err := m.overlay.Sync(ctx); err != nil {
		if types.ErrorCode(err) != types.CodeScrubberNotFound {
			slog.Debug("lifecycle overlay sync failed", "tab_id", m.cfg.TabID, "error", err)
		}
	}
}
