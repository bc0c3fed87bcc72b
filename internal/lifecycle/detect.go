package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/stillpointlabs/vidmark/internal/pagectl"
	"github.com/stillpointlabs/vidmark/internal/site"
	"github.com/stillpointlabs/vidmark/internal/types"
)

// Candidate cap shared by the monitor's periodic collects.
const monitorCandidateLimit = 12

// detect runs one full detection pass: fresh epoch, adapter binding, media
// detection, scrubber location, overlay rebind, monitor start. Failure at
// any required step lands in the error state; a missing scrubber does not,
// the tab stays ready and health passes keep looking for the bar.
func (m *Manager) detect(ctx context.Context, reason string) {
	if m.State() == StateReady {
		return
	}
	m.setState(StateDetecting)

	epoch, err := m.cfg.Driver.InitEpoch(ctx, m.cfg.TabID)
	if err != nil {
		m.enterError("epoch", err)
		return
	}
	m.epoch = epoch

	info, err := m.cfg.Driver.PageInfo(ctx, m.cfg.TabID)
	if err != nil {
		m.enterError("page_info", err)
		return
	}

	adapter := m.cfg.Registry.Select(info.URL)
	item := site.Identify(adapter, info.URL)
	m.adapter = adapter

	prev, hadPrev := m.Item()
	if hadPrev && prev.Key() != item.Key() {
		// New item: the old markers must never bleed onto it.
		m.overlay.SetMarkers(nil)
	}
	m.updateStatus(func(s *Status) {
		it := item
		s.URL = info.URL
		s.Title = info.Title
		s.Adapter = adapter.Name()
		s.Item = &it
	})

	cand, err := m.cfg.Driver.DetectMedia(ctx, m.cfg.TabID, adapter.MediaSelectors(), pagectl.DetectOptions{
		WaitMS:     int(m.cfg.DetectWait / time.Millisecond),
		ScoreFloor: m.cfg.ScoreFloor,
		Weights:    m.cfg.Weights,
	})
	if err != nil {
		m.enterError("detect", err)
		return
	}

	dur, err := m.cfg.Driver.AcceptCandidate(ctx, m.cfg.TabID, cand.Features.Handle, epoch)
	if err != nil {
		m.enterError("accept", err)
		return
	}
	if dur > 0 {
		cand.Features.Duration = dur
	}
	cand = pagectl.Accepted(cand)
	m.current = cand

	scrub, serr := m.cfg.Driver.LocateScrubber(ctx, m.cfg.TabID, cand.Features.Handle,
		adapter.ScrubberSelectors(), m.cfg.ClimbDepth, m.cfg.SamplePoints)
	if serr != nil {
		// Degraded mode: tracking works without a bar, markers render once
		// a later health pass finds one.
		slog.Warn("lifecycle scrubber not located", "tab_id", m.cfg.TabID, "error", serr)
		scrub = pagectl.ScrubberInfo{}
	}
	m.scrubber = scrub
	m.overlay.Reset(epoch, scrub)
	m.overlay.SetDuration(dur)

	m.startMonitor(ctx, cand, adapter.MediaSelectors(), epoch)

	m.attempts = 0
	m.exhausted = false
	m.healthMisses = 0
	m.updateStatus(func(s *Status) {
		s.Strategy = cand.Strategy
		s.Score = cand.Score
		s.Duration = cand.Features.Duration
		s.CurrentTime = 0
		s.ScrubberStrategy = scrub.Strategy
		s.RedetectAttempts = 0
		s.DetectedAt = cand.AcceptedAt
	})
	m.setState(StateReady)
	slog.Info("lifecycle media detected",
		"tab_id", m.cfg.TabID, "reason", reason, "adapter", adapter.Name(),
		"item", item.Key(), "strategy", cand.Strategy, "score", cand.Score,
		"scrubber", scrub.Strategy)

	it := item
	m.publish(types.UIMessage{
		Action:   types.ActionMediaDetected,
		Item:     &it,
		URL:      info.URL,
		Title:    info.Title,
		Duration: cand.Features.Duration,
	})

	m.loadMarkers(ctx, item)
	if err := m.overlay.Sync(ctx); err != nil && scrub.Handle != "" {
		slog.Debug("lifecycle overlay sync failed", "tab_id", m.cfg.TabID, "error", err)
	}
}

func (m *Manager) startMonitor(ctx context.Context, cand pagectl.MediaCandidate, selectors []string, epoch int) {
	collect := func(cctx context.Context) ([]pagectl.CandidateFeatures, error) {
		return m.cfg.Driver.CollectCandidates(cctx, m.cfg.TabID, selectors, monitorCandidateLimit)
	}
	mon := pagectl.NewMonitor(collect, pagectl.MonitorConfig{
		Interval: m.cfg.MonitorInterval,
		Weights:  m.cfg.Weights,
		Floor:    m.cfg.ScoreFloor,
	}, func(next pagectl.MediaCandidate) {
		m.enqueue(command{op: opSwap, candidate: next, epoch: epoch})
	}, func(reason string) {
		m.enqueue(command{op: opLost, reason: reason, epoch: epoch})
	})
	mon.Start(ctx, cand)
	m.monitor = mon
}

func (m *Manager) enterError(step string, err error) {
	slog.Warn("lifecycle detect failed", "tab_id", m.cfg.TabID, "step", step, "error", err)
	if m.monitor != nil {
		m.monitor.Stop()
		m.monitor = nil
	}
	m.current = pagectl.MediaCandidate{}
	m.scrubber = pagectl.ScrubberInfo{}
	m.updateStatus(func(s *Status) {
		s.Strategy = ""
		s.Score = 0
		s.CurrentTime = 0
		s.ScrubberStrategy = ""
	})
	m.setState(StateError)
}

// leaveReady tears down tracking state and announces the loss. Every path
// that can republish media detected goes through here first, so the lost
// message always lands before the next detected one.
func (m *Manager) leaveReady(reason string) {
	if m.State() != StateReady {
		return
	}
	if m.monitor != nil {
		m.monitor.Stop()
		m.monitor = nil
	}
	m.publishLost(reason)
	m.current = pagectl.MediaCandidate{}
	m.updateStatus(func(s *Status) {
		s.Strategy = ""
		s.Score = 0
		s.CurrentTime = 0
	})
	m.setState(StateDetecting)
	slog.Info("lifecycle media lost", "tab_id", m.cfg.TabID, "reason", reason)
}

// redetectTick is one bounded retry out of the error state.
func (m *Manager) redetectTick(ctx context.Context) {
	if m.exhausted {
		return
	}
	m.attempts++
	m.updateStatus(func(s *Status) { s.RedetectAttempts = m.attempts })
	slog.Debug("lifecycle redetect", "tab_id", m.cfg.TabID, "attempt", m.attempts)
	m.detect(ctx, "redetect")
	if m.State() == StateError && m.attempts >= m.cfg.RedetectMax {
		m.exhausted = true
		slog.Warn("lifecycle redetect budget exhausted", "tab_id", m.cfg.TabID, "attempts", m.attempts)
		if m.cfg.OnExhausted != nil {
			go m.cfg.OnExhausted(m.cfg.TabID, m.attempts)
		}
	}
}

// healthCheck verifies the tracked element is still alive and useful. One
// transport miss is tolerated (transient CDP weather); two in a row, or a
// bad snapshot, sends the tab back through detection.
func (m *Manager) healthCheck(ctx context.Context) {
	adapterJS := ""
	if m.adapter != nil {
		adapterJS = m.adapter.HealthJS()
	}
	snap, err := m.cfg.Driver.MediaSnapshot(ctx, m.cfg.TabID, m.current.Features.Handle, adapterJS)
	if err != nil {
		m.healthMisses++
		slog.Debug("lifecycle health snapshot failed",
			"tab_id", m.cfg.TabID, "misses", m.healthMisses, "error", err)
		if m.healthMisses >= 2 {
			m.leaveReady("health_check")
			m.detect(ctx, "health_check")
		}
		return
	}
	m.healthMisses = 0

	if !snap.Connected || snap.MediaError != "" || !snap.AdapterOK {
		reason := "health_check"
		switch {
		case !snap.Connected:
			reason = "media_removed"
		case snap.MediaError != "":
			reason = "media_error"
		case !snap.AdapterOK:
			reason = "adapter_check"
		}
		m.leaveReady(reason)
		m.detect(ctx, reason)
		return
	}

	if m.overlay.SetDuration(snap.Duration) {
		if err := m.overlay.Sync(ctx); err != nil {
			slog.Debug("lifecycle overlay sync failed", "tab_id", m.cfg.TabID, "error", err)
		}
	}
	m.updateStatus(func(s *Status) {
		s.CurrentTime = snap.CurrentTime
		if snap.Duration > 0 {
			s.Duration = snap.Duration
		}
	})

	if m.scrubber.Handle == "" {
		m.relocateScrubber(ctx)
	}
}

// relocateScrubber retries the bar hunt for a tab that went ready without
// one. Players often build their controls well after the media mounts.
func (m *Manager) relocateScrubber(ctx context.Context) {
	var selectors []string
	if m.adapter != nil {
		selectors = m.adapter.ScrubberSelectors()
	}
	scrub, err := m.cfg.Driver.LocateScrubber(ctx, m.cfg.TabID, m.current.Features.Handle,
		selectors, m.cfg.ClimbDepth, m.cfg.SamplePoints)
	if err != nil {
		return
	}
	m.scrubber = scrub
	m.overlay.Reset(m.epoch, scrub)
	m.updateStatus(func(s *Status) { s.ScrubberStrategy = scrub.Strategy })
	slog.Info("lifecycle scrubber located late",
		"tab_id", m.cfg.TabID, "strategy", scrub.Strategy)
	if err := m.overlay.Sync(ctx); err != nil {
		slog.Debug("lifecycle overlay sync failed", "tab_id", m.cfg.TabID, "error", err)
	}
}

// loadMarkers fetches the item's marker set off the loop and applies it
// when it lands, if the tab still shows the same item.
func (m *Manager) loadMarkers(ctx context.Context, item types.ItemID) {
	if m.cfg.Markers == nil || item.IsZero() {
		return
	}
	go func() {
		ms, err := m.cfg.Markers.MarkersFor(ctx, m.cfg.TabID, item)
		if err != nil {
			slog.Warn("lifecycle marker load failed",
				"tab_id", m.cfg.TabID, "item", item.Key(), "error", err)
			return
		}
		m.enqueue(command{op: opMarkersLoaded, markers: ms, item: item})
	}()
}
