// Package pagectl drives third-party pages over the Chrome DevTools
// Protocol: it owns the raw CDP transport, per-tab sessions, and the
// injected probes that detect media elements, locate scrubbers, and render
// the annotation overlay inside pages the agent does not control.
package pagectl

import "time"

// TabHandle describes a tracked page target.
type TabHandle struct {
	TabID string `json:"tab_id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Rect is a bounding box in page viewport coordinates.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the rect's area in square pixels.
func (r Rect) Area() float64 { return r.W * r.H }

// CandidateFeatures is the per-element feature vector reported by the
// in-page collector. Ephemeral: recomputed on every scoring pass and never
// persisted.
type CandidateFeatures struct {
	Handle     string  `json:"handle"`
	FramePath  string  `json:"frame,omitempty"`
	Rect       Rect    `json:"rect"`
	ViewportW  float64 `json:"vw"`
	ViewportH  float64 `json:"vh"`
	Visibility float64 `json:"visible"` // 0..1 fraction of rect inside viewport
	Playing    bool    `json:"playing"`
	Muted      bool    `json:"muted"`
	Autoplay   bool    `json:"autoplay"`
	Controls   bool    `json:"controls"`
	Duration   float64 `json:"duration"` // seconds; 0 when unknown
	ReadyState int     `json:"ready_state"`
	ZIndex     int     `json:"z"`
	Hidden     bool    `json:"hidden"`
	Src        string  `json:"src,omitempty"`
}

// MediaCandidate is an accepted media element with the score that won it
// the selection.
type MediaCandidate struct {
	Features   CandidateFeatures `json:"features"`
	Score      int               `json:"score"`
	Strategy   string            `json:"strategy"`
	AcceptedAt time.Time         `json:"accepted_at"`
}

// Detection strategy names, reported for diagnostics.
const (
	StrategyImmediate = "immediate"
	StrategyMutation  = "mutation_wait"
	StrategyFrames    = "frame_probe"
)

// ScrubberInfo describes a located seek bar.
type ScrubberInfo struct {
	Handle   string `json:"handle"`
	Strategy string `json:"strategy"`
	Rect     Rect   `json:"rect"`
}

// Scrubber locator strategy names, in priority order.
const (
	ScrubStrategyAdapter  = "adapter_selector"
	ScrubStrategyPattern  = "class_pattern"
	ScrubStrategyClimb    = "ancestor_climb"
	ScrubStrategyShadow   = "shadow_recursive"
	ScrubStrategySemantic = "semantic_role"
	ScrubStrategySpatial  = "spatial_sampling"
)

// MediaInfo is the live playback snapshot used by health checks and
// timestamp anchoring.
type MediaInfo struct {
	Connected   bool    `json:"connected"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
	Paused      bool    `json:"paused"`
	Ended       bool    `json:"ended"`
	MediaError  string  `json:"media_error,omitempty"`
	ZeroArea    bool    `json:"zero_area"`
	AdapterOK   bool    `json:"adapter_ok"`
}

// PageInfo is the current document identity of a tab.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}
