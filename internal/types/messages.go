package types

import "time"

// Actions carried by UIMessage. Routed exclusively through the tab context
// router; a UI surface only ever sees actions for the tab it subscribed to.
const (
	ActionMediaDetected   = "media_detected"
	ActionMediaLost       = "media_lost"
	ActionTimestampUpdate = "timestamp_update"
	ActionTabChanged      = "tab_changed"
	ActionClearUI         = "clear_ui"
	ActionMarkerAdded     = "marker_added"
)

// UIMessage is the cross-context message schema delivered to the UI
// subscriber of a single tab. Fields beyond Action and TabID are
// action-dependent.
type UIMessage struct {
	Action    string    `json:"action"`
	TabID     string    `json:"tab_id"`
	Item      *ItemID   `json:"item,omitempty"`
	URL       string    `json:"url,omitempty"`
	Title     string    `json:"title,omitempty"`
	Timestamp float64   `json:"timestamp,omitempty"` // playback position, seconds
	Duration  float64   `json:"duration,omitempty"`
	Marker    *Marker   `json:"marker,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}
