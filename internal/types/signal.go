package types

// Trigger signal types consumed from the external capture pipeline. The
// agent only reacts by anchoring/creating a marker; it never decides when
// an annotation starts.
const (
	SignalAnnotationStart = "annotation_start"
	SignalAnnotationStop  = "annotation_stop"
)

// TriggerSignal is one start/stop command from the capture pipeline.
// Timestamp is the playback position in seconds; when nil the agent anchors
// at the current playback position of the detected media.
type TriggerSignal struct {
	Type      string   `json:"type"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}
