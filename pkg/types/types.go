package types

import "time"

// BoundingBox is one detected person in pixel coordinates.
type BoundingBox struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	Confidence float64 `json:"confidence"`
}

// Snapshot is the latest published world-state of the detection pipeline.
// FrameJPEG carries the annotated frame when overlay drawing is enabled,
// otherwise the raw camera frame. Stale is set once the pipeline is degraded
// and the snapshot no longer reflects a fresh capture.
type Snapshot struct {
	PersonCount   int           `json:"person_count"`
	Density       float64       `json:"density"`
	Boxes         []BoundingBox `json:"boxes,omitempty"`
	FrameJPEG     []byte        `json:"-"`
	InferenceTime time.Duration `json:"-"`
	FrameIndex    uint64        `json:"frame_index"`
	Timestamp     time.Time     `json:"timestamp"`
	Stale         bool          `json:"stale"`
}

// HistoryEntry is one completed detection in the rolling window.
type HistoryEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	PersonCount int       `json:"person_count"`
}

// CrowdRecord is one durable row in the crowd_records table.
type CrowdRecord struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	PersonCount int       `json:"person_count"`
	Weekday     int       `json:"weekday"` // 0=Monday .. 6=Sunday
}

// RollingStats summarizes the current rolling window.
type RollingStats struct {
	Avg        float64 `json:"avg"`
	Min        int     `json:"min"`
	Max        int     `json:"max"`
	WindowSize int     `json:"window_size"`
}

// CrowdLevel is the classification of a person count against the configured
// threshold table.
type CrowdLevel struct {
	Level     string `json:"level"`
	WaitRange string `json:"wait_range"`
}

// SaveResult reports the outcome of a manual save attempt.
type SaveResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Manual save rejection reasons. These are stable strings consumed by the
// web API and by the LED feedback path.
const (
	ReasonOutsideWindow = "outside_save_window"
	ReasonNoSnapshot    = "no_snapshot"
	ReasonWriteFailed   = "write_failed"
	ReasonStopped       = "stopped"
)

// Weekday converts Go's Sunday-based weekday to the Monday-based index used
// by the crowd_records schema.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
