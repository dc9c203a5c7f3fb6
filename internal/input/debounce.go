package input

import "time"

type debounceState int

const (
	stateIdle debounceState = iota
	stateCandidate
	stateHeld
)

// Debouncer turns a noisy polled level into clean press events. A press is
// confirmed once the line has stayed active for the full window, and the
// line must go inactive again before another press can be confirmed.
type Debouncer struct {
	window time.Duration
	state  debounceState
	since  time.Time
}

// NewDebouncer creates a debouncer with the given confirmation window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Step feeds one polled sample. It returns true exactly once per physical
// press, when the active level has persisted for the window.
func (d *Debouncer) Step(active bool, now time.Time) bool {
	switch d.state {
	case stateIdle:
		if active {
			d.state = stateCandidate
			d.since = now
		}
	case stateCandidate:
		if !active {
			d.state = stateIdle
			return false
		}
		if now.Sub(d.since) >= d.window {
			d.state = stateHeld
			return true
		}
	case stateHeld:
		if !active {
			d.state = stateIdle
		}
	}
	return false
}
