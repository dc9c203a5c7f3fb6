package persist

import (
	"crowdwatch/internal/config"
)

// Window is the daily wall-clock interval during which records may be
// saved, in minutes since midnight. Start and end are inclusive.
type Window struct {
	start int
	end   int
}

// NewWindow parses "HH:MM" bounds into a Window.
func NewWindow(start, end string) (Window, error) {
	s, err := config.ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := config.ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	return Window{start: s, end: e}, nil
}

// Contains reports whether the wall-clock minute of day lies inside the
// window. A window with end before start wraps past midnight.
func (w Window) Contains(minuteOfDay int) bool {
	if w.start <= w.end {
		return minuteOfDay >= w.start && minuteOfDay <= w.end
	}
	return minuteOfDay >= w.start || minuteOfDay <= w.end
}
