// Package input handles the physical button and LED channels.
package input

// Line is a polled digital input. Read returns true while the line is
// active (pressed), with any electrical inversion already applied.
type Line interface {
	Read() (bool, error)
}

// LED is a digital output.
type LED interface {
	Set(on bool) error
}
