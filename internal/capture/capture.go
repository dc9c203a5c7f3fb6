// Package capture acquires frames from the video device.
package capture

import (
	"context"
	"errors"
	"time"
)

// Frame is one captured frame, already JPEG-encoded.
type Frame struct {
	JPEG      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// Sentinel errors distinguishing recoverable capture hiccups from a device
// that is gone for good.
var (
	// ErrTransient marks a read failure worth retrying (device busy,
	// dropped frame).
	ErrTransient = errors.New("transient capture failure")
	// ErrDeviceGone marks a fatal failure: the capture device is no longer
	// usable and the pipeline must escalate.
	ErrDeviceGone = errors.New("capture device gone")
)

// Source supplies frames on demand. Read blocks until a frame is available,
// the context is cancelled, or the device fails.
type Source interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}
