// Package detect wraps the person-detection model backends.
package detect

import (
	"fmt"

	"crowdwatch/pkg/types"
)

// Detector runs person detection on a JPEG-encoded frame. Implementations
// are stateful (they own a model session) and not safe for concurrent use;
// the pipeline serializes calls.
type Detector interface {
	// Detect returns the bounding boxes of detected persons with
	// confidence at or above threshold.
	Detect(jpeg []byte, threshold float64) ([]types.BoundingBox, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend     string // "dnn" or "onnx"
	ModelPath   string
	ConfigPath  string // dnn graph config
	OnnxLibPath string // onnxruntime shared library
}

// New creates the detector backend named in opts.
func New(opts Options) (Detector, error) {
	switch opts.Backend {
	case "dnn":
		return NewDNN(opts.ModelPath, opts.ConfigPath)
	case "onnx":
		return NewONNX(opts.ModelPath, opts.OnnxLibPath)
	default:
		return nil, fmt.Errorf("unknown detector backend %q", opts.Backend)
	}
}
