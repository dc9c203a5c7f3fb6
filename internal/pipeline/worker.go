// Package pipeline runs the capture-detect-publish loop and owns the
// latest-snapshot store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"crowdwatch/internal/annotate"
	"crowdwatch/internal/capture"
	"crowdwatch/internal/detect"
	"crowdwatch/internal/logger"
	"crowdwatch/internal/metrics"
	"crowdwatch/internal/stats"
	"crowdwatch/pkg/types"
)

const (
	initialBackoff = 50 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// WorkerConfig carries the tunables the worker needs from the model section.
type WorkerConfig struct {
	DetectionInterval   int
	Capacity            int
	ConfidenceThreshold float64
	JPEGQuality         int
}

// Worker drives the pipeline: read a frame, detect every Nth frame, reuse
// the previous detection in between, publish a snapshot either way.
type Worker struct {
	source     capture.Source
	detector   detect.Detector
	aggregator *stats.Aggregator
	snapshots  *SnapshotStore
	metrics    *metrics.Metrics
	cfg        WorkerConfig

	// confidence threshold as float bits, tunable at runtime
	confidence atomic.Uint64
}

// NewWorker wires the pipeline stages together.
func NewWorker(source capture.Source, detector detect.Detector, aggregator *stats.Aggregator,
	snapshots *SnapshotStore, m *metrics.Metrics, cfg WorkerConfig) *Worker {
	if cfg.DetectionInterval < 1 {
		cfg.DetectionInterval = 1
	}
	w := &Worker{
		source:     source,
		detector:   detector,
		aggregator: aggregator,
		snapshots:  snapshots,
		metrics:    m,
		cfg:        cfg,
	}
	w.confidence.Store(math.Float64bits(cfg.ConfidenceThreshold))
	return w
}

// Confidence returns the current detection threshold.
func (w *Worker) Confidence() float64 {
	return math.Float64frombits(w.confidence.Load())
}

// SetConfidence changes the detection threshold for subsequent detections.
// Callers validate the range.
func (w *Worker) SetConfidence(v float64) {
	w.confidence.Store(math.Float64bits(v))
	logger.Info("Pipeline", "Confidence threshold set to %.2f", v)
}

// Run loops until the context is cancelled or the capture device fails
// permanently. Transient capture errors back off with a ceiling; once the
// ceiling is reached the pipeline is marked degraded but keeps retrying and
// keeps serving the last snapshot.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info("Pipeline", "Detection worker started (interval=%d, capacity=%d)",
		w.cfg.DetectionInterval, w.cfg.Capacity)

	var (
		frameIndex uint64
		backoff    = initialBackoff
		degraded   bool
		lastBoxes  []types.BoundingBox
		lastCount  int
		lastInfer  time.Duration
	)

	for {
		if err := ctx.Err(); err != nil {
			logger.Info("Pipeline", "Detection worker stopping")
			return nil
		}

		frame, err := w.source.Read(ctx)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				logger.Info("Pipeline", "Detection worker stopping")
				return nil
			case errors.Is(err, capture.ErrDeviceGone):
				logger.Error("Pipeline", "Capture device gone: %v", err)
				return fmt.Errorf("capture failed permanently: %w", err)
			default:
				w.metrics.CaptureRetries.Add(1)
				if backoff >= maxBackoff && !degraded {
					degraded = true
					w.metrics.Degraded.Store(1)
					w.snapshots.MarkStale()
					logger.Warn("Pipeline", "Entering degraded mode after repeated capture failures")
				}
				if !sleepCtx(ctx, backoff) {
					return nil
				}
				if backoff *= 2; backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}
		}

		w.metrics.FramesRead.Add(1)
		if degraded {
			degraded = false
			w.metrics.Degraded.Store(0)
			logger.Info("Pipeline", "Capture recovered, leaving degraded mode")
		}
		backoff = initialBackoff

		frameIndex++
		if frameIndex%uint64(w.cfg.DetectionInterval) == 0 {
			start := time.Now()
			boxes, err := w.detector.Detect(frame.JPEG, w.Confidence())
			w.metrics.DetectionsRun.Add(1)
			if err != nil {
				w.metrics.DetectorErrors.Add(1)
				logger.Warn("Pipeline", "Detection failed, reusing previous result: %v", err)
			} else {
				lastBoxes = boxes
				lastCount = len(boxes)
				lastInfer = time.Since(start)
				w.metrics.UpdateInference(lastInfer)
				w.aggregator.Add(types.HistoryEntry{
					Timestamp:   frame.Timestamp,
					PersonCount: lastCount,
				})
			}
		}

		snap := types.Snapshot{
			PersonCount:   lastCount,
			Density:       clampDensity(lastCount, w.cfg.Capacity),
			Boxes:         lastBoxes,
			FrameJPEG:     frame.JPEG,
			InferenceTime: lastInfer,
			FrameIndex:    frameIndex,
			Timestamp:     frame.Timestamp,
		}

		if w.snapshots.DrawingEnabled() {
			if annotated, err := annotate.Overlay(frame.JPEG, snap, w.cfg.JPEGQuality); err == nil {
				snap.FrameJPEG = annotated
			} else {
				logger.Warn("Pipeline", "Overlay failed, publishing raw frame: %v", err)
			}
		}

		w.snapshots.Write(snap)
		w.metrics.Published.Add(1)
	}
}

// clampDensity maps a person count onto [0, 1] of the configured capacity.
func clampDensity(count, capacity int) float64 {
	if capacity < 1 {
		return 0
	}
	d := float64(count) / float64(capacity)
	if d < 0 {
		return 0
	}
	if d > 1 {
		return 1
	}
	return d
}

// sleepCtx waits for d or context cancellation; returns false on cancel.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
