// Package persist writes crowd records to durable storage on a throttled
// schedule, gated by the daily save window.
package persist

import (
	"context"
	"time"

	"crowdwatch/internal/logger"
	"crowdwatch/internal/metrics"
	"crowdwatch/internal/pipeline"
	"crowdwatch/pkg/types"
)

// RecordWriter is the storage dependency of the throttle.
type RecordWriter interface {
	Insert(types.CrowdRecord) (int64, error)
}

// Throttle owns all record writes. Periodic ticks and manual save requests
// funnel through one goroutine so the rate limit and window check cannot be
// raced around.
type Throttle struct {
	writer    RecordWriter
	snapshots *pipeline.SnapshotStore
	metrics   *metrics.Metrics
	window    Window
	interval  time.Duration

	now    func() time.Time
	manual chan manualRequest
	done   chan struct{}
}

type manualRequest struct {
	reply chan types.SaveResult
}

// NewThrottle creates a throttle writing through writer at most once per
// interval during the window.
func NewThrottle(writer RecordWriter, snapshots *pipeline.SnapshotStore,
	m *metrics.Metrics, window Window, interval time.Duration) *Throttle {
	return &Throttle{
		writer:    writer,
		snapshots: snapshots,
		metrics:   m,
		window:    window,
		interval:  interval,
		now:       time.Now,
		manual:    make(chan manualRequest),
		done:      make(chan struct{}),
	}
}

// Run loops until the context is cancelled. Periodic saves that fall
// outside the window or find no snapshot are skipped quietly; manual saves
// report their outcome to the caller.
func (t *Throttle) Run(ctx context.Context) {
	logger.Info("Persist", "Record writer started (interval=%v)", t.interval)
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Persist", "Record writer stopping")
			return
		case <-ticker.C:
			if result := t.save(); !result.Accepted && result.Reason == types.ReasonWriteFailed {
				logger.Error("Persist", "Periodic save failed")
			}
		case req := <-t.manual:
			result := t.save()
			if !result.Accepted {
				t.metrics.SavesRejected.Add(1)
				logger.Warn("Persist", "Manual save rejected: %s", result.Reason)
			} else {
				logger.Info("Persist", "Manual save accepted")
			}
			req.reply <- result
		}
	}
}

// TriggerManualSave requests an immediate save and blocks for the outcome.
// Returns ReasonStopped once the writer has shut down.
func (t *Throttle) TriggerManualSave() types.SaveResult {
	req := manualRequest{reply: make(chan types.SaveResult, 1)}
	select {
	case t.manual <- req:
		return <-req.reply
	case <-t.done:
		return types.SaveResult{Accepted: false, Reason: types.ReasonStopped}
	}
}

// save performs one gated write. Only the Run goroutine calls this.
func (t *Throttle) save() types.SaveResult {
	now := t.now()
	if !t.window.Contains(now.Hour()*60 + now.Minute()) {
		return types.SaveResult{Accepted: false, Reason: types.ReasonOutsideWindow}
	}

	snap, ok := t.snapshots.Read()
	if !ok {
		return types.SaveResult{Accepted: false, Reason: types.ReasonNoSnapshot}
	}

	_, err := t.writer.Insert(types.CrowdRecord{
		Timestamp:   now,
		PersonCount: snap.PersonCount,
		Weekday:     types.Weekday(now),
	})
	if err != nil {
		t.metrics.PersistErrors.Add(1)
		logger.Error("Persist", "Insert failed: %v", err)
		return types.SaveResult{Accepted: false, Reason: types.ReasonWriteFailed}
	}

	t.metrics.RecordsPersisted.Add(1)
	return types.SaveResult{Accepted: true}
}
