package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crowdwatch/internal/capture"
	"crowdwatch/internal/metrics"
	"crowdwatch/internal/stats"
	"crowdwatch/pkg/types"
)

// fakeSource serves a scripted list of reads. Once exhausted it cancels the
// run context so the worker exits cleanly.
type fakeSource struct {
	frames []fakeRead
	next   int
	cancel context.CancelFunc
}

type fakeRead struct {
	jpeg []byte
	err  error
}

func (f *fakeSource) Read(ctx context.Context) (capture.Frame, error) {
	if f.next >= len(f.frames) {
		f.cancel()
		return capture.Frame{}, context.Canceled
	}
	r := f.frames[f.next]
	f.next++
	if r.err != nil {
		return capture.Frame{}, r.err
	}
	return capture.Frame{JPEG: r.jpeg, Width: 640, Height: 480, Timestamp: time.Now()}, nil
}

func (f *fakeSource) Close() error { return nil }

// fakeDetector counts invocations and returns a fixed number of boxes.
// With failFrom > 0 every call from that ordinal on fails.
type fakeDetector struct {
	mu       sync.Mutex
	calls    int
	boxes    []types.BoundingBox
	failFrom int
}

func (f *fakeDetector) Detect(jpeg []byte, threshold float64) ([]types.BoundingBox, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.failFrom > 0 && n >= f.failFrom {
		return nil, errors.New("inference blew up")
	}
	return f.boxes, nil
}

func (f *fakeDetector) Close() error { return nil }

func (f *fakeDetector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestWorker(src *fakeSource, det *fakeDetector, interval int) (*Worker, *SnapshotStore, *stats.Aggregator) {
	classifier, _ := stats.NewClassifier([]stats.Bucket{
		{Below: 10, Level: "Low", WaitRange: "2-5 min"},
		{Below: 0, Level: "High", WaitRange: "30+ min"},
	})
	agg := stats.NewAggregator(100, classifier)
	snaps := NewSnapshotStore()
	snaps.SetDrawingEnabled(false)
	w := NewWorker(src, det, agg, snaps, metrics.New(), WorkerConfig{
		DetectionInterval:   interval,
		Capacity:            100,
		ConfidenceThreshold: 0.35,
		JPEGQuality:         70,
	})
	return w, snaps, agg
}

func TestWorkerDetectionInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{cancel: cancel}
	for i := 0; i < 7; i++ {
		src.frames = append(src.frames, fakeRead{jpeg: []byte{0xff, byte(i)}})
	}
	det := &fakeDetector{boxes: []types.BoundingBox{{X: 1, Y: 1, W: 10, H: 20, Confidence: 0.8}}}
	w, snaps, agg := newTestWorker(src, det, 3)

	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Frames 3 and 6 trigger detection; the rest reuse the result.
	if got := det.callCount(); got != 2 {
		t.Errorf("detector calls = %d, want 2", got)
	}
	if got := len(agg.History()); got != 2 {
		t.Errorf("history entries = %d, want 2", got)
	}

	snap, ok := snaps.Read()
	if !ok {
		t.Fatal("no snapshot published")
	}
	if snap.PersonCount != 1 || len(snap.Boxes) != 1 {
		t.Errorf("snapshot = %+v, want reused detection result", snap)
	}
	if snap.FrameIndex != 7 {
		t.Errorf("FrameIndex = %d, want 7", snap.FrameIndex)
	}
}

func TestWorkerDeviceGoneIsFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{
		cancel: cancel,
		frames: []fakeRead{
			{jpeg: []byte{0xff, 0x01}},
			{err: capture.ErrDeviceGone},
		},
	}
	w, _, _ := newTestWorker(src, &fakeDetector{}, 1)

	err := w.Run(ctx)
	if !errors.Is(err, capture.ErrDeviceGone) {
		t.Fatalf("Run = %v, want ErrDeviceGone", err)
	}
}

func TestWorkerRecoversFromTransientErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{
		cancel: cancel,
		frames: []fakeRead{
			{err: capture.ErrTransient},
			{err: capture.ErrTransient},
			{jpeg: []byte{0xff, 0x02}},
		},
	}
	det := &fakeDetector{boxes: []types.BoundingBox{{W: 5, H: 5, Confidence: 0.5}}}
	w, snaps, _ := newTestWorker(src, det, 1)

	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := snaps.Read(); !ok {
		t.Fatal("no snapshot published after recovery")
	}
	if w.metrics.CaptureRetries.Load() != 2 {
		t.Errorf("capture retries = %d, want 2", w.metrics.CaptureRetries.Load())
	}
}

func TestWorkerDetectorErrorReusesPrevious(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{
		cancel: cancel,
		frames: []fakeRead{
			{jpeg: []byte{0xff, 0x01}},
			{jpeg: []byte{0xff, 0x02}},
		},
	}
	// First detection succeeds, second fails.
	det := &fakeDetector{
		boxes:    []types.BoundingBox{{W: 5, H: 5, Confidence: 0.9}},
		failFrom: 2,
	}
	w, snaps, agg := newTestWorker(src, det, 1)

	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap, _ := snaps.Read()
	if snap.PersonCount != 1 {
		t.Errorf("failed detection should reuse previous count, got %d", snap.PersonCount)
	}
	// Only the successful detection lands in the history.
	if got := len(agg.History()); got != 1 {
		t.Errorf("history entries = %d, want 1", got)
	}
}

func TestConfidenceHotTune(t *testing.T) {
	w, _, _ := newTestWorker(&fakeSource{cancel: func() {}}, &fakeDetector{}, 1)
	if got := w.Confidence(); got != 0.35 {
		t.Fatalf("initial confidence = %g", got)
	}
	w.SetConfidence(0.6)
	if got := w.Confidence(); got != 0.6 {
		t.Fatalf("confidence after SetConfidence = %g", got)
	}
}

func TestClampDensity(t *testing.T) {
	cases := []struct {
		count, capacity int
		want            float64
	}{
		{0, 100, 0},
		{50, 100, 0.5},
		{100, 100, 1},
		{250, 100, 1},
		{5, 0, 0},
	}
	for _, tc := range cases {
		if got := clampDensity(tc.count, tc.capacity); got != tc.want {
			t.Errorf("clampDensity(%d, %d) = %g, want %g", tc.count, tc.capacity, got, tc.want)
		}
	}
}
