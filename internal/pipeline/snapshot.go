package pipeline

import (
	"sync"
	"sync/atomic"

	"crowdwatch/pkg/types"
)

// SnapshotStore holds the latest published pipeline snapshot. One writer
// (the detection worker), many readers (web handlers, persistence, input
// feedback). Readers always get an independent copy.
type SnapshotStore struct {
	mu   sync.RWMutex
	snap types.Snapshot
	set  bool

	drawing atomic.Bool
}

// NewSnapshotStore creates an empty store with overlay drawing enabled.
func NewSnapshotStore() *SnapshotStore {
	s := &SnapshotStore{}
	s.drawing.Store(true)
	return s
}

// Write publishes a new snapshot.
func (s *SnapshotStore) Write(snap types.Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.set = true
	s.mu.Unlock()
}

// Read returns a copy of the latest snapshot. ok is false until the first
// Write. The box slice and frame buffer are copied so callers can hold the
// result across subsequent writes.
func (s *SnapshotStore) Read() (types.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.set {
		return types.Snapshot{}, false
	}
	snap := s.snap
	if len(s.snap.Boxes) > 0 {
		snap.Boxes = make([]types.BoundingBox, len(s.snap.Boxes))
		copy(snap.Boxes, s.snap.Boxes)
	}
	if len(s.snap.FrameJPEG) > 0 {
		snap.FrameJPEG = make([]byte, len(s.snap.FrameJPEG))
		copy(snap.FrameJPEG, s.snap.FrameJPEG)
	}
	return snap, true
}

// MarkStale flags the current snapshot as no longer reflecting a fresh
// capture. A no-op before the first Write.
func (s *SnapshotStore) MarkStale() {
	s.mu.Lock()
	if s.set {
		s.snap.Stale = true
	}
	s.mu.Unlock()
}

// SetDrawingEnabled toggles overlay rendering on published frames.
func (s *SnapshotStore) SetDrawingEnabled(on bool) {
	s.drawing.Store(on)
}

// DrawingEnabled reports whether overlay rendering is active.
func (s *SnapshotStore) DrawingEnabled() bool {
	return s.drawing.Load()
}
