package detect

import (
	"sort"

	"crowdwatch/pkg/types"
)

// Boxes overlapping more than this are treated as duplicate detections of
// the same person.
const iouThreshold = 0.45

// clampBox trims a box to the frame. Boxes may land partially outside the
// frame when the model extrapolates near the edges.
func clampBox(b types.BoundingBox, frameW, frameH int) types.BoundingBox {
	if b.X < 0 {
		b.W += b.X
		b.X = 0
	}
	if b.Y < 0 {
		b.H += b.Y
		b.Y = 0
	}
	if b.X+b.W > frameW {
		b.W = frameW - b.X
	}
	if b.Y+b.H > frameH {
		b.H = frameH - b.Y
	}
	if b.W < 0 {
		b.W = 0
	}
	if b.H < 0 {
		b.H = 0
	}
	return b
}

// iou computes intersection over union of two boxes.
func iou(a, b types.BoundingBox) float64 {
	x1 := maxInt(a.X, b.X)
	y1 := maxInt(a.Y, b.Y)
	x2 := minInt(a.X+a.W, b.X+b.W)
	y2 := minInt(a.Y+a.H, b.Y+b.H)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := float64((x2 - x1) * (y2 - y1))
	union := float64(a.W*a.H+b.W*b.H) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// suppressOverlaps runs greedy non-maximum suppression: keep the most
// confident box, drop anything overlapping it past threshold, repeat.
func suppressOverlaps(boxes []types.BoundingBox, threshold float64) []types.BoundingBox {
	if len(boxes) <= 1 {
		return boxes
	}

	sorted := make([]types.BoundingBox, len(boxes))
	copy(sorted, boxes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := sorted[:0]
	for _, candidate := range sorted {
		overlaps := false
		for _, k := range kept {
			if iou(candidate, k) > threshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, candidate)
		}
	}
	return kept
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
