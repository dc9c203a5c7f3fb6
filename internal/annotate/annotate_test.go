package annotate

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"crowdwatch/pkg/types"
)

func testFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{40, 40, 40, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test frame: %v", err)
	}
	return buf.Bytes()
}

func TestOverlayProducesValidJPEG(t *testing.T) {
	frame := testFrame(t, 320, 240)
	snap := types.Snapshot{
		PersonCount: 2,
		Density:     0.02,
		Boxes: []types.BoundingBox{
			{X: 10, Y: 30, W: 60, H: 120, Confidence: 0.9},
			{X: 200, Y: 40, W: 50, H: 100, Confidence: 0.7},
		},
		InferenceTime: 42 * time.Millisecond,
		Timestamp:     time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}

	out, err := Overlay(frame, snap, 80)
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("annotated output is not a valid JPEG: %v", err)
	}
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 240 {
		t.Errorf("annotated frame resized to %v", img.Bounds())
	}
}

func TestOverlayLeavesInputUntouched(t *testing.T) {
	frame := testFrame(t, 160, 120)
	orig := make([]byte, len(frame))
	copy(orig, frame)

	_, err := Overlay(frame, types.Snapshot{
		Boxes: []types.BoundingBox{{X: 5, Y: 5, W: 40, H: 60}},
	}, 70)
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if !bytes.Equal(frame, orig) {
		t.Fatal("input frame buffer was modified")
	}
}

func TestOverlayRejectsGarbage(t *testing.T) {
	if _, err := Overlay([]byte("not a jpeg"), types.Snapshot{}, 70); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestOverlayBoxesPartiallyOutsideFrame(t *testing.T) {
	frame := testFrame(t, 100, 100)
	_, err := Overlay(frame, types.Snapshot{
		Boxes: []types.BoundingBox{{X: 90, Y: 90, W: 50, H: 50}},
	}, 70)
	if err != nil {
		t.Fatalf("Overlay with out-of-frame box: %v", err)
	}
}
