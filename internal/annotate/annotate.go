// Package annotate draws detection overlays onto JPEG frames.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"crowdwatch/pkg/types"
)

var (
	boxColor    = color.RGBA{0, 255, 0, 255}
	textColor   = color.RGBA{255, 255, 255, 255}
	headerColor = color.RGBA{0, 0, 0, 180}
)

const (
	boxThickness = 2
	headerHeight = 18
	headerMargin = 4
)

// Overlay draws bounding boxes and a status header onto the frame and
// re-encodes it. The input frame is left untouched; callers get a fresh
// JPEG buffer.
func Overlay(frameJPEG []byte, snap types.Snapshot, quality int) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(frameJPEG))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	for _, box := range snap.Boxes {
		drawRect(canvas, box)
	}
	drawHeader(canvas, snap)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode annotated frame: %w", err)
	}
	return buf.Bytes(), nil
}

// drawRect outlines one bounding box.
func drawRect(img *image.RGBA, b types.BoundingBox) {
	for t := 0; t < boxThickness; t++ {
		x0, y0 := b.X+t, b.Y+t
		x1, y1 := b.X+b.W-t, b.Y+b.H-t
		for x := x0; x <= x1; x++ {
			img.Set(x, y0, boxColor)
			img.Set(x, y1, boxColor)
		}
		for y := y0; y <= y1; y++ {
			img.Set(x0, y, boxColor)
			img.Set(x1, y, boxColor)
		}
	}
}

// drawHeader paints a translucent bar with the current count, density and
// inference time across the top of the frame.
func drawHeader(img *image.RGBA, snap types.Snapshot) {
	bounds := img.Bounds()
	bar := image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Min.Y+headerHeight)
	draw.Draw(img, bar, &image.Uniform{headerColor}, image.Point{}, draw.Over)

	text := fmt.Sprintf("persons: %d  density: %.2f  inference: %dms  %s",
		snap.PersonCount, snap.Density,
		snap.InferenceTime.Milliseconds(),
		snap.Timestamp.Format(time.TimeOnly))
	if snap.Stale {
		text += "  [STALE]"
	}

	d := font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{textColor},
		Face: basicfont.Face7x13,
		Dot: fixed.Point26_6{
			X: fixed.I(bounds.Min.X + headerMargin),
			Y: fixed.I(bounds.Min.Y + headerHeight - headerMargin),
		},
	}
	d.DrawString(text)
}
