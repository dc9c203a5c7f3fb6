package detect

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"

	"crowdwatch/internal/logger"
	"crowdwatch/pkg/types"
)

// YOLOv8 geometry: 640x640 input, 8400 candidate boxes, 84 output channels
// (4 box coordinates followed by 80 class scores, person is class 0).
const (
	onnxInputSize  = 640
	onnxNumBoxes   = 8400
	onnxNumOutputs = 84
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime(libPath string) error {
	ortInitOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNX runs a YOLOv8 model through onnxruntime. Input and output tensors are
// allocated once and reused across frames.
type ONNX struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNX initializes the runtime (once per process) and opens a session for
// the model at modelPath.
func NewONNX(modelPath, libPath string) (*ONNX, error) {
	if err := initRuntime(libPath); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, onnxInputSize, onnxInputSize))
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, onnxNumOutputs, onnxNumBoxes))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"}, []string{"output0"},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	logger.Info("Detect", "ONNX model loaded: %s", modelPath)
	return &ONNX{session: session, input: input, output: output}, nil
}

func (o *ONNX) Detect(data []byte, threshold float64) ([]types.BoundingBox, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	resized := imaging.Resize(img, onnxInputSize, onnxInputSize, imaging.Linear)
	fillInput(resized, o.input.GetData())

	if err := o.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	bounds := img.Bounds()
	boxes := decodePersonBoxes(o.output.GetData(), float32(threshold), bounds.Dx(), bounds.Dy())
	return suppressOverlaps(boxes, iouThreshold), nil
}

func (o *ONNX) Close() error {
	o.session.Destroy()
	o.input.Destroy()
	o.output.Destroy()
	return nil
}

// fillInput writes the image into dst in CHW planar layout, normalized to
// [0, 1].
func fillInput(img image.Image, dst []float32) {
	const channelSize = onnxInputSize * onnxInputSize
	for y := 0; y < onnxInputSize; y++ {
		offset := y * onnxInputSize
		for x := 0; x < onnxInputSize; x++ {
			i := offset + x
			r, g, b, _ := img.At(x, y).RGBA()
			dst[i] = float32(r>>8) / 255.0
			dst[channelSize+i] = float32(g>>8) / 255.0
			dst[channelSize*2+i] = float32(b>>8) / 255.0
		}
	}
}

// decodePersonBoxes filters the raw output tensor down to person detections
// above threshold, converting center-format coordinates to pixel boxes in the
// source frame.
func decodePersonBoxes(predictions []float32, threshold float32, origW, origH int) []types.BoundingBox {
	if len(predictions) != onnxNumOutputs*onnxNumBoxes {
		return nil
	}

	scaleX := float32(origW) / onnxInputSize
	scaleY := float32(origH) / onnxInputSize

	var boxes []types.BoundingBox
	for i := 0; i < onnxNumBoxes; i++ {
		// Person score lives in the first class channel.
		score := predictions[4*onnxNumBoxes+i]
		if score < threshold {
			continue
		}
		cx := predictions[i]
		cy := predictions[onnxNumBoxes+i]
		w := predictions[2*onnxNumBoxes+i]
		h := predictions[3*onnxNumBoxes+i]

		boxes = append(boxes, clampBox(types.BoundingBox{
			X:          int((cx - w/2) * scaleX),
			Y:          int((cy - h/2) * scaleY),
			W:          int(w * scaleX),
			H:          int(h * scaleY),
			Confidence: float64(score),
		}, origW, origH))
	}
	return boxes
}
