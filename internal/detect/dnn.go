package detect

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"crowdwatch/internal/logger"
	"crowdwatch/pkg/types"
)

// COCO class id for "person" in the MobileNet SSD label map.
const dnnPersonClassID = 1

// dnnInputSize is the SSD network input resolution.
const dnnInputSize = 300

// DNN runs a MobileNet SSD graph through the OpenCV dnn module.
type DNN struct {
	net gocv.Net
}

// NewDNN loads a frozen inference graph and its text config.
func NewDNN(modelPath, configPath string) (*DNN, error) {
	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("load dnn model from %q", modelPath)
	}
	logger.Info("Detect", "DNN model loaded: %s", modelPath)
	return &DNN{net: net}, nil
}

// Detect decodes the JPEG, runs the SSD forward pass and keeps person
// detections at or above threshold. Box coordinates come back normalized
// and are scaled to the source frame.
func (d *DNN) Detect(jpeg []byte, threshold float64) ([]types.BoundingBox, error) {
	mat, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(dnnInputSize, dnnInputSize),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	imgW := float32(mat.Cols())
	imgH := float32(mat.Rows())

	var boxes []types.BoundingBox
	rows := out.Total() / 7
	for i := 0; i < rows; i++ {
		base := i * 7
		confidence := out.GetFloatAt(0, base+2)
		if float64(confidence) < threshold {
			continue
		}
		if int(out.GetFloatAt(0, base+1)) != dnnPersonClassID {
			continue
		}
		left := out.GetFloatAt(0, base+3)
		top := out.GetFloatAt(0, base+4)
		right := out.GetFloatAt(0, base+5)
		bottom := out.GetFloatAt(0, base+6)

		boxes = append(boxes, clampBox(types.BoundingBox{
			X:          int(left * imgW),
			Y:          int(top * imgH),
			W:          int((right - left) * imgW),
			H:          int((bottom - top) * imgH),
			Confidence: float64(confidence),
		}, int(imgW), int(imgH)))
	}
	return boxes, nil
}

func (d *DNN) Close() error {
	return d.net.Close()
}
