package capture

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"crowdwatch/internal/logger"
)

// Webcam reads frames from a local V4L2 camera through OpenCV.
type Webcam struct {
	cam     *gocv.VideoCapture
	mat     gocv.Mat
	quality int
	// consecutive empty reads before the device is declared gone
	emptyReads int
}

// Number of consecutive failed/empty reads after which the device is
// considered disconnected rather than momentarily busy.
const maxEmptyReads = 120

// OpenWebcam opens the camera device and applies the requested mode. The
// driver may silently pick the nearest supported resolution; the effective
// one is logged.
func OpenWebcam(deviceID, width, height, fps, jpegQuality int) (*Webcam, error) {
	cam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", deviceID, err)
	}

	cam.Set(gocv.VideoCaptureFPS, float64(fps))
	cam.Set(gocv.VideoCaptureFrameWidth, float64(width))
	cam.Set(gocv.VideoCaptureFrameHeight, float64(height))

	actualW := int(cam.Get(gocv.VideoCaptureFrameWidth))
	actualH := int(cam.Get(gocv.VideoCaptureFrameHeight))
	logger.Info("Capture", "Camera %d opened: requested %dx%d, got %dx%d",
		deviceID, width, height, actualW, actualH)

	return &Webcam{
		cam:     cam,
		mat:     gocv.NewMat(),
		quality: jpegQuality,
	}, nil
}

// Read grabs the next frame and encodes it to JPEG. Empty reads are
// reported as transient until the device has failed long enough to be
// considered gone.
func (w *Webcam) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	if !w.cam.Read(&w.mat) || w.mat.Empty() {
		w.emptyReads++
		if w.emptyReads >= maxEmptyReads {
			return Frame{}, fmt.Errorf("camera read failed %d times: %w", w.emptyReads, ErrDeviceGone)
		}
		return Frame{}, ErrTransient
	}
	w.emptyReads = 0

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, w.mat,
		[]int{gocv.IMWriteJpegQuality, w.quality})
	if err != nil {
		return Frame{}, fmt.Errorf("encode frame: %w", ErrTransient)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	return Frame{
		JPEG:      data,
		Width:     w.mat.Cols(),
		Height:    w.mat.Rows(),
		Timestamp: time.Now(),
	}, nil
}

// Close releases the device and the scratch buffer.
func (w *Webcam) Close() error {
	w.mat.Close()
	return w.cam.Close()
}
