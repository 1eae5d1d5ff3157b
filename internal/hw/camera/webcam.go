package camera

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/c0d9nqa3/autoredL/internal/debug"
)

// Config selects the capture device and requested format.
type Config struct {
	DeviceID int
	Width    int
	Height   int
	FPS      int
}

// Webcam is the production Camera over a V4L2/GStreamer capture device.
// Not safe for concurrent use; only the orchestrator touches it.
type Webcam struct {
	cap   *gocv.VideoCapture
	frame gocv.Mat
}

// NewWebcam opens the capture device, preferring V4L2, then GStreamer,
// then whatever backend OpenCV picks. Failure to open is fatal for the
// caller.
func NewWebcam(cfg Config) (*Webcam, error) {
	backends := []gocv.VideoCaptureAPI{
		gocv.VideoCaptureV4L2,
		gocv.VideoCaptureGstreamer,
		gocv.VideoCaptureAny,
	}

	var cap *gocv.VideoCapture
	var err error
	for _, backend := range backends {
		cap, err = gocv.OpenVideoCaptureWithAPI(cfg.DeviceID, backend)
		if err == nil && cap.IsOpened() {
			debug.Verbose("Camera opened with backend %d", backend)
			break
		}
		if cap != nil {
			cap.Close()
			cap = nil
		}
	}
	if cap == nil {
		return nil, fmt.Errorf("open camera device %d: no backend available (last error: %v)", cfg.DeviceID, err)
	}

	cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	cap.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))

	return &Webcam{
		cap:   cap,
		frame: gocv.NewMat(),
	}, nil
}

// Capture grabs the next frame. The returned Mat is reused across calls;
// callers must not retain it past the current iteration.
func (w *Webcam) Capture() (gocv.Mat, bool) {
	if !w.cap.Read(&w.frame) || w.frame.Empty() {
		return w.frame, false
	}
	return w.frame, true
}

// Info reports the parameters the device actually accepted.
func (w *Webcam) Info() Info {
	return Info{
		Width:  int(w.cap.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(w.cap.Get(gocv.VideoCaptureFrameHeight)),
		FPS:    w.cap.Get(gocv.VideoCaptureFPS),
	}
}

// Close releases the capture device.
func (w *Webcam) Close() error {
	w.frame.Close()
	return w.cap.Close()
}
