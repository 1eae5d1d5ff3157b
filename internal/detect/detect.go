// Package detect provides the person-detector collaborator: a DNN
// implementation for ONNX person models, a classical HOG fallback, and a
// null detector so the rest of the system can always run. Detectors are
// fail-open: a per-frame failure yields an empty detection list, never
// an error that could stop the control loop.
package detect

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/c0d9nqa3/autoredL/internal/debug"
	"github.com/c0d9nqa3/autoredL/internal/logic/tracking"
)

// Detector turns a frame into bounding boxes. Must be safe to call every
// frame.
type Detector interface {
	Detect(frame gocv.Mat) []tracking.Detection
	Name() string
	Close() error
}

// Config tunes the DNN detector.
type Config struct {
	ModelPath           string
	ConfidenceThreshold float64
	NMSThreshold        float64
	InputSize           int // square model input, e.g. 640
}

// New picks the best available detector: the ONNX DNN when the model
// loads, otherwise the HOG people detector, otherwise a null detector
// that sees nothing. Degradation is logged, never fatal.
func New(cfg Config) Detector {
	d, err := NewDNN(cfg)
	if err == nil {
		debug.Info("Using DNN detector (%s)", cfg.ModelPath)
		return d
	}
	debug.Info("DNN detector unavailable (%v), falling back to HOG", err)

	h, err := NewHOG()
	if err == nil {
		return h
	}
	debug.Error(fmt.Errorf("HOG detector unavailable: %w", err))
	return Null{}
}

// Null is the last-resort detector: it never sees a target, so the
// system idles safely (laser off, servos still).
type Null struct{}

func (Null) Detect(frame gocv.Mat) []tracking.Detection { return nil }
func (Null) Name() string                               { return "null" }
func (Null) Close() error                               { return nil }

// DrawDetections renders boxes and centers onto the frame for the debug
// display.
func DrawDetections(frame *gocv.Mat, detections []tracking.Detection) {
	green := color.RGBA{G: 255}
	red := color.RGBA{R: 255}

	for _, det := range detections {
		rect := image.Rect(int(det.X), int(det.Y), int(det.X+det.Width), int(det.Y+det.Height))
		gocv.Rectangle(frame, rect, green, 2)

		cx, cy := det.Center()
		gocv.Circle(frame, image.Pt(int(cx), int(cy)), 5, red, -1)

		label := fmt.Sprintf("Person: %.2f", det.Confidence)
		gocv.PutText(frame, label, image.Pt(rect.Min.X, rect.Min.Y-10),
			gocv.FontHersheySimplex, 0.5, green, 2)
	}
}
