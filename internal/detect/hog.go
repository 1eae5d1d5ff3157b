package detect

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/c0d9nqa3/autoredL/internal/logic/tracking"
)

// hogConfidence is assigned to HOG hits: the classical detector gives no
// usable per-box score.
const hogConfidence = 0.5

// HOG is the classical fallback people detector.
type HOG struct {
	mu  sync.Mutex
	hog gocv.HOGDescriptor
}

// NewHOG creates a HOG descriptor armed with the default people
// detector.
func NewHOG() (*HOG, error) {
	hog := gocv.NewHOGDescriptor()
	if err := hog.SetSVMDetector(gocv.HOGDefaultPeopleDetector()); err != nil {
		hog.Close()
		return nil, fmt.Errorf("set people detector: %w", err)
	}
	return &HOG{hog: hog}, nil
}

func (h *HOG) Name() string { return "hog" }

// Detect runs multi-scale HOG detection. Failures yield an empty list.
func (h *HOG) Detect(frame gocv.Mat) []tracking.Detection {
	h.mu.Lock()
	defer h.mu.Unlock()

	if frame.Empty() {
		return nil
	}

	rects := h.hog.DetectMultiScaleWithParams(frame,
		0,                  // hit threshold: use the SVM default
		image.Pt(8, 8),     // window stride
		image.Pt(32, 32),   // padding
		1.05,               // scale step
		2.0,                // grouping threshold
		false)              // no meanshift grouping

	detections := make([]tracking.Detection, 0, len(rects))
	for _, r := range rects {
		detections = append(detections, tracking.Detection{
			X:          float64(r.Min.X),
			Y:          float64(r.Min.Y),
			Width:      float64(r.Dx()),
			Height:     float64(r.Dy()),
			Confidence: hogConfidence,
			ClassID:    personClassID,
		})
	}
	return detections
}

// Close releases the descriptor.
func (h *HOG) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hog.Close()
}
