package detect

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/c0d9nqa3/autoredL/internal/logic/tracking"
)

// personClassID is the COCO class index for "person".
const personClassID = 0

// DNN runs a YOLO-family ONNX person model through OpenCV's DNN module.
type DNN struct {
	mu  sync.Mutex
	net gocv.Net
	cfg Config
}

// NewDNN loads the ONNX model. Returns an error when the model file is
// missing or does not load; the caller falls back to HOG.
func NewDNN(cfg Config) (*DNN, error) {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.5
	}
	if cfg.NMSThreshold <= 0 {
		cfg.NMSThreshold = 0.4
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load ONNX network from %s", cfg.ModelPath)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &DNN{net: net, cfg: cfg}, nil
}

func (d *DNN) Name() string { return "dnn" }

// Detect runs one inference and returns person boxes in frame
// coordinates. Any failure yields an empty list.
func (d *DNN) Detect(frame gocv.Mat) []tracking.Detection {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame.Empty() {
		return nil
	}

	inputSize := d.cfg.InputSize
	blob := gocv.BlobFromImage(frame, 1.0/255.0,
		image.Pt(inputSize, inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	return d.postprocess(output, frame.Cols(), frame.Rows())
}

// postprocess decodes the [1 x N x (5+classes)] prediction tensor:
// confidence x person-class score filtering, rescale to the original
// frame, then NMS.
func (d *DNN) postprocess(output gocv.Mat, frameW, frameH int) []tracking.Detection {
	sizes := output.Size()
	if len(sizes) < 3 {
		return nil
	}
	rows, cols := sizes[1], sizes[2]
	if cols <= 5 {
		return nil
	}

	data, err := output.DataPtrFloat32()
	if err != nil || len(data) < rows*cols {
		return nil
	}

	scaleX := float64(frameW) / float64(d.cfg.InputSize)
	scaleY := float64(frameH) / float64(d.cfg.InputSize)

	var boxes []image.Rectangle
	var scores []float32

	for i := 0; i < rows; i++ {
		row := data[i*cols : (i+1)*cols]
		objectness := row[4]

		classID := 0
		classScore := row[5]
		for c := 6; c < cols; c++ {
			if row[c] > classScore {
				classScore = row[c]
				classID = c - 5
			}
		}

		confidence := float64(objectness * classScore)
		if confidence <= d.cfg.ConfidenceThreshold || classID != personClassID {
			continue
		}

		cx, cy := float64(row[0]), float64(row[1])
		w, h := float64(row[2]), float64(row[3])
		x := (cx - w/2) * scaleX
		y := (cy - h/2) * scaleY
		boxes = append(boxes, image.Rect(int(x), int(y), int(x+w*scaleX), int(y+h*scaleY)))
		scores = append(scores, float32(confidence))
	}

	if len(boxes) == 0 {
		return nil
	}

	indices := gocv.NMSBoxes(boxes, scores,
		float32(d.cfg.ConfidenceThreshold), float32(d.cfg.NMSThreshold))

	detections := make([]tracking.Detection, 0, len(indices))
	for _, idx := range indices {
		b := boxes[idx]
		detections = append(detections, tracking.Detection{
			X:          float64(b.Min.X),
			Y:          float64(b.Min.Y),
			Width:      float64(b.Dx()),
			Height:     float64(b.Dy()),
			Confidence: float64(scores[idx]),
			ClassID:    personClassID,
		})
	}
	return detections
}

// Close releases the network.
func (d *DNN) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
