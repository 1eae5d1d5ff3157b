package tracking

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/c0d9nqa3/autoredL/internal/debug"
)

// Detection is one axis-aligned bounding box produced by the detector.
// Immutable once created.
type Detection struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
}

// Center returns the box center.
func (d Detection) Center() (x, y float64) {
	return d.X + d.Width/2, d.Y + d.Height/2
}

// Area returns the box area.
func (d Detection) Area() float64 {
	return d.Width * d.Height
}

// Config tunes the tracker. Zero values take the defaults below.
type Config struct {
	FrameWidth  int
	FrameHeight int

	MaxLostTime       time.Duration // hold a lost track this long, default 2s
	DeadzoneX         float64       // px, default 20
	DeadzoneY         float64       // px, default 20
	HistorySize       int           // smoothing window, default 5
	MaxPan            float64       // degrees, default 90
	MaxTilt           float64       // degrees, default 45
	CenteredThreshold float64       // px, default 30
}

func (c *Config) applyDefaults() {
	if c.MaxLostTime <= 0 {
		c.MaxLostTime = 2 * time.Second
	}
	if c.DeadzoneX <= 0 {
		c.DeadzoneX = 20
	}
	if c.DeadzoneY <= 0 {
		c.DeadzoneY = 20
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 5
	}
	if c.MaxPan <= 0 {
		c.MaxPan = 90
	}
	if c.MaxTilt <= 0 {
		c.MaxTilt = 45
	}
	if c.CenteredThreshold <= 0 {
		c.CenteredThreshold = 30
	}
}

// TargetInfo is a read-only diagnostic snapshot. Not used for control.
type TargetInfo struct {
	HasTarget bool       `json:"has_target"`
	Target    *Detection `json:"target,omitempty"`
	ErrorX    float64    `json:"error_x"`
	ErrorY    float64    `json:"error_y"`
	Pan       float64    `json:"pan"`
	Tilt      float64    `json:"tilt"`
	Centered  bool       `json:"centered"`
	SmoothedX float64    `json:"smoothed_x"`
	SmoothedY float64    `json:"smoothed_y"`
}

// Tracker converts raw per-frame detections into one stable aim point.
// It holds a single persistent track with loss handling, positional
// smoothing and deadzone suppression. Safe for concurrent use: the
// orchestrator updates it while the telemetry channel snapshots it.
type Tracker struct {
	mu  sync.Mutex
	cfg Config

	centerX float64
	centerY float64

	target    *Detection
	lostSince time.Time // zero while the target is in sight
	history   [][2]float64

	now func() time.Time // injectable for tests
}

// New creates a tracker for the given frame geometry.
func New(cfg Config) *Tracker {
	cfg.applyDefaults()
	return &Tracker{
		cfg:     cfg,
		centerX: float64(cfg.FrameWidth) / 2,
		centerY: float64(cfg.FrameHeight) / 2,
		now:     time.Now,
	}
}

// Update consumes this frame's detections and returns the current track,
// if any.
//
// With no detections, an existing track is held unchanged through the
// lost grace period and cleared (together with the position history)
// once it expires. With detections, a fresh track picks the largest box
// (the biggest person in frame is assumed to be the intended target);
// an existing track re-associates to the detection nearest its last
// center. Ties break to the first detection in input order.
func (t *Tracker) Update(detections []Detection) (Detection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	if len(detections) == 0 {
		if t.target != nil {
			if t.lostSince.IsZero() {
				t.lostSince = now
				debug.Track("target lost, holding for %v", t.cfg.MaxLostTime)
			} else if now.Sub(t.lostSince) > t.cfg.MaxLostTime {
				debug.Track("target lost for good, clearing track")
				t.target = nil
				t.lostSince = time.Time{}
				t.history = nil
			}
		}
		return t.snapshotTarget()
	}

	t.lostSince = time.Time{}

	var chosen Detection
	if t.target == nil {
		chosen = detections[0]
		for _, d := range detections[1:] {
			if d.Area() > chosen.Area() {
				chosen = d
			}
		}
		debug.Track("target acquired: area=%.0f conf=%.2f", chosen.Area(), chosen.Confidence)
	} else {
		lastX, lastY := t.target.Center()
		chosen = detections[0]
		best := centerDistance(chosen, lastX, lastY)
		for _, d := range detections[1:] {
			if dist := centerDistance(d, lastX, lastY); dist < best {
				chosen, best = d, dist
			}
		}
	}

	t.target = &chosen
	cx, cy := chosen.Center()
	t.pushHistory(cx, cy)

	return chosen, true
}

func centerDistance(d Detection, x, y float64) float64 {
	cx, cy := d.Center()
	return math.Hypot(cx-x, cy-y)
}

func (t *Tracker) pushHistory(x, y float64) {
	t.history = append(t.history, [2]float64{x, y})
	if len(t.history) > t.cfg.HistorySize {
		t.history = t.history[1:]
	}
}

func (t *Tracker) snapshotTarget() (Detection, bool) {
	if t.target == nil {
		return Detection{}, false
	}
	return *t.target, true
}

// ServoAngles converts the smoothed aim point into requested pan/tilt
// angles: error relative to the frame center, deadzone-suppressed,
// normalized by the half-frame dimension and scaled to the maximum
// angles.
func (t *Tracker) ServoAngles() (pan, tilt float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.servoAnglesLocked()
}

func (t *Tracker) servoAnglesLocked() (pan, tilt float64) {
	if t.target == nil {
		return 0, 0
	}

	errX, errY := t.trackingErrorLocked()
	if math.Abs(errX) < t.cfg.DeadzoneX {
		errX = 0
	}
	if math.Abs(errY) < t.cfg.DeadzoneY {
		errY = 0
	}

	normX := errX / (float64(t.cfg.FrameWidth) / 2)
	normY := errY / (float64(t.cfg.FrameHeight) / 2)

	pan = clamp(normX*t.cfg.MaxPan, -t.cfg.MaxPan, t.cfg.MaxPan)
	tilt = clamp(normY*t.cfg.MaxTilt, -t.cfg.MaxTilt, t.cfg.MaxTilt)
	return pan, tilt
}

// TrackingError returns the raw (undeadzoned) pixel error of the
// smoothed position relative to the frame center.
func (t *Tracker) TrackingError() (x, y float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trackingErrorLocked()
}

func (t *Tracker) trackingErrorLocked() (x, y float64) {
	if t.target == nil {
		return 0, 0
	}
	sx, sy := t.smoothedLocked()
	return sx - t.centerX, sy - t.centerY
}

// smoothedLocked returns the moving average of the position history, or
// the frame center when the history is empty.
func (t *Tracker) smoothedLocked() (x, y float64) {
	if len(t.history) == 0 {
		return t.centerX, t.centerY
	}
	xs := make([]float64, len(t.history))
	ys := make([]float64, len(t.history))
	for i, p := range t.history {
		xs[i] = p[0]
		ys[i] = p[1]
	}
	return stat.Mean(xs, nil), stat.Mean(ys, nil)
}

// IsCentered reports whether the aim point is within the centered
// threshold of the frame center.
func (t *Tracker) IsCentered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isCenteredLocked()
}

func (t *Tracker) isCenteredLocked() bool {
	if t.target == nil {
		return false
	}
	errX, errY := t.trackingErrorLocked()
	return math.Hypot(errX, errY) < t.cfg.CenteredThreshold
}

// HasTarget reports whether a track currently exists.
func (t *Tracker) HasTarget() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target != nil
}

// Reset clears the track, the lost timer and the history. Used by the
// hard-stop command.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.target = nil
	t.lostSince = time.Time{}
	t.history = nil
}

// TargetInfo returns a consistent diagnostic snapshot.
func (t *Tracker) TargetInfo() TargetInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.target == nil {
		return TargetInfo{}
	}

	errX, errY := t.trackingErrorLocked()
	pan, tilt := t.servoAnglesLocked()
	sx, sy := t.smoothedLocked()
	target := *t.target

	return TargetInfo{
		HasTarget: true,
		Target:    &target,
		ErrorX:    errX,
		ErrorY:    errY,
		Pan:       pan,
		Tilt:      tilt,
		Centered:  t.isCenteredLocked(),
		SmoothedX: sx,
		SmoothedY: sy,
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
