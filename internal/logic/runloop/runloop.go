// Package runloop contains the frame-cadence orchestrator: pull a frame,
// detect, track, aim, gate the laser on aim accuracy, report status.
package runloop

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/c0d9nqa3/autoredL/internal/debug"
	"github.com/c0d9nqa3/autoredL/internal/logic/tracking"
)

// captureBackoff is the sleep after a transiently unavailable frame.
const captureBackoff = 10 * time.Millisecond

// FrameSource yields frames; false means transient unavailability.
type FrameSource interface {
	Capture() (gocv.Mat, bool)
}

// Detector turns a frame into bounding boxes, swallowing its own
// failures (empty list, never an error).
type Detector interface {
	Detect(frame gocv.Mat) []tracking.Detection
}

// Aimer is the servo surface the orchestrator drives. It is the sole
// writer of target requests; it never touches PID internals beyond the
// loss-triggered reset.
type Aimer interface {
	SetTarget(pan, tilt float64)
	Current() (pan, tilt float64)
	ResetPID()
}

// Emitter is the laser surface the orchestrator toggles.
type Emitter interface {
	TurnOn() error
	TurnOff() error
	IsOn() bool
}

// StatusSender receives the periodic status summary.
type StatusSender interface {
	SendStatus(fields map[string]interface{})
}

// DisplayFunc shows a debug frame; returning false stops the loop (user
// closed the window).
type DisplayFunc func(frame gocv.Mat, detections []tracking.Detection, info tracking.TargetInfo) bool

// Config tunes the loop cadence.
type Config struct {
	MaxFPS      int // default 30
	StatusEvery int // frames between STATUS messages, default 30
}

// Stats summarizes a finished run.
type Stats struct {
	Frames  uint64
	Elapsed time.Duration
	AvgFPS  float64
}

// Loop wires the collaborators together. Telemetry and Display are
// optional; everything else is required.
type Loop struct {
	Camera    FrameSource
	Detector  Detector
	Tracker   *tracking.Tracker
	Servo     Aimer
	Laser     Emitter
	Telemetry StatusSender
	Display   DisplayFunc

	cfg    Config
	frames atomic.Uint64
}

// New creates a loop with defaults applied.
func New(cfg Config) *Loop {
	if cfg.MaxFPS <= 0 {
		cfg.MaxFPS = 30
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = 30
	}
	return &Loop{cfg: cfg}
}

// FrameCount returns the number of frames processed so far. Safe to call
// from other goroutines (web status page).
func (l *Loop) FrameCount() uint64 {
	return l.frames.Load()
}

// Run drives the loop until the context is cancelled or the display
// callback asks to stop. The laser is commanded off on every frame
// without an aimed, centered target.
func (l *Loop) Run(ctx context.Context) Stats {
	start := time.Now()
	framePeriod := time.Second / time.Duration(l.cfg.MaxFPS)
	hadTarget := false

	for {
		select {
		case <-ctx.Done():
			return l.stats(start)
		default:
		}

		frame, ok := l.Camera.Capture()
		if !ok {
			time.Sleep(captureBackoff)
			continue
		}

		detections := l.Detector.Detect(frame)
		_, hasTarget := l.Tracker.Update(detections)

		if hasTarget {
			pan, tilt := l.Tracker.ServoAngles()
			l.Servo.SetTarget(pan, tilt)
			if l.Tracker.IsCentered() {
				l.laserOn()
			} else {
				l.laserOff()
			}
		} else {
			l.laserOff()
			if hadTarget {
				// Track just expired: drop the accumulated PID state so
				// windup does not carry into the next acquisition.
				l.Servo.ResetPID()
			}
		}
		hadTarget = hasTarget

		if l.Display != nil {
			if !l.Display(frame, detections, l.Tracker.TargetInfo()) {
				debug.Info("Display closed, stopping")
				return l.stats(start)
			}
		}

		n := l.frames.Add(1)
		if l.Telemetry != nil && n%uint64(l.cfg.StatusEvery) == 0 {
			l.sendStatus(n, hasTarget)
		}

		time.Sleep(framePeriod)
	}
}

func (l *Loop) laserOn() {
	if err := l.Laser.TurnOn(); err != nil {
		debug.Error(fmt.Errorf("laser on: %w", err))
	}
}

func (l *Loop) laserOff() {
	if err := l.Laser.TurnOff(); err != nil {
		debug.Error(fmt.Errorf("laser off: %w", err))
	}
}

func (l *Loop) sendStatus(frames uint64, hasTarget bool) {
	status := map[string]interface{}{
		"frame_count": frames,
		"has_target":  hasTarget,
		"laser_on":    l.Laser.IsOn(),
	}
	if hasTarget {
		info := l.Tracker.TargetInfo()
		if info.Target != nil {
			status["target_confidence"] = info.Target.Confidence
		}
		status["servo_angles"] = map[string]float64{"pan": info.Pan, "tilt": info.Tilt}
	}
	l.Telemetry.SendStatus(status)
}

func (l *Loop) stats(start time.Time) Stats {
	elapsed := time.Since(start)
	frames := l.frames.Load()
	s := Stats{Frames: frames, Elapsed: elapsed}
	if elapsed > 0 {
		s.AvgFPS = float64(frames) / elapsed.Seconds()
	}
	return s
}
