package servo

import (
	"fmt"
	"sync"
	"time"

	"github.com/c0d9nqa3/autoredL/internal/debug"
	"github.com/c0d9nqa3/autoredL/internal/hw/gpio"
	"github.com/c0d9nqa3/autoredL/internal/logic/pid"
)

// releaseTimeout bounds the join on the control loop goroutine.
const releaseTimeout = 1 * time.Second

// PIDConfig holds the gains shared by both axes.
type PIDConfig struct {
	Kp        float64
	Ki        float64
	Kd        float64
	MaxOutput float64
}

// Config holds the hardware configuration for the pan/tilt servo pair.
type Config struct {
	PanPin      int
	TiltPin     int
	FrequencyHz int // PWM carrier, typically 50

	PanMin, PanMax   float64 // degrees
	TiltMin, TiltMax float64

	TickPeriod time.Duration // control loop period, default 20ms
	PID        PIDConfig
}

// Controller owns the pan/tilt position state and drives both servos
// from a fixed-tick control loop. Targets are clamped to the configured
// limits at write time; the current position converges toward the target
// through the per-axis PID controllers. All state is serialized by one
// lock, so callers always see a consistent pan/tilt pair.
type Controller struct {
	gpio gpio.Driver
	cfg  Config

	mu          sync.Mutex
	currentPan  float64
	currentTilt float64
	targetPan   float64
	targetTilt  float64
	panMin      float64
	panMax      float64
	tiltMin     float64
	tiltMax     float64
	panPID      *pid.Controller
	tiltPID     *pid.Controller

	stop     chan struct{}
	done     chan struct{}
	released bool
}

// New initializes both PWM outputs at the center position and starts the
// control loop. Initialization failure is fatal for the caller: the
// system must not run if actuation cannot be guaranteed.
func New(g gpio.Driver, cfg Config) (*Controller, error) {
	c, err := newController(g, cfg)
	if err != nil {
		return nil, err
	}
	go c.controlLoop()
	return c, nil
}

// newController does all the setup except starting the loop goroutine.
// Split out so tests can drive tick() by hand.
func newController(g gpio.Driver, cfg Config) (*Controller, error) {
	if cfg.FrequencyHz <= 0 {
		cfg.FrequencyHz = 50
	}
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = 20 * time.Millisecond
	}
	if cfg.PanMin >= cfg.PanMax || cfg.TiltMin >= cfg.TiltMax {
		return nil, fmt.Errorf("invalid servo limits: pan [%g,%g] tilt [%g,%g]",
			cfg.PanMin, cfg.PanMax, cfg.TiltMin, cfg.TiltMax)
	}

	c := &Controller{
		gpio:    g,
		cfg:     cfg,
		panMin:  cfg.PanMin,
		panMax:  cfg.PanMax,
		tiltMin: cfg.TiltMin,
		tiltMax: cfg.TiltMax,
		panPID:  pid.New(cfg.PID.Kp, cfg.PID.Ki, cfg.PID.Kd, cfg.PID.MaxOutput),
		tiltPID: pid.New(cfg.PID.Kp, cfg.PID.Ki, cfg.PID.Kd, cfg.PID.MaxOutput),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if err := g.SetupPWM(cfg.PanPin, cfg.FrequencyHz); err != nil {
		return nil, fmt.Errorf("setup pan PWM: %w", err)
	}
	if err := g.SetupPWM(cfg.TiltPin, cfg.FrequencyHz); err != nil {
		return nil, fmt.Errorf("setup tilt PWM: %w", err)
	}

	centerDuty := c.angleToDuty(0)
	if err := g.WritePWM(cfg.PanPin, centerDuty); err != nil {
		return nil, fmt.Errorf("center pan servo: %w", err)
	}
	if err := g.WritePWM(cfg.TiltPin, centerDuty); err != nil {
		return nil, fmt.Errorf("center tilt servo: %w", err)
	}

	return c, nil
}

// SetTarget stores a new commanded position, clamping each axis
// independently to its limits.
func (c *Controller) SetTarget(pan, tilt float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targetPan = clamp(pan, c.panMin, c.panMax)
	c.targetTilt = clamp(tilt, c.tiltMin, c.tiltMax)
	debug.Servo(c.targetPan, c.targetTilt)
}

// Current returns a consistent snapshot of the actual position.
func (c *Controller) Current() (pan, tilt float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentPan, c.currentTilt
}

// Target returns a consistent snapshot of the commanded position.
func (c *Controller) Target() (pan, tilt float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetPan, c.targetTilt
}

// SetLimits replaces the angular limits and re-clamps both the target
// and the current position so the invariant holds immediately.
func (c *Controller) SetLimits(panMin, panMax, tiltMin, tiltMax float64) error {
	if panMin >= panMax || tiltMin >= tiltMax {
		return fmt.Errorf("invalid servo limits: pan [%g,%g] tilt [%g,%g]",
			panMin, panMax, tiltMin, tiltMax)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panMin, c.panMax = panMin, panMax
	c.tiltMin, c.tiltMax = tiltMin, tiltMax
	c.targetPan = clamp(c.targetPan, panMin, panMax)
	c.targetTilt = clamp(c.targetTilt, tiltMin, tiltMax)
	c.currentPan = clamp(c.currentPan, panMin, panMax)
	c.currentTilt = clamp(c.currentTilt, tiltMin, tiltMax)
	return nil
}

// Center commands both axes back to 0.
func (c *Controller) Center() {
	c.SetTarget(0, 0)
}

// ResetPID zeroes both PID controllers. Called when the tracked target is
// lost so integral windup does not carry into the next acquisition.
func (c *Controller) ResetPID() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panPID.Reset()
	c.tiltPID.Reset()
}

func (c *Controller) controlLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick runs one control cycle: PID per axis, move current toward target,
// push duty cycles to the hardware. On a hardware write error the state
// change is discarded and retried next cycle.
func (c *Controller) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	panOut := c.panPID.Update(c.targetPan - c.currentPan)
	tiltOut := c.tiltPID.Update(c.targetTilt - c.currentTilt)

	newPan := clamp(c.currentPan+panOut, c.panMin, c.panMax)
	newTilt := clamp(c.currentTilt+tiltOut, c.tiltMin, c.tiltMax)

	if err := c.gpio.WritePWM(c.cfg.PanPin, c.angleToDuty(newPan)); err != nil {
		debug.Error(fmt.Errorf("servo tick: pan write: %w", err))
		return
	}
	if err := c.gpio.WritePWM(c.cfg.TiltPin, c.angleToDuty(newTilt)); err != nil {
		debug.Error(fmt.Errorf("servo tick: tilt write: %w", err))
		return
	}

	c.currentPan = newPan
	c.currentTilt = newTilt
}

// angleToDuty maps an angle in degrees to a duty-cycle fraction of the
// PWM period. Standard hobby servo: 1.5ms pulse at center, ±0.5ms per
// 90 degrees.
func (c *Controller) angleToDuty(angle float64) float64 {
	pulseMs := 1.5 + (angle/90.0)*0.5
	periodMs := 1000.0 / float64(c.cfg.FrequencyHz)
	return pulseMs / periodMs
}

// Release stops the control loop, joins it with a bounded timeout, and
// stops both PWM outputs. Must be called exactly once; further calls
// return an error.
func (c *Controller) Release() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return fmt.Errorf("servo controller already released")
	}
	c.released = true
	c.mu.Unlock()

	close(c.stop)
	select {
	case <-c.done:
	case <-time.After(releaseTimeout):
		debug.Error(fmt.Errorf("servo control loop did not stop within %v", releaseTimeout))
	}

	if err := c.gpio.StopPWM(c.cfg.PanPin); err != nil {
		return fmt.Errorf("stop pan PWM: %w", err)
	}
	if err := c.gpio.StopPWM(c.cfg.TiltPin); err != nil {
		return fmt.Errorf("stop tilt PWM: %w", err)
	}
	return nil
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
