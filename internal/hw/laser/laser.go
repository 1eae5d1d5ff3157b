package laser

import (
	"fmt"
	"sync"
	"time"

	"github.com/c0d9nqa3/autoredL/internal/debug"
	"github.com/c0d9nqa3/autoredL/internal/hw/gpio"
)

const (
	defaultWatchPeriod = 100 * time.Millisecond
	releaseTimeout     = 1 * time.Second
)

// Config holds the hardware configuration for the laser emitter.
type Config struct {
	EnablePin     int
	SafetyTimeout time.Duration // max continuous on-time before forced off
	WatchPeriod   time.Duration // watchdog tick, default 100ms
}

// Controller owns the binary on/off state of the laser. An independent
// watchdog goroutine force-disables the emitter once it has been
// continuously on longer than the safety timeout, regardless of what the
// owning logic commands. The watchdog and all state transitions share
// one lock, so no interleaving can leave the laser on past the timeout
// plus one watchdog period.
type Controller struct {
	gpio gpio.Driver
	cfg  Config

	mu         sync.Mutex
	on         bool
	lastOnTime time.Time

	stop     chan struct{}
	done     chan struct{}
	released bool

	now func() time.Time // injectable for tests
}

// New configures the enable pin (driven low) and starts the watchdog.
// Initialization failure is fatal for the caller.
func New(g gpio.Driver, cfg Config) (*Controller, error) {
	c, err := newController(g, cfg)
	if err != nil {
		return nil, err
	}
	go c.watchdog()
	return c, nil
}

// newController does all the setup except starting the watchdog
// goroutine. Split out so tests can drive checkTimeout by hand.
func newController(g gpio.Driver, cfg Config) (*Controller, error) {
	if cfg.SafetyTimeout <= 0 {
		return nil, fmt.Errorf("safety timeout must be positive, got %v", cfg.SafetyTimeout)
	}
	if cfg.WatchPeriod <= 0 {
		cfg.WatchPeriod = defaultWatchPeriod
	}

	if err := g.SetupPin(cfg.EnablePin, gpio.Output); err != nil {
		return nil, fmt.Errorf("setup laser pin: %w", err)
	}
	if err := g.WritePin(cfg.EnablePin, gpio.Low); err != nil {
		return nil, fmt.Errorf("drive laser pin low: %w", err)
	}

	return &Controller{
		gpio: g,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
		now:  time.Now,
	}, nil
}

// TurnOn enables the laser. No-op if already on; the safety timer is not
// restarted by repeated calls. Rejected once the controller is released:
// with the watchdog gone, nothing would bound the on-time.
func (c *Controller) TurnOn() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return fmt.Errorf("laser controller released")
	}
	if c.on {
		return nil
	}
	if err := c.gpio.WritePin(c.cfg.EnablePin, gpio.High); err != nil {
		return fmt.Errorf("laser on: %w", err)
	}
	c.on = true
	c.lastOnTime = c.now()
	debug.Laser(true)
	return nil
}

// TurnOff disables the laser. No-op if already off.
func (c *Controller) TurnOff() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.on {
		return nil
	}
	if err := c.gpio.WritePin(c.cfg.EnablePin, gpio.Low); err != nil {
		return fmt.Errorf("laser off: %w", err)
	}
	c.on = false
	debug.Laser(false)
	return nil
}

// IsOn reports the commanded state.
func (c *Controller) IsOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.on
}

// OnDuration returns how long the laser has been continuously on, or 0
// when off.
func (c *Controller) OnDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.on {
		return 0
	}
	return c.now().Sub(c.lastOnTime)
}

// EmergencyStop forces the output low unconditionally. It never blocks on
// the watchdog and always succeeds: a hardware write failure is logged
// and the commanded state is cleared anyway.
func (c *Controller) EmergencyStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.gpio.WritePin(c.cfg.EnablePin, gpio.Low); err != nil {
		debug.Error(fmt.Errorf("emergency stop write: %w", err))
	}
	c.on = false
}

// watchdog runs on a dedicated goroutine with its own ticker, so its
// cadence is upper-bounded even when the control or telemetry work is
// saturated.
func (c *Controller) watchdog() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.WatchPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.checkTimeout()
		}
	}
}

// checkTimeout is the fail-safe: if the laser has been on longer than the
// safety timeout, force it off. A transient write failure is retried next
// tick; the commanded state is cleared immediately either way.
func (c *Controller) checkTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.on || c.now().Sub(c.lastOnTime) <= c.cfg.SafetyTimeout {
		return
	}

	debug.Watchdog("laser on for %v (limit %v), forcing off",
		c.now().Sub(c.lastOnTime).Round(time.Millisecond), c.cfg.SafetyTimeout)
	if err := c.gpio.WritePin(c.cfg.EnablePin, gpio.Low); err != nil {
		debug.Error(fmt.Errorf("watchdog force-off write: %w", err))
	}
	c.on = false
}

// Release stops the watchdog, joins it with a bounded timeout, and forces
// the laser off. Must be called exactly once.
func (c *Controller) Release() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return fmt.Errorf("laser controller already released")
	}
	c.released = true
	c.mu.Unlock()

	close(c.stop)
	select {
	case <-c.done:
	case <-time.After(releaseTimeout):
		debug.Error(fmt.Errorf("laser watchdog did not stop within %v", releaseTimeout))
	}

	return c.TurnOff()
}
