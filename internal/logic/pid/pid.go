package pid

import "time"

// Controller is a single-axis PID feedback controller. It converts a
// position error into a bounded correction. One instance per axis; not
// safe for concurrent use (the owning servo controller serializes calls
// under its own lock).
type Controller struct {
	kp, ki, kd float64
	maxOutput  float64

	integral  float64
	lastError float64
	lastTime  time.Time

	now func() time.Time // injectable for tests
}

// New creates a PID controller with the given gains and output clamp.
func New(kp, ki, kd, maxOutput float64) *Controller {
	c := &Controller{
		kp:        kp,
		ki:        ki,
		kd:        kd,
		maxOutput: maxOutput,
		now:       time.Now,
	}
	c.lastTime = c.now()
	return c
}

// Update computes the next correction for the given error. If no time has
// elapsed since the previous call (clock non-monotonicity, re-entrant
// call), it returns 0 without mutating any state.
func (c *Controller) Update(err float64) float64 {
	current := c.now()
	dt := current.Sub(c.lastTime).Seconds()

	if dt <= 0 {
		return 0.0
	}

	proportional := c.kp * err
	c.integral += err * dt
	integral := c.ki * c.integral
	derivative := c.kd * (err - c.lastError) / dt

	output := proportional + integral + derivative
	if output > c.maxOutput {
		output = c.maxOutput
	}
	if output < -c.maxOutput {
		output = -c.maxOutput
	}

	c.lastError = err
	c.lastTime = current
	return output
}

// Reset zeroes the integral accumulator and last error and resamples the
// timestamp. Callers must reset when a track is lost so integral windup
// does not carry over to the next acquisition.
func (c *Controller) Reset() {
	c.integral = 0.0
	c.lastError = 0.0
	c.lastTime = c.now()
}
