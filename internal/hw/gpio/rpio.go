package gpio

import (
	"fmt"

	"github.com/c0d9nqa3/autoredL/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// pwmCycleLen is the number of duty slots per PWM period. 2000 slots at
// 50 Hz gives 0.01 ms pulse resolution, plenty for hobby servos.
const pwmCycleLen = 2000

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
type RPiDriver struct {
	pins map[int]rpio.Pin
	pwm  map[int]bool
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins: make(map[int]rpio.Pin),
		pwm:  make(map[int]bool),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	r.pins[pin] = p

	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as output
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as input
		if err := r.SetupPin(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}

	state := p.Read()
	if state == rpio.High {
		return High, nil
	}
	return Low, nil
}

// SetupPWM puts a pin into hardware PWM mode at the given carrier
// frequency. Only the Pi's hardware PWM pins (GPIO 12, 13, 18, 19)
// support this; go-rpio leaves other pins silently inert.
func (r *RPiDriver) SetupPWM(pin int, freqHz int) error {
	debug.GPIO("SetupPWM", pin, freqHz)

	if freqHz <= 0 {
		return fmt.Errorf("invalid PWM frequency: %d", freqHz)
	}

	p := rpio.Pin(pin)
	r.pins[pin] = p
	r.pwm[pin] = true

	p.Mode(rpio.Pwm)
	// go-rpio wants the PWM clock source frequency; the output period is
	// source/cycleLen.
	p.Freq(freqHz * pwmCycleLen)
	p.DutyCycle(0, pwmCycleLen)

	return nil
}

func (r *RPiDriver) WritePWM(pin int, duty float64) error {
	debug.GPIO("WritePWM", pin, duty)

	if !r.pwm[pin] {
		return fmt.Errorf("pin %d is not configured for PWM", pin)
	}
	if duty < 0 {
		duty = 0
	}
	if duty > 1 {
		duty = 1
	}

	p := r.pins[pin]
	p.DutyCycle(uint32(duty*pwmCycleLen+0.5), pwmCycleLen)
	return nil
}

func (r *RPiDriver) StopPWM(pin int) error {
	debug.GPIO("StopPWM", pin, nil)

	p, ok := r.pins[pin]
	if !ok || !r.pwm[pin] {
		return nil
	}

	p.DutyCycle(0, pwmCycleLen)
	p.Output()
	p.Low()
	delete(r.pwm, pin)
	return nil
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	// Reset all pins to input (safe state)
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		if r.pwm[pin] {
			p.DutyCycle(0, pwmCycleLen)
		}
		p.Input()
	}

	return rpio.Close()
}
