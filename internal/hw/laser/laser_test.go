package laser

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/c0d9nqa3/autoredL/internal/hw/gpio"
)

// recordingDriver records pin writes for verification.
type recordingDriver struct {
	mu         sync.Mutex
	writes     []pinWrite
	failWrites bool
}

type pinWrite struct {
	pin   int
	level gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error { return nil }
func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error)       { return gpio.Low, nil }
func (d *recordingDriver) SetupPWM(pin int, freqHz int) error        { return nil }
func (d *recordingDriver) WritePWM(pin int, duty float64) error      { return nil }
func (d *recordingDriver) StopPWM(pin int) error                     { return nil }
func (d *recordingDriver) Close() error                              { return nil }

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failWrites {
		return errors.New("injected write failure")
	}
	d.writes = append(d.writes, pinWrite{pin: pin, level: level})
	return nil
}

func (d *recordingDriver) lastLevel(pin int) (gpio.Level, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.writes) - 1; i >= 0; i-- {
		if d.writes[i].pin == pin {
			return d.writes[i].level, true
		}
	}
	return gpio.Low, false
}

// fakeClock drives the controller's notion of time.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestController(t *testing.T, timeout time.Duration) (*Controller, *recordingDriver, *fakeClock) {
	t.Helper()
	drv := &recordingDriver{}
	c, err := newController(drv, Config{EnablePin: 20, SafetyTimeout: timeout})
	if err != nil {
		t.Fatalf("newController: %v", err)
	}
	clk := &fakeClock{t: time.Unix(1000, 0)}
	c.now = clk.now
	return c, drv, clk
}

func TestTurnOnOff(t *testing.T) {
	c, drv, clk := newTestController(t, 5*time.Second)

	if c.IsOn() {
		t.Fatal("laser should start off")
	}
	if lvl, ok := drv.lastLevel(20); !ok || lvl != gpio.Low {
		t.Error("init should drive the enable pin low")
	}

	if err := c.TurnOn(); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}
	if !c.IsOn() {
		t.Error("IsOn = false after TurnOn")
	}
	if lvl, _ := drv.lastLevel(20); lvl != gpio.High {
		t.Error("enable pin not high after TurnOn")
	}

	clk.advance(2 * time.Second)
	if got := c.OnDuration(); got != 2*time.Second {
		t.Errorf("OnDuration = %v, want 2s", got)
	}

	if err := c.TurnOff(); err != nil {
		t.Fatalf("TurnOff: %v", err)
	}
	if c.IsOn() {
		t.Error("IsOn = true after TurnOff")
	}
	if got := c.OnDuration(); got != 0 {
		t.Errorf("OnDuration while off = %v, want 0", got)
	}
}

func TestTurnOn_NoOpDoesNotRestartSafetyTimer(t *testing.T) {
	c, _, clk := newTestController(t, 5*time.Second)

	if err := c.TurnOn(); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}
	clk.advance(3 * time.Second)
	if err := c.TurnOn(); err != nil {
		t.Fatalf("second TurnOn: %v", err)
	}

	if got := c.OnDuration(); got != 3*time.Second {
		t.Errorf("OnDuration after repeated TurnOn = %v, want 3s", got)
	}
}

func TestWatchdog_ForcesOffPastTimeout(t *testing.T) {
	c, drv, clk := newTestController(t, 5*time.Second)

	if err := c.TurnOn(); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}

	// Within the timeout: nothing happens.
	clk.advance(5 * time.Second)
	c.checkTimeout()
	if !c.IsOn() {
		t.Fatal("watchdog tripped at exactly the timeout, should only trip past it")
	}

	// Past the timeout: forced off without any TurnOff call.
	clk.advance(100 * time.Millisecond)
	c.checkTimeout()
	if c.IsOn() {
		t.Error("laser still on past safety timeout")
	}
	if lvl, _ := drv.lastLevel(20); lvl != gpio.Low {
		t.Error("enable pin not forced low by watchdog")
	}
}

func TestWatchdog_ClearsStateEvenOnWriteFailure(t *testing.T) {
	c, drv, clk := newTestController(t, 1*time.Second)

	if err := c.TurnOn(); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}

	drv.mu.Lock()
	drv.failWrites = true
	drv.mu.Unlock()

	clk.advance(2 * time.Second)
	c.checkTimeout()
	if c.IsOn() {
		t.Error("commanded state must clear even when the force-off write fails")
	}
}

func TestEmergencyStop(t *testing.T) {
	c, drv, _ := newTestController(t, 5*time.Second)

	if err := c.TurnOn(); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}
	c.EmergencyStop()

	if c.IsOn() {
		t.Error("IsOn = true after EmergencyStop")
	}
	if lvl, _ := drv.lastLevel(20); lvl != gpio.Low {
		t.Error("enable pin not low after EmergencyStop")
	}

	// Always safe to call, including when already off.
	c.EmergencyStop()
}

func TestWatchdogLoop_EndToEnd(t *testing.T) {
	// Real goroutine, real clock, short timeout: the emitter must go off
	// without any TurnOff call within timeout + one watchdog period.
	drv := &recordingDriver{}
	c, err := New(drv, Config{
		EnablePin:     20,
		SafetyTimeout: 30 * time.Millisecond,
		WatchPeriod:   10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Release()

	if err := c.TurnOn(); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}

	deadline := time.After(200 * time.Millisecond)
	for c.IsOn() {
		select {
		case <-deadline:
			t.Fatal("watchdog never forced the laser off")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTurnOnAfterRelease_Rejected(t *testing.T) {
	// Release stops the watchdog; a TurnOn accepted afterwards would
	// drive the pin high with nothing left to bound the on-time.
	drv := &recordingDriver{}
	c, err := New(drv, Config{
		EnablePin:     20,
		SafetyTimeout: 20 * time.Millisecond,
		WatchPeriod:   10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if err := c.TurnOn(); err == nil {
		t.Fatal("TurnOn after Release should return an error")
	}
	if c.IsOn() {
		t.Error("IsOn = true after rejected TurnOn")
	}
	if lvl, _ := drv.lastLevel(20); lvl != gpio.Low {
		t.Error("enable pin driven high after Release")
	}

	// Well past the safety timeout: still off, still low.
	time.Sleep(60 * time.Millisecond)
	if c.IsOn() {
		t.Error("laser on after Release with no watchdog alive")
	}
	if lvl, _ := drv.lastLevel(20); lvl != gpio.Low {
		t.Error("enable pin not low after Release")
	}
}

func TestRelease_ExactlyOnce(t *testing.T) {
	drv := &recordingDriver{}
	c, err := New(drv, Config{EnablePin: 20, SafetyTimeout: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.TurnOn(); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}
	if err := c.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if c.IsOn() {
		t.Error("laser still on after Release")
	}
	if err := c.Release(); err == nil {
		t.Error("second Release should return an error")
	}
}
