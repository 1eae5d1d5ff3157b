package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c0d9nqa3/autoredL/internal/logic/tracking"
)

// The command table reaches into the controllers only through their
// public synchronized APIs, never their locks.

// ServoAPI is what the SERVO/STOP commands need from the servo controller.
type ServoAPI interface {
	SetTarget(pan, tilt float64)
	Current() (pan, tilt float64)
	Center()
}

// LaserAPI is what the LASER/STOP commands need from the laser controller.
type LaserAPI interface {
	TurnOn() error
	TurnOff() error
	IsOn() bool
	EmergencyStop()
}

// TrackerAPI is what the STATUS/STOP commands need from the tracker.
type TrackerAPI interface {
	TargetInfo() tracking.TargetInfo
	Reset()
}

// RegisterCommands installs the diagnostic command table:
//
//	STATUS            component health, servo position, tracker snapshot
//	SERVO [pan tilt]  with args issues a move, without reports position
//	LASER [on|off]    with arg switches, without reports state
//	STOP              emergency-stops the laser, centers the servos
func RegisterCommands(ch *Channel, servo ServoAPI, laser LaserAPI, tracker TrackerAPI) {
	ch.Register("STATUS", func(params map[string]string) interface{} {
		status := map[string]interface{}{
			"servo": servo != nil,
			"laser": laser != nil,
		}
		if servo != nil {
			pan, tilt := servo.Current()
			status["servo_position"] = map[string]float64{"pan": pan, "tilt": tilt}
		}
		if laser != nil {
			status["laser_on"] = laser.IsOn()
		}
		if tracker != nil {
			status["tracker"] = tracker.TargetInfo()
		}
		return status
	})

	ch.Register("SERVO", func(params map[string]string) interface{} {
		if servo == nil {
			return "No servo"
		}
		args := strings.Fields(params["args"])
		if len(args) >= 2 {
			pan, err1 := strconv.ParseFloat(args[0], 64)
			tilt, err2 := strconv.ParseFloat(args[1], 64)
			if err1 != nil || err2 != nil {
				return "Invalid args"
			}
			servo.SetTarget(pan, tilt)
			return fmt.Sprintf("Moving to %g°, %g°", pan, tilt)
		}
		pan, tilt := servo.Current()
		return fmt.Sprintf("Position: %.1f°, %.1f°", pan, tilt)
	})

	ch.Register("LASER", func(params map[string]string) interface{} {
		if laser == nil {
			return "No laser"
		}
		switch strings.ToLower(strings.TrimSpace(params["args"])) {
		case "on":
			if err := laser.TurnOn(); err != nil {
				return fmt.Sprintf("Laser error: %v", err)
			}
			return "Laser ON"
		case "off":
			if err := laser.TurnOff(); err != nil {
				return fmt.Sprintf("Laser error: %v", err)
			}
			return "Laser OFF"
		default:
			if laser.IsOn() {
				return "ON"
			}
			return "OFF"
		}
	})

	ch.Register("STOP", func(params map[string]string) interface{} {
		if laser != nil {
			laser.EmergencyStop()
		}
		if tracker != nil {
			tracker.Reset()
		}
		if servo != nil {
			servo.Center()
		}
		return "STOP"
	})
}
