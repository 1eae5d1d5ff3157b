package debug

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (init, safety trips, degradations)
	LevelLive    = 2 // Live info (track changes, commands, laser switching)
	LevelVerbose = 3 // Verbose (angles, errors, per-frame decisions)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

var (
	level  int
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (init steps, safety trips, fallbacks)
// 2 = live info (track acquired/lost, commands, laser on/off)
// 3 = verbose (servo targets, tracking errors)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	level = debugLevel
	if level > LevelOff {
		logger = log.New(os.Stdout, "[AutoRedL] ", log.LstdFlags|log.Lmicroseconds)
	}
}

// SetOutput redirects debug output, e.g. to a MultiWriter feeding the
// web status broadcaster alongside stdout.
func SetOutput(w io.Writer) {
	if logger != nil {
		logger.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO] "+format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if level >= LevelOff && logger != nil {
		logger.Printf("═══════════════════════════════════════")
		logger.Printf("  %s", title)
		logger.Printf("═══════════════════════════════════════")
	}
}

// Watchdog prints a safety-trip notice (level 1). This is the system
// working as designed, not an error.
func Watchdog(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[SAFETY] "+format, args...)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] "+format, args...)
	}
}

// Track prints a tracking state change (level 2).
func Track(format string, args ...interface{}) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[TRACK] "+format, args...)
	}
}

// Command prints a received telemetry command (level 2).
func Command(name string, args string) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[CMD] %s %q", name, args)
	}
}

// Laser prints a laser state change (level 2).
func Laser(on bool) {
	if level >= LevelLive && logger != nil {
		state := "OFF"
		if on {
			state = "ON"
		}
		logger.Printf("[LIVE] Laser %s", state)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] "+format, args...)
	}
}

// Servo prints a servo target/position update (level 3).
func Servo(pan, tilt float64) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[SERVO] target pan=%.2f° tilt=%.2f°", pan, tilt)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] %s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Printf("  %s", name)
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] Step %d: %s", num, description)
	}
}

// Value prints a named value in formatted form.
func Value(name string, value interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO]   %s = %v", name, value)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[TRACE] "+format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[GPIO] %s pin=%d value=%v", operation, pin, value)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[ERROR] %v", err)
	}
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if level > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
