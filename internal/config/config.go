package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// CameraConfig describes the video source.
type CameraConfig struct {
	DeviceID int `yaml:"device_id"` // V4L2 device index
	Width    int `yaml:"width"`     // requested capture width (px)
	Height   int `yaml:"height"`    // requested capture height (px)
	FPS      int `yaml:"fps"`       // requested capture rate
}

// PIDConfig holds one axis' control gains.
type PIDConfig struct {
	Kp        float64 `yaml:"kp"`
	Ki        float64 `yaml:"ki"`
	Kd        float64 `yaml:"kd"`
	MaxOutput float64 `yaml:"max_output"` // output clamp, degrees per update
}

// ServoConfig describes the pan/tilt hardware.
type ServoConfig struct {
	PanPin      int       `yaml:"pan_pin"`  // BCM pin for the pan servo PWM
	TiltPin     int       `yaml:"tilt_pin"` // BCM pin for the tilt servo PWM
	FrequencyHz int       `yaml:"frequency_hz"`
	PanMinDeg   float64   `yaml:"pan_min_deg"`
	PanMaxDeg   float64   `yaml:"pan_max_deg"`
	TiltMinDeg  float64   `yaml:"tilt_min_deg"`
	TiltMaxDeg  float64   `yaml:"tilt_max_deg"`
	TickMs      int       `yaml:"tick_ms"` // control loop period (ms)
	PID         PIDConfig `yaml:"pid"`
}

// DetectionConfig tunes the person detector.
type DetectionConfig struct {
	ModelPath           string  `yaml:"model_path"` // ONNX model; empty = HOG fallback
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	NMSThreshold        float64 `yaml:"nms_threshold"`
	InputSize           int     `yaml:"input_size"` // square model input (px)
}

// LaserConfig describes the emitter and its safety limits.
type LaserConfig struct {
	EnablePin      int `yaml:"enable_pin"`       // BCM pin driving the emitter
	SafetyTimeoutS int `yaml:"safety_timeout_s"` // continuous-on limit (seconds)
	WatchPeriodMs  int `yaml:"watch_period_ms"`  // watchdog check period (ms)
}

// TrackingConfig tunes the target tracker.
type TrackingConfig struct {
	MaxLostTimeS      float64 `yaml:"max_lost_time_s"` // hold a lost track this long
	Deadzone          float64 `yaml:"deadzone"`        // px, no correction inside
	HistorySize       int     `yaml:"history_size"`    // smoothing window
	CenteredThreshold float64 `yaml:"centered_threshold"` // px, laser gate
	MaxPan            float64 `yaml:"max_pan"`            // degrees
	MaxTilt           float64 `yaml:"max_tilt"`           // degrees
}

// SerialConfig describes the telemetry link.
type SerialConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Port     string `yaml:"port"` // e.g., /dev/ttyUSB0
	BaudRate int    `yaml:"baudrate"`
}

// SystemConfig contains generic runtime parameters.
type SystemConfig struct {
	MaxFPS     int  `yaml:"max_fps"`     // frame loop cap
	DebugLevel int  `yaml:"debug_level"` // 0=off, 1=info, 2=live, 3=verbose, 4=trace
	MockGPIO   bool `yaml:"mock_gpio"`   // true=dev/test, false=real Raspberry Pi
	Display    bool `yaml:"display"`     // show the debug window
}

// Config aggregates all application configuration.
type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Servo     ServoConfig     `yaml:"servo"`
	Detection DetectionConfig `yaml:"detection"`
	Laser     LaserConfig     `yaml:"laser"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Serial    SerialConfig    `yaml:"serial"`
	System    SystemConfig    `yaml:"system"`
}

// ValidateConfigPath checks that a config path stays inside a configs/
// directory and carries the .yaml extension.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have a .yaml extension: %s", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config file must live in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration with defaults
// applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Basic validation
	if cfg.Servo.PanPin <= 0 || cfg.Servo.TiltPin <= 0 {
		return nil, fmt.Errorf("servo.pan_pin and servo.tilt_pin are required")
	}
	if cfg.Laser.EnablePin <= 0 {
		return nil, fmt.Errorf("laser.enable_pin is required")
	}
	if cfg.Servo.PanPin == cfg.Servo.TiltPin ||
		cfg.Servo.PanPin == cfg.Laser.EnablePin ||
		cfg.Servo.TiltPin == cfg.Laser.EnablePin {
		return nil, fmt.Errorf("servo and laser pins must be distinct")
	}
	if cfg.Serial.Enabled && cfg.Serial.Port == "" {
		return nil, fmt.Errorf("serial.port is required when serial is enabled")
	}
	if cfg.System.DebugLevel < 0 || cfg.System.DebugLevel > 4 {
		return nil, fmt.Errorf("debug_level must be between 0 and 4, got %d", cfg.System.DebugLevel)
	}

	// Camera defaults
	if cfg.Camera.Width <= 0 {
		cfg.Camera.Width = 640
	}
	if cfg.Camera.Height <= 0 {
		cfg.Camera.Height = 480
	}
	if cfg.Camera.FPS <= 0 {
		cfg.Camera.FPS = 30
	}

	// Servo defaults: standard hobby servo limits and gains
	if cfg.Servo.FrequencyHz <= 0 {
		cfg.Servo.FrequencyHz = 50
	}
	if cfg.Servo.PanMinDeg == 0 && cfg.Servo.PanMaxDeg == 0 {
		cfg.Servo.PanMinDeg, cfg.Servo.PanMaxDeg = -90, 90
	}
	if cfg.Servo.TiltMinDeg == 0 && cfg.Servo.TiltMaxDeg == 0 {
		cfg.Servo.TiltMinDeg, cfg.Servo.TiltMaxDeg = -45, 45
	}
	if cfg.Servo.PanMinDeg >= cfg.Servo.PanMaxDeg {
		return nil, fmt.Errorf("servo pan limits inverted: [%.1f, %.1f]", cfg.Servo.PanMinDeg, cfg.Servo.PanMaxDeg)
	}
	if cfg.Servo.TiltMinDeg >= cfg.Servo.TiltMaxDeg {
		return nil, fmt.Errorf("servo tilt limits inverted: [%.1f, %.1f]", cfg.Servo.TiltMinDeg, cfg.Servo.TiltMaxDeg)
	}
	if cfg.Servo.TickMs <= 0 {
		cfg.Servo.TickMs = 20 // one RC servo PWM frame
	}
	if cfg.Servo.PID.Kp == 0 && cfg.Servo.PID.Ki == 0 && cfg.Servo.PID.Kd == 0 {
		cfg.Servo.PID = PIDConfig{Kp: 0.8, Ki: 0.1, Kd: 0.2, MaxOutput: 10}
	}
	if cfg.Servo.PID.MaxOutput <= 0 {
		cfg.Servo.PID.MaxOutput = 10
	}

	// Detection defaults
	if cfg.Detection.ConfidenceThreshold <= 0 {
		cfg.Detection.ConfidenceThreshold = 0.5
	}
	if cfg.Detection.NMSThreshold <= 0 {
		cfg.Detection.NMSThreshold = 0.4
	}
	if cfg.Detection.InputSize <= 0 {
		cfg.Detection.InputSize = 640
	}

	// Laser defaults
	if cfg.Laser.SafetyTimeoutS <= 0 {
		cfg.Laser.SafetyTimeoutS = 5
	}
	if cfg.Laser.WatchPeriodMs <= 0 {
		cfg.Laser.WatchPeriodMs = 100
	}

	// Tracking defaults
	if cfg.Tracking.MaxLostTimeS <= 0 {
		cfg.Tracking.MaxLostTimeS = 2
	}
	if cfg.Tracking.Deadzone <= 0 {
		cfg.Tracking.Deadzone = 20
	}
	if cfg.Tracking.HistorySize <= 0 {
		cfg.Tracking.HistorySize = 5
	}
	if cfg.Tracking.CenteredThreshold <= 0 {
		cfg.Tracking.CenteredThreshold = 30
	}
	if cfg.Tracking.MaxPan <= 0 {
		cfg.Tracking.MaxPan = 90
	}
	if cfg.Tracking.MaxTilt <= 0 {
		cfg.Tracking.MaxTilt = 45
	}

	// Serial and system defaults
	if cfg.Serial.BaudRate <= 0 {
		cfg.Serial.BaudRate = 115200
	}
	if cfg.System.MaxFPS <= 0 {
		cfg.System.MaxFPS = 30
	}

	return &cfg, nil
}

// SafetyTimeout returns the emitter's continuous-on limit.
func (c *Config) SafetyTimeout() time.Duration {
	return time.Duration(c.Laser.SafetyTimeoutS) * time.Second
}

// WatchPeriod returns the emitter watchdog check period.
func (c *Config) WatchPeriod() time.Duration {
	return time.Duration(c.Laser.WatchPeriodMs) * time.Millisecond
}

// MaxLostTime returns how long a lost track is held before clearing.
func (c *Config) MaxLostTime() time.Duration {
	return time.Duration(c.Tracking.MaxLostTimeS * float64(time.Second))
}

// ServoTick returns the servo control loop period.
func (c *Config) ServoTick() time.Duration {
	return time.Duration(c.Servo.TickMs) * time.Millisecond
}
