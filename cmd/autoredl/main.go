package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"gocv.io/x/gocv"

	"github.com/c0d9nqa3/autoredL/internal/config"
	"github.com/c0d9nqa3/autoredL/internal/debug"
	"github.com/c0d9nqa3/autoredL/internal/detect"
	"github.com/c0d9nqa3/autoredL/internal/hw/camera"
	"github.com/c0d9nqa3/autoredL/internal/hw/gpio"
	"github.com/c0d9nqa3/autoredL/internal/hw/laser"
	"github.com/c0d9nqa3/autoredL/internal/hw/servo"
	"github.com/c0d9nqa3/autoredL/internal/logic/runloop"
	"github.com/c0d9nqa3/autoredL/internal/logic/tracking"
	"github.com/c0d9nqa3/autoredL/internal/telemetry"
	"github.com/c0d9nqa3/autoredL/internal/web"
)

// centerSettle gives the servos time to physically reach center before
// the PWM outputs are cut during shutdown.
const centerSettle = 500 * time.Millisecond

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start status server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	mock := flag.Bool("mock", false, "force mock GPIO regardless of config")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *mock {
		cfg.System.MockGPIO = true
	}

	debug.Init(cfg.System.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.System.DebugLevel)
	debug.Value("Mock GPIO", cfg.System.MockGPIO)

	// Actuators are fatal on failure: the system must not run if it
	// cannot guarantee control over the servos and the laser.
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.System.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}

	debug.Step(2, "Initializing pan/tilt servos")
	servoCtrl, err := servo.New(gpioDriver, servo.Config{
		PanPin:      cfg.Servo.PanPin,
		TiltPin:     cfg.Servo.TiltPin,
		FrequencyHz: cfg.Servo.FrequencyHz,
		PanMin:      cfg.Servo.PanMinDeg,
		PanMax:      cfg.Servo.PanMaxDeg,
		TiltMin:     cfg.Servo.TiltMinDeg,
		TiltMax:     cfg.Servo.TiltMaxDeg,
		TickPeriod:  cfg.ServoTick(),
		PID: servo.PIDConfig{
			Kp:        cfg.Servo.PID.Kp,
			Ki:        cfg.Servo.PID.Ki,
			Kd:        cfg.Servo.PID.Kd,
			MaxOutput: cfg.Servo.PID.MaxOutput,
		},
	})
	if err != nil {
		gpioDriver.Close()
		log.Fatalf("init servos failed: %v", err)
	}
	debug.PrintStruct("Servo config", cfg.Servo)

	debug.Step(3, "Initializing laser emitter")
	laserCtrl, err := laser.New(gpioDriver, laser.Config{
		EnablePin:     cfg.Laser.EnablePin,
		SafetyTimeout: cfg.SafetyTimeout(),
		WatchPeriod:   cfg.WatchPeriod(),
	})
	if err != nil {
		servoCtrl.Release()
		gpioDriver.Close()
		log.Fatalf("init laser failed: %v", err)
	}
	debug.Value("Laser pin", cfg.Laser.EnablePin)
	debug.Value("Safety timeout", cfg.SafetyTimeout())

	debug.Step(4, "Opening camera")
	cam, err := camera.NewWebcam(camera.Config{
		DeviceID: cfg.Camera.DeviceID,
		Width:    cfg.Camera.Width,
		Height:   cfg.Camera.Height,
		FPS:      cfg.Camera.FPS,
	})
	if err != nil {
		laserCtrl.EmergencyStop()
		laserCtrl.Release()
		servoCtrl.Release()
		gpioDriver.Close()
		log.Fatalf("open camera failed: %v", err)
	}
	info := cam.Info()
	debug.Value("Camera", fmt.Sprintf("%dx%d @ %.0f fps", info.Width, info.Height, info.FPS))

	debug.Step(5, "Loading person detector")
	detector := detect.New(detect.Config{
		ModelPath:           cfg.Detection.ModelPath,
		ConfidenceThreshold: cfg.Detection.ConfidenceThreshold,
		NMSThreshold:        cfg.Detection.NMSThreshold,
		InputSize:           cfg.Detection.InputSize,
	})
	debug.Value("Detector", detector.Name())

	tracker := tracking.New(tracking.Config{
		FrameWidth:        info.Width,
		FrameHeight:       info.Height,
		MaxLostTime:       cfg.MaxLostTime(),
		DeadzoneX:         cfg.Tracking.Deadzone,
		DeadzoneY:         cfg.Tracking.Deadzone,
		HistorySize:       cfg.Tracking.HistorySize,
		MaxPan:            cfg.Tracking.MaxPan,
		MaxTilt:           cfg.Tracking.MaxTilt,
		CenteredThreshold: cfg.Tracking.CenteredThreshold,
	})

	loop := runloop.New(runloop.Config{MaxFPS: cfg.System.MaxFPS})
	loop.Camera = cam
	loop.Detector = detector
	loop.Tracker = tracker
	loop.Servo = servoCtrl
	loop.Laser = laserCtrl

	// Serial telemetry is best-effort: a missing adapter must not keep
	// the turret from tracking.
	channel := telemetry.NewChannel()
	telemetry.RegisterCommands(channel, servoCtrl, laserCtrl, tracker)
	if cfg.Serial.Enabled {
		debug.Step(6, "Connecting serial telemetry")
		stream, err := telemetry.OpenSerial(cfg.Serial.Port, cfg.Serial.BaudRate)
		if err != nil {
			debug.Info("serial telemetry unavailable (%v), continuing without", err)
		} else if err := channel.Connect(stream); err != nil {
			debug.Info("serial telemetry connect failed (%v), continuing without", err)
		} else {
			loop.Telemetry = channel
			debug.Value("Serial port", cfg.Serial.Port)
		}
	}

	if port := webPort.port(); port > 0 {
		broadcaster := web.NewBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		status := func() map[string]interface{} {
			pan, tilt := servoCtrl.Current()
			return map[string]interface{}{
				"frame_count": loop.FrameCount(),
				"laser_on":    laserCtrl.IsOn(),
				"servo":       map[string]float64{"pan": pan, "tilt": tilt},
				"tracker":     tracker.TargetInfo(),
			}
		}
		srv := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, status)
		go func() {
			if err := srv.Run(ctx); err != nil {
				debug.Error(fmt.Errorf("web server: %w", err))
			}
		}()
	}

	var window *gocv.Window
	if cfg.System.Display {
		window = gocv.NewWindow("AutoRedL")
		defer window.Close()
		loop.Display = func(frame gocv.Mat, detections []tracking.Detection, info tracking.TargetInfo) bool {
			detect.DrawDetections(&frame, detections)
			window.IMShow(frame)
			key := window.WaitKey(1)
			return key != 'q' && key != 27 // 27 = ESC
		}
	}

	debug.Section("Tracking")
	stats := loop.Run(ctx)

	shutdown(servoCtrl, laserCtrl, cam, channel, gpioDriver, detector)

	debug.Summary("Run Summary")
	debug.Info("Frames: %d, elapsed: %s, avg fps: %.1f",
		stats.Frames, stats.Elapsed.Round(time.Millisecond), stats.AvgFPS)
}

// shutdown brings the hardware to a safe state. Order matters: the laser
// is killed before anything else, the servos are centered and given time
// to settle before their PWM is cut, and the GPIO driver closes last.
func shutdown(
	servoCtrl *servo.Controller,
	laserCtrl *laser.Controller,
	cam camera.Camera,
	channel *telemetry.Channel,
	gpioDriver gpio.Driver,
	detector detect.Detector,
) {
	debug.Section("Shutdown")

	laserCtrl.EmergencyStop()
	if err := laserCtrl.Release(); err != nil {
		debug.Error(fmt.Errorf("release laser: %w", err))
	}

	servoCtrl.Center()
	time.Sleep(centerSettle)
	if err := servoCtrl.Release(); err != nil {
		debug.Error(fmt.Errorf("release servos: %w", err))
	}

	if err := cam.Close(); err != nil {
		debug.Error(fmt.Errorf("close camera: %w", err))
	}
	if err := detector.Close(); err != nil {
		debug.Error(fmt.Errorf("close detector: %w", err))
	}

	channel.Disconnect()

	if err := gpioDriver.Close(); err != nil {
		debug.Error(fmt.Errorf("close GPIO: %w", err))
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or
// -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
