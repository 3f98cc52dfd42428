package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/StarGo/internal/config"
	"github.com/cjeanneret/StarGo/internal/console"
	"github.com/cjeanneret/StarGo/internal/debug"
	"github.com/cjeanneret/StarGo/internal/hw/button"
	"github.com/cjeanneret/StarGo/internal/hw/clock"
	"github.com/cjeanneret/StarGo/internal/hw/display"
	"github.com/cjeanneret/StarGo/internal/hw/entropy"
	"github.com/cjeanneret/StarGo/internal/hw/gpio"
	"github.com/cjeanneret/StarGo/internal/hw/i2c"
	"github.com/cjeanneret/StarGo/internal/hw/stepper"
	"github.com/cjeanneret/StarGo/internal/logic/control"
	"github.com/cjeanneret/StarGo/internal/logic/geometry"
	"github.com/cjeanneret/StarGo/internal/logic/motion"
	"github.com/cjeanneret/StarGo/internal/telemetry"
	"github.com/cjeanneret/StarGo/internal/web"
)

type options struct {
	webPort    int
	mock       bool
	console    bool
	debugLevel int // -1 = use config
	envFile    string
}

func main() {
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	mock := flag.Bool("mock", false, "force the mock GPIO backend")
	withConsole := flag.Bool("console", false, "interactive bench console (mock GPIO only)")
	debugLevel := flag.Int("debug", -1, "override debug level 0-4")
	envFile := flag.String("env", ".env", "file holding MQTT credentials")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	opts := options{
		webPort:    webPort.port(),
		mock:       *mock,
		console:    *withConsole,
		debugLevel: *debugLevel,
		envFile:    *envFile,
	}
	if err := applyOptions(cfg, opts); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	debug.Init(cfg.Debug.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Debug.DebugLevel)

	if err := run(ctx, cancel, cfg, opts); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("stargo: %v", err)
	}
	debug.Summary("StarGo stopped")
}

// loadConfig reads the YAML file at path, which must sit in a configs/ directory.
func loadConfig(path string) (*config.Config, error) {
	if err := config.ValidateConfigPath(path); err != nil {
		return nil, err
	}
	return config.Load(path)
}

// applyOptions folds command line flags into cfg.
func applyOptions(cfg *config.Config, opts options) error {
	if opts.debugLevel > 4 {
		return fmt.Errorf("debug level must be 0-4, got %d", opts.debugLevel)
	}
	if opts.debugLevel >= 0 {
		cfg.Debug.DebugLevel = opts.debugLevel
	}
	if opts.mock {
		cfg.GPIO.Backend = "mock"
	}
	if opts.webPort > 0 {
		cfg.WebPort = opts.webPort
	}
	if opts.console && cfg.GPIO.Backend != "mock" {
		return fmt.Errorf("-console needs the mock GPIO backend, got %q", cfg.GPIO.Backend)
	}
	return nil
}

// configView is the read-only configuration shown by the web UI.
func configView(cfg *config.Config) web.ConfigView {
	return web.ConfigView{
		RMm:             cfg.Geometry.RMm,
		StartLMm:        cfg.Geometry.StartLMm,
		MaxLMm:          cfg.Geometry.MaxLMm,
		RodPitchMm:      cfg.Geometry.RodPitchMm,
		MicrostepsRev:   cfg.MicrostepsPerRev(),
		DitherAnglesDeg: cfg.Dither.AnglesDeg,
		DefaultPeriod:   cfg.Dither.DefaultPeriodMin,
	}
}

func benchPins(cfg *config.Config) console.Pins {
	return console.Pins{
		Revert:       cfg.Buttons.RevertPin,
		DitherPeriod: cfg.Buttons.DitherPeriodPin,
		DitherAngle:  cfg.Buttons.DitherAnglePin,
	}
}

func stepperConfig(cfg *config.Config) stepper.Config {
	return stepper.Config{
		StepPin:          cfg.Stepper.StepPin,
		DirPin:           cfg.Stepper.DirPin,
		MicrostepPin:     cfg.Stepper.MicrostepPin,
		MicrostepsPerRev: cfg.MicrostepsPerRev(),
		Granularity:      cfg.Stepper.Granularity,
		MinRPS:           cfg.Stepper.MinRPS,
		MaxRPS:           cfg.Stepper.MaxRPS,
		ForwardHigh:      *cfg.Stepper.ForwardHigh,
	}
}

// buttons are the three debounced operator inputs, sampled by the tick counter.
type buttons struct {
	revert, period, angle *button.Button
}

func newButtons(cfg *config.Config, drv gpio.Driver) (buttons, error) {
	activeLow := *cfg.Buttons.ActiveLow
	threshold := cfg.DebounceTicks()
	var b buttons
	var err error
	if b.revert, err = button.New("revert", drv, cfg.Buttons.RevertPin, activeLow, threshold); err != nil {
		return b, fmt.Errorf("revert button: %w", err)
	}
	if b.period, err = button.New("dither period", drv, cfg.Buttons.DitherPeriodPin, activeLow, threshold); err != nil {
		return b, fmt.Errorf("dither period button: %w", err)
	}
	if b.angle, err = button.New("dither angle", drv, cfg.Buttons.DitherAnglePin, activeLow, threshold); err != nil {
		return b, fmt.Errorf("dither angle button: %w", err)
	}
	return b, nil
}

// openOLED initialises the SH1106 status screen. The returned bus must be closed.
func openOLED(cfg config.DisplayConfig) (*display.SH1106, *i2c.Bus, error) {
	bus, err := i2c.Open(cfg.I2CBus)
	if err != nil {
		return nil, nil, err
	}
	oled, err := display.NewSH1106(bus.Dev(uint16(cfg.Address)), byte(cfg.Contrast))
	if err != nil {
		_ = bus.Close()
		return nil, nil, fmt.Errorf("init SH1106: %w", err)
	}
	return oled, bus, nil
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, opts options) error {
	broadcaster := web.NewBroadcaster()
	stdout := io.Writer(os.Stdout)
	sinks := []io.Writer{broadcaster.Writer()}
	if cfg.Debug.SerialPort != "" {
		port, err := debug.OpenSerial(cfg.Debug.SerialPort, cfg.Debug.Baud)
		if err != nil {
			debug.Error(err)
		} else {
			defer port.Close()
			sinks = append(sinks, port)
		}
	}

	debug.Step(1, "Initializing GPIO driver")
	debug.Value("GPIO backend", cfg.GPIO.Backend)
	drv, err := gpio.NewDriver(cfg.GPIO.Backend, cfg.GPIO.Chip)
	if err != nil {
		return fmt.Errorf("init GPIO: %w", err)
	}
	defer func() {
		if err := drv.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()

	var bench *console.Bench
	if mock, ok := drv.(*gpio.MockDriver); ok {
		bench = console.NewBench(mock, benchPins(cfg))
	}
	var term *console.Console
	if opts.console && bench != nil {
		term = console.New(bench, func() display.Status {
			s, _ := broadcaster.Latest()
			return s
		}, nil)
		stdout = term.Writer(os.Stdout)
	}
	debug.SetOutput(io.MultiWriter(append([]io.Writer{stdout}, sinks...)...))

	debug.Step(2, "Initializing time base and buttons")
	counter := clock.NewCounter(cfg.Timing.TickHz)
	btns, err := newButtons(cfg, drv)
	if err != nil {
		return err
	}
	counter.OnTick(btns.revert.Tick)
	counter.OnTick(btns.period.Tick)
	counter.OnTick(btns.angle.Tick)
	debug.PrintStruct("Buttons config", cfg.Buttons)

	debug.Step(3, "Initializing stepper")
	mount := geometry.NewMount(cfg)
	calc := geometry.NewStepsCalculator(cfg)
	tracker := motion.NewStepTracker(calc, cfg.Stepper.Granularity)
	gen, err := stepper.NewGenerator(drv, stepperConfig(cfg), tracker)
	if err != nil {
		return fmt.Errorf("init stepper: %w", err)
	}
	motor := motion.NewController(gen)
	debug.PrintStruct("Stepper config", cfg.Stepper)
	debug.Value("Closed angle (deg)", geometry.Degrees(mount.MinAngle()))
	debug.Value("End of travel angle (deg)", geometry.Degrees(mount.MaxAngle()))

	debug.Step(4, "Initializing displays")
	screens := display.Multi{broadcaster}
	if cfg.Display.Enabled {
		oled, bus, err := openOLED(cfg.Display)
		if err != nil {
			debug.Error(err)
		} else {
			defer bus.Close()
			screens = append(screens, oled)
		}
	}
	creds, err := telemetry.LoadEnv(opts.envFile)
	if err != nil {
		debug.Error(err)
	}
	broker := telemetry.BrokerURL(cfg.MQTT, creds)
	var publisher *telemetry.Publisher
	if broker != "" {
		publisher = telemetry.NewPublisher(cfg.MQTT.Topic, telemetry.DefaultQueue)
		screens = append(screens, publisher)
		debug.Value("MQTT topic", cfg.MQTT.Topic)
	}
	if err := screens.Welcome("StarGo"); err != nil {
		debug.Trace("welcome: %v", err)
	}

	debug.Step(5, "Seeding random source")
	rnd := entropy.BootSource()

	ctrl := control.New(cfg, control.Hardware{
		Clock:              counter,
		Wait:               counter,
		Mount:              mount,
		Calc:               calc,
		Tracker:            tracker,
		Motor:              motor,
		Random:             rnd,
		RevertButton:       btns.revert,
		DitherPeriodButton: btns.period,
		DitherAngleButton:  btns.angle,
		Display:            screens,
	})
	if term != nil {
		term.OnAbort(ctrl.AbortDither)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counter.Run(gctx)
		return nil
	})
	g.Go(func() error { return gen.Run(gctx) })

	if publisher != nil {
		g.Go(func() error {
			// the mount keeps tracking without a broker
			if err := publisher.Run(gctx, broker, cfg.MQTT.ClientID, creds); err != nil {
				debug.Error(err)
			}
			return nil
		})
	}

	if cfg.WebPort > 0 {
		var press web.PressFunc
		if bench != nil {
			press = bench.Press
		}
		srv, err := web.NewServer(fmt.Sprintf(":%d", cfg.WebPort), broadcaster, press, ctrl.AbortDither, configView(cfg))
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(gctx) })
	}

	if term != nil {
		g.Go(func() error { return term.Run(gctx, cancel) })
	}

	debug.Section("Tracking")
	g.Go(func() error { return ctrl.Run(gctx) })
	return g.Wait()
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
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
