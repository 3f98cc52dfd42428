package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a config file accepted by Load.
const MaxConfigFileBytes = 1 << 20

// GeometryConfig describes the hinge triangle and the threaded rod.
type GeometryConfig struct {
	RMm        float64 `yaml:"r_mm"`         // side length of the isosceles triangle (hinge to rod pivots)
	StartLMm   float64 `yaml:"start_l_mm"`   // rod length at the closed position
	MaxLMm     float64 `yaml:"max_l_mm"`     // rod length at the end of travel
	RodPitchMm float64 `yaml:"rod_pitch_mm"` // linear travel per rod rotation
}

// StepperConfig holds the configuration for the rod stepper motor.
type StepperConfig struct {
	StepPin       int     `yaml:"step_pin"`
	DirPin        int     `yaml:"dir_pin"`
	MicrostepPin  int     `yaml:"microstep_pin"` // driver MS control pin (BCM). 0 = not used. Driven HIGH.
	StepsPerRev   int     `yaml:"steps_per_rev"`
	Microstepping int     `yaml:"microstepping"`
	Granularity   int     `yaml:"granularity"` // microsteps counted per pulse
	MinRPS        float64 `yaml:"min_rps"`     // slowest achievable rod rotation rate
	MaxRPS        float64 `yaml:"max_rps"`     // fastest achievable rod rotation rate
	ForwardHigh   *bool   `yaml:"forward_high,omitempty"`
}

// ButtonsConfig wires the three operator buttons.
type ButtonsConfig struct {
	RevertPin       int   `yaml:"revert_pin"`
	DitherPeriodPin int   `yaml:"dither_period_pin"`
	DitherAnglePin  int   `yaml:"dither_angle_pin"`
	DebounceMs      int   `yaml:"debounce_ms"`
	ActiveLow       *bool `yaml:"active_low,omitempty"` // buttons short the pin to GND (default true)
}

// DitherConfig holds the dithering parameters.
type DitherConfig struct {
	PeriodMin        int       `yaml:"period_min"`         // initial period in minutes, 0 = disabled
	DefaultPeriodMin int       `yaml:"default_period_min"` // value the period wraps to after 0
	AngleDeg         float64   `yaml:"angle_deg"`          // initial maximum dither angle
	AnglesDeg        []float64 `yaml:"angles_deg"`         // ordered set the angle button cycles through
	CoarseRPS        float64   `yaml:"coarse_rps"`
	FineRPS          float64   `yaml:"fine_rps"`
	SeekPollMs       int       `yaml:"seek_poll_ms"`
	MaxIterations    int       `yaml:"max_iterations"` // per seek phase
}

// RevertConfig holds the homing ramp parameters.
type RevertConfig struct {
	StartStepsPerSec int     `yaml:"start_steps_per_sec"`
	RampRPS          float64 `yaml:"ramp_rps"` // magnitude added every tick
	MaxRPS           float64 `yaml:"max_rps"`
	TickMs           int     `yaml:"tick_ms"`
}

// TimingConfig holds the time base parameters.
type TimingConfig struct {
	TickHz   int `yaml:"tick_hz"`   // frequency of the time counter
	LoopMs   int `yaml:"loop_ms"`   // main loop poll period
	RecalcMs int `yaml:"recalc_ms"` // speed recalculation period
}

// DisplayConfig describes the optional SH1106 status screen.
type DisplayConfig struct {
	Enabled  bool   `yaml:"enabled"`
	I2CBus   string `yaml:"i2c_bus"` // e.g., "/dev/i2c-1"
	Address  int    `yaml:"address"` // 7-bit address, e.g., 0x3c
	Contrast int    `yaml:"contrast"`
}

// MQTTConfig describes the optional status publisher.
// Credentials come from the environment (STARGO_MQTT_USERNAME / STARGO_MQTT_PASSWORD).
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // e.g., "tcp://localhost:1883", empty = disabled
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
}

// DebugConfig controls logging.
type DebugConfig struct {
	DebugLevel int    `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	SerialPort string `yaml:"serial_port"` // optional UART for a copy of the log, e.g., "/dev/ttyUSB0"
	Baud       int    `yaml:"baud"`
}

// GPIOConfig selects the GPIO backend.
type GPIOConfig struct {
	Backend string `yaml:"backend"` // mock, rpio or gpiocdev
	Chip    string `yaml:"chip"`    // gpiocdev chip, e.g., "gpiochip0"
}

// Config aggregates all application configuration.
type Config struct {
	Geometry GeometryConfig `yaml:"geometry"`
	Stepper  StepperConfig  `yaml:"stepper"`
	Buttons  ButtonsConfig  `yaml:"buttons"`
	Dither   DitherConfig   `yaml:"dither"`
	Revert   RevertConfig   `yaml:"revert"`
	Timing   TimingConfig   `yaml:"timing"`
	Display  DisplayConfig  `yaml:"display"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Debug    DebugConfig    `yaml:"debug"`
	GPIO     GPIOConfig     `yaml:"gpio"`
	WebPort  int            `yaml:"web_port"` // 0 = disabled
}

// ValidateConfigPath checks that path points to a .yaml file directly inside a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config file must have .yaml extension, got %q", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must be inside a configs/ directory, got %q", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration with defaults applied.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration of the reference mount
// (R=133.8 mm, 44.2..180 mm travel, M5 rod with 0.8 mm pitch, 200x16 steps).
func Default() *Config {
	cfg := &Config{
		Geometry: GeometryConfig{
			RMm:        133.8,
			StartLMm:   44.2,
			MaxLMm:     180.0,
			RodPitchMm: 0.8,
		},
		Stepper: StepperConfig{
			StepPin:       18,
			DirPin:        17,
			MicrostepPin:  27,
			StepsPerRev:   200,
			Microstepping: 16,
		},
		Buttons: ButtonsConfig{
			RevertPin:       22,
			DitherPeriodPin: 23,
			DitherAnglePin:  24,
		},
		Dither: DitherConfig{
			PeriodMin:        8,
			DefaultPeriodMin: 8,
			AngleDeg:         2.0,
		},
		Display: DisplayConfig{
			I2CBus:  "/dev/i2c-1",
			Address: 0x3c,
		},
		GPIO: GPIOConfig{Backend: "mock"},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Stepper.Granularity <= 0 {
		c.Stepper.Granularity = 1
	}
	if c.Stepper.MinRPS <= 0 {
		c.Stepper.MinRPS = 0.001
	}
	if c.Stepper.MaxRPS <= 0 {
		c.Stepper.MaxRPS = 10 // step timer ceiling
	}
	if c.Stepper.ForwardHigh == nil {
		v := true
		c.Stepper.ForwardHigh = &v
	}
	if c.Buttons.DebounceMs <= 0 {
		c.Buttons.DebounceMs = 20
	}
	if c.Buttons.ActiveLow == nil {
		v := true
		c.Buttons.ActiveLow = &v
	}
	if c.Dither.DefaultPeriodMin <= 0 {
		c.Dither.DefaultPeriodMin = 8
	}
	if len(c.Dither.AnglesDeg) == 0 {
		c.Dither.AnglesDeg = []float64{2.0, 1.0, 0.5, 0.3, 0.2}
	}
	if c.Dither.AngleDeg <= 0 {
		c.Dither.AngleDeg = c.Dither.AnglesDeg[0]
	}
	if c.Dither.CoarseRPS <= 0 {
		c.Dither.CoarseRPS = 0.5
	}
	if c.Dither.FineRPS <= 0 {
		c.Dither.FineRPS = 0.05
	}
	if c.Dither.SeekPollMs <= 0 {
		c.Dither.SeekPollMs = 1
	}
	if c.Dither.MaxIterations <= 0 {
		c.Dither.MaxIterations = 200000
	}
	if c.Revert.StartStepsPerSec <= 0 {
		c.Revert.StartStepsPerSec = 100
	}
	if c.Revert.RampRPS <= 0 {
		c.Revert.RampRPS = 0.2
	}
	if c.Revert.MaxRPS <= 0 {
		c.Revert.MaxRPS = 8
	}
	if c.Revert.TickMs <= 0 {
		c.Revert.TickMs = 10
	}
	if c.Timing.TickHz <= 0 {
		c.Timing.TickHz = 1000
	}
	if c.Timing.LoopMs <= 0 {
		c.Timing.LoopMs = 10
	}
	if c.Timing.RecalcMs <= 0 {
		c.Timing.RecalcMs = 500
	}
	if c.Display.Contrast <= 0 {
		c.Display.Contrast = 0x40
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "stargo"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "stargo/status"
	}
	if c.Debug.Baud <= 0 {
		c.Debug.Baud = 115200
	}
	if c.GPIO.Backend == "" {
		c.GPIO.Backend = "mock"
	}
	if c.GPIO.Chip == "" {
		c.GPIO.Chip = "gpiochip0"
	}
}

// Validate checks the configuration for values the motion logic cannot work with.
func (c *Config) Validate() error {
	g := c.Geometry
	if !positive(g.RMm) {
		return fmt.Errorf("geometry.r_mm must be > 0")
	}
	if !positive(g.StartLMm) {
		return fmt.Errorf("geometry.start_l_mm must be > 0")
	}
	if !(g.MaxLMm > g.StartLMm) {
		return fmt.Errorf("geometry.max_l_mm must be > start_l_mm, got %.2f <= %.2f", g.MaxLMm, g.StartLMm)
	}
	if g.MaxLMm > 2*g.RMm {
		return fmt.Errorf("geometry.max_l_mm must be <= 2*r_mm (%.2f), got %.2f", 2*g.RMm, g.MaxLMm)
	}
	if !positive(g.RodPitchMm) {
		return fmt.Errorf("geometry.rod_pitch_mm must be > 0")
	}
	if c.Stepper.StepsPerRev <= 0 {
		return fmt.Errorf("stepper.steps_per_rev must be > 0")
	}
	if c.Stepper.Microstepping <= 0 {
		return fmt.Errorf("stepper.microstepping must be > 0")
	}
	if c.Stepper.MinRPS >= c.Stepper.MaxRPS {
		return fmt.Errorf("stepper.min_rps must be < max_rps, got %g >= %g", c.Stepper.MinRPS, c.Stepper.MaxRPS)
	}
	if c.Dither.PeriodMin < 0 {
		return fmt.Errorf("dither.period_min must be >= 0, got %d", c.Dither.PeriodMin)
	}
	for _, a := range c.Dither.AnglesDeg {
		if !positive(a) || a > 10 {
			return fmt.Errorf("dither.angles_deg entries must be in (0, 10], got %g", a)
		}
	}
	if c.Dither.FineRPS > c.Dither.CoarseRPS {
		return fmt.Errorf("dither.fine_rps must be <= coarse_rps, got %g > %g", c.Dither.FineRPS, c.Dither.CoarseRPS)
	}
	if c.Revert.MaxRPS > c.Stepper.MaxRPS {
		return fmt.Errorf("revert.max_rps must be <= stepper.max_rps, got %g > %g", c.Revert.MaxRPS, c.Stepper.MaxRPS)
	}
	switch c.GPIO.Backend {
	case "mock", "rpio", "gpiocdev":
	default:
		return fmt.Errorf("gpio.backend must be mock, rpio or gpiocdev, got %q", c.GPIO.Backend)
	}
	if c.Display.Address < 0 || c.Display.Address > 0x7f {
		return fmt.Errorf("display.address must be a 7-bit address, got 0x%x", c.Display.Address)
	}
	if c.Debug.DebugLevel < 0 || c.Debug.DebugLevel > 4 {
		return fmt.Errorf("debug.debug_level must be between 0 and 4, got %d", c.Debug.DebugLevel)
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// MicrostepsPerRev returns the number of pulses per rod rotation.
func (c *Config) MicrostepsPerRev() int {
	return c.Stepper.StepsPerRev * c.Stepper.Microstepping
}

// DebounceTicks returns the button filter threshold in time counter ticks.
func (c *Config) DebounceTicks() int {
	return c.Buttons.DebounceMs * c.Timing.TickHz / 1000
}

// LoopPeriod returns the main loop poll period.
func (c *Config) LoopPeriod() time.Duration {
	return time.Duration(c.Timing.LoopMs) * time.Millisecond
}

// RecalcPeriod returns the speed recalculation period.
func (c *Config) RecalcPeriod() time.Duration {
	return time.Duration(c.Timing.RecalcMs) * time.Millisecond
}

// SeekPoll returns the dither seek loop sampling period.
func (c *Config) SeekPoll() time.Duration {
	return time.Duration(c.Dither.SeekPollMs) * time.Millisecond
}

// RevertTick returns the homing ramp period.
func (c *Config) RevertTick() time.Duration {
	return time.Duration(c.Revert.TickMs) * time.Millisecond
}

// RevertStartRPS converts the homing start rate from steps/s to rotations/s.
func (c *Config) RevertStartRPS() float64 {
	return float64(c.Revert.StartStepsPerSec) / float64(c.MicrostepsPerRev())
}
