package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "default.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"configs/../../../etc/shadow",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.json",
		"configs/default.yml",
		"configs/default.txt",
		"configs/default",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/default.yaml",
		"/tmp/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for path outside configs/ %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

func TestValidateConfigPath_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	// Must not panic; the result is OS-dependent.
	_ = ValidateConfigPath(long)
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
geometry:
  r_mm: 133.8
  start_l_mm: 44.2
  max_l_mm: 180.0
  rod_pitch_mm: 0.8
stepper:
  step_pin: 18
  dir_pin: 17
  microstep_pin: 27
  steps_per_rev: 200
  microstepping: 16
buttons:
  revert_pin: 22
  dither_period_pin: 23
  dither_angle_pin: 24
  debounce_ms: 20
dither:
  period_min: 0
  default_period_min: 10
  angle_deg: 0.3
timing:
  tick_hz: 1000
debug:
  debug_level: 2
gpio:
  backend: gpiocdev
  chip: gpiochip4
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Geometry.RMm != 133.8 {
		t.Errorf("geometry.r_mm = %v, want 133.8", cfg.Geometry.RMm)
	}
	if cfg.Geometry.MaxLMm != 180.0 {
		t.Errorf("geometry.max_l_mm = %v, want 180.0", cfg.Geometry.MaxLMm)
	}
	if cfg.Stepper.Microstepping != 16 {
		t.Errorf("stepper.microstepping = %d, want 16", cfg.Stepper.Microstepping)
	}
	if cfg.Dither.PeriodMin != 0 {
		t.Errorf("dither.period_min = %d, want 0 (explicitly disabled)", cfg.Dither.PeriodMin)
	}
	if cfg.Dither.DefaultPeriodMin != 10 {
		t.Errorf("dither.default_period_min = %d, want 10", cfg.Dither.DefaultPeriodMin)
	}
	if cfg.Dither.AngleDeg != 0.3 {
		t.Errorf("dither.angle_deg = %v, want 0.3", cfg.Dither.AngleDeg)
	}
	if cfg.GPIO.Backend != "gpiocdev" || cfg.GPIO.Chip != "gpiochip4" {
		t.Errorf("gpio = %+v, want gpiocdev/gpiochip4", cfg.GPIO)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	path := writeConfig(t, "web_port: 8080\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dither.PeriodMin != 8 {
		t.Errorf("dither.period_min default = %d, want 8", cfg.Dither.PeriodMin)
	}
	want := []float64{2.0, 1.0, 0.5, 0.3, 0.2}
	if len(cfg.Dither.AnglesDeg) != len(want) {
		t.Fatalf("dither.angles_deg default = %v, want %v", cfg.Dither.AnglesDeg, want)
	}
	for i := range want {
		if cfg.Dither.AnglesDeg[i] != want[i] {
			t.Errorf("dither.angles_deg[%d] = %v, want %v", i, cfg.Dither.AnglesDeg[i], want[i])
		}
	}
	if cfg.Revert.MaxRPS != 8 {
		t.Errorf("revert.max_rps default = %v, want 8", cfg.Revert.MaxRPS)
	}
	if cfg.Stepper.MaxRPS != 10 {
		t.Errorf("stepper.max_rps default = %v, want 10", cfg.Stepper.MaxRPS)
	}
	if !*cfg.Buttons.ActiveLow {
		t.Error("buttons.active_low should default to true")
	}
	if cfg.GPIO.Backend != "mock" {
		t.Errorf("gpio.backend default = %q, want mock", cfg.GPIO.Backend)
	}
	if cfg.WebPort != 8080 {
		t.Errorf("web_port = %d, want 8080", cfg.WebPort)
	}
}

func TestLoad_InvalidGeometry(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"max_below_start", "geometry:\n  start_l_mm: 50\n  max_l_mm: 40\n"},
		{"max_beyond_triangle", "geometry:\n  r_mm: 80\n  max_l_mm: 170\n"},
		{"negative_pitch", "geometry:\n  rod_pitch_mm: -0.8\n"},
		{"zero_radius", "geometry:\n  r_mm: 0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"negative_period", "dither:\n  period_min: -1\n"},
		{"huge_dither_angle", "dither:\n  angles_deg: [2.0, 45.0]\n"},
		{"fine_faster_than_coarse", "dither:\n  coarse_rps: 0.1\n  fine_rps: 0.5\n"},
		{"unknown_backend", "gpio:\n  backend: sysfs\n"},
		{"revert_beyond_stepper", "revert:\n  max_rps: 20\n"},
		{"debug_level", "debug:\n  debug_level: " + formatFloat(7) + "\n"},
		{"display_address", "display:\n  address: 512\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "big.yaml")
	data := make([]byte, MaxConfigFileBytes+1)
	for i := range data {
		data[i] = '#'
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "{{{{invalid yaml!!!!")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	path := writeConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("empty config should fall back to defaults, got: %v", err)
	}
	if cfg.Geometry.StartLMm != 44.2 {
		t.Errorf("geometry.start_l_mm = %v, want 44.2", cfg.Geometry.StartLMm)
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	yaml := `
geometry:
  r_mm: 133.8
unknown_section:
  foo: bar
`
	_, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "configs", "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

// ---------- Helper methods ----------

func TestConfig_Durations(t *testing.T) {
	cfg := Default()
	if got := cfg.LoopPeriod(); got != 10*time.Millisecond {
		t.Errorf("LoopPeriod() = %v, want 10ms", got)
	}
	if got := cfg.RecalcPeriod(); got != 500*time.Millisecond {
		t.Errorf("RecalcPeriod() = %v, want 500ms", got)
	}
	if got := cfg.SeekPoll(); got != time.Millisecond {
		t.Errorf("SeekPoll() = %v, want 1ms", got)
	}
	if got := cfg.RevertTick(); got != 10*time.Millisecond {
		t.Errorf("RevertTick() = %v, want 10ms", got)
	}
}

func TestConfig_DerivedCounts(t *testing.T) {
	cfg := Default()
	if got := cfg.MicrostepsPerRev(); got != 3200 {
		t.Errorf("MicrostepsPerRev() = %d, want 3200", got)
	}
	if got := cfg.DebounceTicks(); got != 20 {
		t.Errorf("DebounceTicks() = %d, want 20", got)
	}
	if got, want := cfg.RevertStartRPS(), 100.0/3200.0; got != want {
		t.Errorf("RevertStartRPS() = %v, want %v", got, want)
	}
}

// formatFloat is a test helper for embedding numbers into YAML strings.
func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}
