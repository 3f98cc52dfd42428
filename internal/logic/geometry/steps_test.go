package geometry

import (
	"math"
	"testing"

	"github.com/cjeanneret/StarGo/internal/config"
)

func newStepsConfig(stepsPerRev, microstepping int, pitch float64) *config.Config {
	cfg := config.Default()
	cfg.Stepper.StepsPerRev = stepsPerRev
	cfg.Stepper.Microstepping = microstepping
	cfg.Geometry.RodPitchMm = pitch
	return cfg
}

func TestStepsCalculator_KnownConfig(t *testing.T) {
	// 200 steps/rev * 16 microstepping = 3200 microsteps/rev
	// 0.8 mm pitch -> 0.00025 mm per microstep
	sc := NewStepsCalculator(newStepsConfig(200, 16, 0.8))

	if got := sc.MmPerStep(); math.Abs(got-0.00025) > 1e-15 {
		t.Errorf("MmPerStep() = %v, want 0.00025", got)
	}

	cases := []struct {
		name  string
		steps int32
		want  float64
	}{
		{"closed", 0, 44.2},
		{"one_rotation", 3200, 45.0},
		{"one_step", 1, 44.20025},
		{"full_travel", 543200, 180.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := sc.LengthAtSteps(tc.steps)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("LengthAtSteps(%d) = %v, want %v", tc.steps, got, tc.want)
			}
			if back := sc.StepsForLength(got); back != tc.steps {
				t.Errorf("StepsForLength(%v) = %d, want %d", got, back, tc.steps)
			}
		})
	}
}

func TestStepsCalculator_DifferentMicrostepping(t *testing.T) {
	microsteps := []int{1, 2, 4, 8, 16, 32}
	for _, ms := range microsteps {
		sc := NewStepsCalculator(newStepsConfig(200, ms, 0.8))
		steps := int32(200 * ms) // exactly one rod rotation
		got := sc.LengthAtSteps(steps)
		if math.Abs(got-45.0) > 1e-9 {
			t.Errorf("microstepping=%d: LengthAtSteps(%d) = %v, want 45.0", ms, steps, got)
		}
	}
}

func TestStepsCalculator_Rates(t *testing.T) {
	sc := NewStepsCalculator(newStepsConfig(200, 16, 0.8))

	if got := sc.RotationsPerSecond(0.4); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("RotationsPerSecond(0.4 mm/s) = %v, want 0.5", got)
	}
	if got := sc.StepsPerSecond(0.5); got != 1600 {
		t.Errorf("StepsPerSecond(0.5) = %v, want 1600", got)
	}
}
