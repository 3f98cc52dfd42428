package geometry

import (
	"math"

	"github.com/cjeanneret/StarGo/internal/config"
)

// StepsCalculator converts between motor microsteps, rod length and rod rotation rate.
type StepsCalculator struct {
	startL           float64
	pitch            float64 // mm per rod rotation
	microstepsPerRev float64
}

// NewStepsCalculator creates a step calculator from configuration.
func NewStepsCalculator(cfg *config.Config) *StepsCalculator {
	return &StepsCalculator{
		startL:           cfg.Geometry.StartLMm,
		pitch:            cfg.Geometry.RodPitchMm,
		microstepsPerRev: float64(cfg.MicrostepsPerRev()),
	}
}

// MmPerStep returns the rod travel of one microstep.
func (s *StepsCalculator) MmPerStep() float64 {
	return s.pitch / s.microstepsPerRev
}

// LengthAtSteps returns the rod length for a step position counted from the closed position.
func (s *StepsCalculator) LengthAtSteps(steps int32) float64 {
	return s.startL + float64(steps)*s.MmPerStep()
}

// StepsForLength returns the nearest step position for a rod length.
func (s *StepsCalculator) StepsForLength(length float64) int32 {
	return int32(math.Round((length - s.startL) / s.MmPerStep()))
}

// RotationsPerSecond converts a rod velocity (mm/s) into rod rotations per second.
func (s *StepsCalculator) RotationsPerSecond(mmPerSec float64) float64 {
	return mmPerSec / s.pitch
}

// StepsPerSecond converts a rod rotation rate into a pulse rate.
func (s *StepsCalculator) StepsPerSecond(rps float64) float64 {
	return rps * s.microstepsPerRev
}
