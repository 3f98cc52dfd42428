package dither

import (
	"math"

	"github.com/cjeanneret/StarGo/internal/config"
	"github.com/cjeanneret/StarGo/internal/hw/clock"
)

// angleMatch is how close the current angle must be to a set entry for
// CycleAngle to recognise it.
const angleMatch = 0.01

// Settings is the operator-adjustable dither configuration and its countdown.
// It belongs to the main loop.
type Settings struct {
	periodMin        int
	defaultPeriodMin int
	angleDeg         float64
	angles           []float64
	freq             uint32
	timer            clock.PeriodicTimer
}

// NewSettings creates the settings from configuration; the countdown starts at now.
func NewSettings(cfg config.DitherConfig, freq uint32, now uint32) *Settings {
	s := &Settings{
		periodMin:        cfg.PeriodMin,
		defaultPeriodMin: cfg.DefaultPeriodMin,
		angleDeg:         cfg.AngleDeg,
		angles:           append([]float64(nil), cfg.AnglesDeg...),
		freq:             freq,
	}
	s.timer.Reset(now)
	return s
}

// PeriodMin returns the dither period in minutes (0 = disabled).
func (s *Settings) PeriodMin() int { return s.periodMin }

// AngleDeg returns the maximum dither offset in degrees.
func (s *Settings) AngleDeg() float64 { return s.angleDeg }

// Enabled reports whether dithering is on.
func (s *Settings) Enabled() bool { return s.periodMin != 0 }

// CyclePeriod steps the period down by one minute; from 0 it wraps to the default.
// The countdown restarts.
func (s *Settings) CyclePeriod(now uint32) {
	if s.periodMin > 0 {
		s.periodMin--
	} else {
		s.periodMin = s.defaultPeriodMin
	}
	s.timer.Reset(now)
}

// CycleAngle moves to the next entry of the angle set, wrapping after the last.
// A value not in the set snaps to the first entry.
func (s *Settings) CycleAngle() {
	if len(s.angles) == 0 {
		return
	}
	for i, a := range s.angles {
		if math.Abs(s.angleDeg-a) < angleMatch {
			s.angleDeg = s.angles[(i+1)%len(s.angles)]
			return
		}
	}
	s.angleDeg = s.angles[0]
}

// ResetCountdown restarts the countdown at now.
func (s *Settings) ResetCountdown(now uint32) {
	s.timer.Reset(now)
}

func (s *Settings) periodTicks() uint32 {
	return uint32(s.periodMin) * 60 * s.freq
}

// Due reports whether a dither move should run now. When it does, the next
// period is already counting from now.
func (s *Settings) Due(now uint32) bool {
	if !s.Enabled() {
		return false
	}
	return s.timer.Signaled(now, s.periodTicks())
}

// SecondsToNext returns whole seconds until the next dither, 0 when disabled or due.
func (s *Settings) SecondsToNext(now uint32) uint32 {
	if !s.Enabled() {
		return 0
	}
	return s.timer.SecondsToTick(now, s.periodTicks(), s.freq)
}
