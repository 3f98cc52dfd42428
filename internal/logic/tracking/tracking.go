// Package tracking keeps the hinge angle advancing at sidereal rate.
//
// The rod is straight but the hinge turns, so the rod speed needed for a
// constant angular rate changes with the opening angle. Recalc re-derives it
// from the current rod length and is called periodically by the main loop.
package tracking

import (
	"time"

	"github.com/cjeanneret/StarGo/internal/debug"
	"github.com/cjeanneret/StarGo/internal/hw/clock"
	"github.com/cjeanneret/StarGo/internal/logic/geometry"
)

// settleDelay is the pause around direction changes in Start.
const settleDelay = 10 * time.Millisecond

// Position reports the current rod length.
type Position interface {
	Length() float64
}

// Motor accepts rotation rate commands.
type Motor interface {
	Drive(rps float64, forward bool)
	Stop()
}

// Anchor ties a tick count to the hinge angle measured at that tick.
// The ideal angle is extrapolated from it at sidereal rate.
type Anchor struct {
	Tick  uint32
	Angle float64 // rad
}

// SpeedController computes the tracking rate. It belongs to the main loop.
type SpeedController struct {
	mount *geometry.Mount
	calc  *geometry.StepsCalculator
	pos   Position
	motor Motor
	clk   clock.Source
	wait  clock.Waiter

	anchor    Anchor
	anchored  bool
	lastRPS   float64
	listeners []func(now uint32)
}

// NewSpeedController wires the controller to its collaborators.
func NewSpeedController(mount *geometry.Mount, calc *geometry.StepsCalculator, pos Position,
	motor Motor, clk clock.Source, wait clock.Waiter) *SpeedController {
	return &SpeedController{
		mount: mount,
		calc:  calc,
		pos:   pos,
		motor: motor,
		clk:   clk,
		wait:  wait,
	}
}

// OnAnchor registers fn to run whenever a new anchor is stored
// (the dither countdown restarts there).
func (s *SpeedController) OnAnchor(fn func(now uint32)) {
	s.listeners = append(s.listeners, fn)
}

// Recalc commands the sidereal tracking rate for the current rod length.
// At or past the end of travel the motor is stopped instead and tracking
// stays paused until the mount is homed. When storeAnchor is set the current
// angle becomes the reference for IdealAngle.
func (s *SpeedController) Recalc(storeAnchor bool) {
	length := s.pos.Length()
	if s.mount.AtTravelLimit(length) {
		if s.lastRPS != 0 {
			debug.Info("End of travel reached (L = %.3f mm), tracking stopped", length)
		}
		s.motor.Stop()
		s.lastRPS = 0
		return
	}

	angle := s.mount.AngleOf(length)
	v := s.mount.SiderealVelocity(angle)
	rps := s.calc.RotationsPerSecond(v)
	s.motor.Drive(rps, true)
	s.lastRPS = rps

	now := s.clk.Now()
	if storeAnchor {
		s.anchor = Anchor{Tick: now, Angle: angle}
		s.anchored = true
		debug.Anchor(geometry.Degrees(angle), now)
		for _, fn := range s.listeners {
			fn(now)
		}
	}

	debug.Speed(geometry.Degrees(angle), s.calc.StepsPerSecond(rps), rps,
		geometry.Degrees(angle-s.IdealAngle(now)))
}

// Start restarts tracking: stop, settle, recalc, settle. The pulse generator
// applies the forward direction together with the new rate.
func (s *SpeedController) Start(storeAnchor bool) {
	s.motor.Stop()
	s.wait.Delay(settleDelay)
	s.Recalc(storeAnchor)
	s.wait.Delay(settleDelay)
}

// IdealAngle returns where the hinge should be at tick now if it had tracked
// perfectly since the anchor. Without an anchor it returns the current angle.
func (s *SpeedController) IdealAngle(now uint32) float64 {
	if !s.anchored {
		return s.CurrentAngle()
	}
	elapsed := clock.Seconds(clock.Since(now, s.anchor.Tick), s.clk.Freq())
	return s.anchor.Angle + elapsed*geometry.SiderealRate
}

// CurrentAngle returns the hinge angle for the current rod length.
func (s *SpeedController) CurrentAngle() float64 {
	return s.mount.AngleOf(s.pos.Length())
}

// Anchor returns the stored anchor and whether one exists.
func (s *SpeedController) Anchor() (Anchor, bool) {
	return s.anchor, s.anchored
}

// LastRate returns the last commanded tracking rate (0 when paused).
func (s *SpeedController) LastRate() float64 {
	return s.lastRPS
}
