// Package dither moves the mount to a random offset from the tracked
// position between exposures, so fixed sensor noise lands on different sky
// pixels in every frame.
package dither

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/StarGo/internal/config"
	"github.com/cjeanneret/StarGo/internal/debug"
	"github.com/cjeanneret/StarGo/internal/hw/clock"
	"github.com/cjeanneret/StarGo/internal/logic/geometry"
)

// startMargin keeps dither targets clear of the closed position (mm).
const startMargin = 0.01

// runawayMarginDeg widens the runaway guard.
const runawayMarginDeg = 0.01

// Position reports the current rod length.
type Position interface {
	Length() float64
}

// Motor accepts rotation rate commands.
type Motor interface {
	Drive(rps float64, forward bool)
	Stop()
}

// Tracker extrapolates the sidereal target angle.
type Tracker interface {
	IdealAngle(now uint32) float64
}

// Random is a source of uniformly distributed 32-bit values.
type Random interface {
	Next() uint32
}

// Reason explains why a dither move or one of its seek phases ended.
type Reason string

const (
	ReasonClosest     Reason = "closest approach"
	ReasonPassed      Reason = "passed target"
	ReasonTravelLimit Reason = "travel limit"
	ReasonRunaway     Reason = "runaway"
	ReasonIterations  Reason = "iteration cap"
	ReasonAborted     Reason = "aborted"
	ReasonAtLimit     Reason = "skipped: at end of travel"
	ReasonOutOfRange  Reason = "skipped: target out of travel"
)

// terminal reasons end the move without a fine phase.
func (r Reason) terminal() bool {
	return r == ReasonTravelLimit || r == ReasonRunaway || r == ReasonAborted
}

// Phase is the outcome of one seek phase.
type Phase struct {
	RPS        float64
	Iterations int
	Reason     Reason
}

// Result describes a dither move. Angles are in radians.
type Result struct {
	Offset     float64
	StartAngle float64
	Target     float64 // target at the end of the move
	Final      float64
	Coarse     Phase
	Fine       Phase
	Reason     Reason // why the move ended
	Skipped    bool
}

// Engine runs dither moves. Run belongs to the main loop; Abort may be
// called from any goroutine.
type Engine struct {
	mount    *geometry.Mount
	pos      Position
	motor    Motor
	tracker  Tracker
	clk      clock.Source
	wait     clock.Waiter
	rnd      Random
	settings *Settings

	coarseRPS float64
	fineRPS   float64
	poll      time.Duration
	maxIter   int

	active atomic.Bool
	abort  atomic.Bool
}

// NewEngine wires an engine. Seek rates, poll interval and iteration cap come from cfg.
func NewEngine(cfg *config.Config, mount *geometry.Mount, pos Position, motor Motor, tracker Tracker,
	clk clock.Source, wait clock.Waiter, rnd Random, settings *Settings) *Engine {
	return &Engine{
		mount:     mount,
		pos:       pos,
		motor:     motor,
		tracker:   tracker,
		clk:       clk,
		wait:      wait,
		rnd:       rnd,
		settings:  settings,
		coarseRPS: cfg.Dither.CoarseRPS,
		fineRPS:   cfg.Dither.FineRPS,
		poll:      cfg.SeekPoll(),
		maxIter:   cfg.Dither.MaxIterations,
	}
}

// Abort interrupts the move in progress at its next iteration and reports
// whether there was one. Without a move in progress it has no effect.
func (e *Engine) Abort() bool {
	if !e.active.Load() {
		return false
	}
	e.abort.Store(true)
	return true
}

// Offset maps a random draw onto [-maxAngle, +maxAngle).
func Offset(draw uint32, maxAngle float64) float64 {
	u := float64(draw) / (1 << 32)
	return maxAngle * (2*u - 1)
}

// Run performs one dither move and leaves the motor stopped. The caller
// restarts tracking without re-anchoring, so the offset stays in effect only
// until the next homing.
func (e *Engine) Run(ctx context.Context) Result {
	e.abort.Store(false)
	e.active.Store(true)
	defer func() {
		e.active.Store(false)
		e.abort.Store(false)
	}()

	e.motor.Stop()

	length := e.pos.Length()
	if e.mount.AtTravelLimit(length) {
		debug.Dither(0, 0, string(ReasonAtLimit))
		return Result{Reason: ReasonAtLimit, Skipped: true}
	}

	maxAngle := geometry.Radians(e.settings.AngleDeg())
	res := Result{
		Offset:     Offset(e.rnd.Next(), maxAngle),
		StartAngle: e.mount.AngleOf(length),
	}
	res.Target = e.tracker.IdealAngle(e.clk.Now()) + res.Offset

	if res.Target < e.mount.AngleOf(e.mount.StartL()+startMargin) || res.Target > e.mount.MaxAngle() {
		res.Reason, res.Skipped = ReasonOutOfRange, true
		res.Final = res.StartAngle
		debug.Dither(geometry.Degrees(res.Offset), 0, string(res.Reason))
		return res
	}

	debug.Verbose("Dither: offset %+.5f°, coarse seek at %.3f rev/s", geometry.Degrees(res.Offset), e.coarseRPS)
	// The rod should never travel further from where it started than the
	// initial distance to the target plus one dither amplitude.
	guard := math.Abs(res.Target-res.StartAngle) + maxAngle + geometry.Radians(runawayMarginDeg)

	res.Coarse = e.seek(ctx, e.coarseRPS, res.Offset, res.StartAngle, guard)
	res.Reason = res.Coarse.Reason
	if !res.Coarse.Reason.terminal() {
		debug.Verbose("Dither: coarse seek ended (%s), fine seek at %.3f rev/s", res.Coarse.Reason, e.fineRPS)
		res.Fine = e.seek(ctx, e.fineRPS, res.Offset, res.StartAngle, guard)
		res.Reason = res.Fine.Reason
	}
	e.motor.Stop()

	now := e.clk.Now()
	res.Target = e.tracker.IdealAngle(now) + res.Offset
	res.Final = e.mount.AngleOf(e.pos.Length())
	debug.Dither(geometry.Degrees(res.Offset), geometry.Degrees(res.Final-res.Target), string(res.Reason))
	return res
}

// seek drives toward the moving target at rps until it reaches its closest
// approach or passes through it, or a guard trips.
func (e *Engine) seek(ctx context.Context, rps, offset, startAngle, guard float64) Phase {
	ph := Phase{RPS: rps, Reason: ReasonIterations}
	prevDist := math.Inf(1)
	prevErr := 0.0
	closing := false
	driving := false
	lastForward := false

	for ph.Iterations < e.maxIter {
		if ctx.Err() != nil || e.abort.Load() {
			ph.Reason = ReasonAborted
			break
		}

		length := e.pos.Length()
		angle := e.mount.AngleOf(length)
		errAngle := e.tracker.IdealAngle(e.clk.Now()) + offset - angle
		dist := math.Abs(errAngle)

		if ph.Iterations > 0 {
			if errAngle == 0 || (errAngle > 0) != (prevErr > 0) {
				ph.Reason = ReasonPassed
				break
			}
			if closing && dist > prevDist {
				ph.Reason = ReasonClosest
				break
			}
		}
		if ph.Iterations > 0 && dist < prevDist {
			closing = true
		}

		forward := errAngle > 0
		if forward && e.mount.AtTravelLimit(length) || !forward && length <= e.mount.StartL()+startMargin {
			ph.Reason = ReasonTravelLimit
			break
		}
		if math.Abs(angle-startAngle) > guard {
			ph.Reason = ReasonRunaway
			break
		}

		if !driving || forward != lastForward {
			e.motor.Drive(rps, forward)
			driving, lastForward = true, forward
		}

		prevDist, prevErr = dist, errAngle
		ph.Iterations++
		e.wait.Delay(e.poll)
	}

	e.motor.Stop()
	return ph
}
