// Package control is the main loop of the mount: it polls the buttons and the
// tick counter every loop period and dispatches tracking, dithering and homing.
package control

import (
	"context"
	"time"

	"github.com/cjeanneret/StarGo/internal/config"
	"github.com/cjeanneret/StarGo/internal/debug"
	"github.com/cjeanneret/StarGo/internal/hw/button"
	"github.com/cjeanneret/StarGo/internal/hw/clock"
	"github.com/cjeanneret/StarGo/internal/hw/display"
	"github.com/cjeanneret/StarGo/internal/logic/dither"
	"github.com/cjeanneret/StarGo/internal/logic/geometry"
	"github.com/cjeanneret/StarGo/internal/logic/motion"
	"github.com/cjeanneret/StarGo/internal/logic/revert"
	"github.com/cjeanneret/StarGo/internal/logic/tracking"
)

// Hardware groups what the main loop needs from the outside world.
type Hardware struct {
	Clock   clock.Source
	Wait    clock.Waiter
	Mount   *geometry.Mount
	Calc    *geometry.StepsCalculator
	Tracker *motion.StepTracker
	Motor   *motion.Controller
	Random  dither.Random

	RevertButton       button.State
	DitherPeriodButton button.State
	DitherAngleButton  button.State

	Display display.Display
}

// Controller owns the motion logic. Start, Step and Run must be called from
// a single goroutine.
type Controller struct {
	hw       Hardware
	speed    *tracking.SpeedController
	settings *dither.Settings
	engine   *dither.Engine
	homing   *revert.Controller

	periodEdge *button.Edge
	angleEdge  *button.Edge

	loop        time.Duration
	recalcTicks uint32
	recalc      clock.PeriodicTimer

	lastFault  bool
	lastDither dither.Result
	refreshes  int
}

// New builds the motion logic on top of hw.
func New(cfg *config.Config, hw Hardware) *Controller {
	if hw.Display == nil {
		hw.Display = display.Nop{}
	}
	now := hw.Clock.Now()
	speed := tracking.NewSpeedController(hw.Mount, hw.Calc, hw.Tracker, hw.Motor, hw.Clock, hw.Wait)
	settings := dither.NewSettings(cfg.Dither, hw.Clock.Freq(), now)
	speed.OnAnchor(settings.ResetCountdown)

	c := &Controller{
		hw:          hw,
		speed:       speed,
		settings:    settings,
		engine:      dither.NewEngine(cfg, hw.Mount, hw.Tracker, hw.Motor, speed, hw.Clock, hw.Wait, hw.Random, settings),
		homing:      revert.New(cfg, hw.Motor, hw.Wait, hw.RevertButton),
		periodEdge:  button.NewEdge(hw.DitherPeriodButton),
		angleEdge:   button.NewEdge(hw.DitherAngleButton),
		loop:        cfg.LoopPeriod(),
		recalcTicks: clock.Ticks(cfg.RecalcPeriod(), hw.Clock.Freq()),
	}
	c.recalc.Reset(now)
	// a clamped step count means the rod position can no longer be trusted
	hw.Tracker.OnFault(func() { c.engine.Abort() })
	return c
}

// Start begins tracking from the current position and anchors it.
func (c *Controller) Start() {
	debug.Section("Tracking start")
	c.speed.Start(true)
	now := c.hw.Clock.Now()
	c.recalc.Reset(now)
	c.settings.ResetCountdown(now)
	c.Refresh()
}

// Run starts tracking and loops until ctx is done. The motor is stopped on return.
func (c *Controller) Run(ctx context.Context) error {
	c.Start()
	defer c.hw.Motor.Stop()
	for {
		if err := ctx.Err(); err != nil {
			debug.Info("Main loop stopped: %v", err)
			return err
		}
		c.hw.Wait.Delay(c.loop)
		c.Step(ctx)
	}
}

// Step runs one main loop iteration.
func (c *Controller) Step(ctx context.Context) {
	now := c.hw.Clock.Now()
	refresh := false

	if c.hw.RevertButton.Pressed() {
		res := c.homing.Run(ctx)
		debug.Value("homing ticks", res.Ticks)
		c.speed.Start(true)
		// homing takes seconds; the timers below must see the clock after it
		now = c.hw.Clock.Now()
		c.settings.ResetCountdown(now)
		c.recalc.Reset(now)
		refresh = true
	}

	if c.periodEdge.Rising() {
		c.settings.CyclePeriod(now)
		debug.Button("dither period", debug.Fmt("%d min", c.settings.PeriodMin()))
		refresh = true
	}

	if c.angleEdge.Rising() {
		c.settings.CycleAngle()
		debug.Button("dither angle", debug.Fmt("%.1f°", c.settings.AngleDeg()))
		refresh = true
	}

	if c.recalc.Signaled(now, c.recalcTicks) {
		c.speed.Recalc(false)
		refresh = true
	}

	if c.settings.Due(now) {
		c.lastDither = c.engine.Run(ctx)
		c.speed.Start(false)
		refresh = true
	}

	if fault := c.hw.Tracker.Fault(); fault != c.lastFault {
		c.lastFault = fault
		if fault {
			debug.Info("FAULT: rod position went below zero")
		} else {
			debug.Info("Fault cleared")
		}
		refresh = true
	}

	if refresh {
		c.Refresh()
	}
}

// Status builds the current status screen contents.
func (c *Controller) Status() display.Status {
	now := c.hw.Clock.Now()
	cmd := c.hw.Motor.Last()
	return display.Status{
		TrackedAngleDeg: geometry.Degrees(c.speed.CurrentAngle() - c.hw.Mount.MinAngle()),
		SecondsToDither: c.settings.SecondsToNext(now),
		DitherAngleDeg:  c.settings.AngleDeg(),
		DitherPeriodMin: c.settings.PeriodMin(),
		RPS:             cmd.RPS,
		Forward:         cmd.Forward,
		RodLengthMm:     c.hw.Tracker.Length(),
		Fault:           c.hw.Tracker.Fault(),
		Tick:            now,
	}
}

// Refresh pushes the status to the display. Failures are logged and dropped.
func (c *Controller) Refresh() {
	c.refreshes++
	if err := c.hw.Display.Refresh(c.Status()); err != nil {
		debug.Trace("display refresh: %v", err)
	}
}

// AbortDither interrupts a dither move in progress and reports whether one
// was running. Safe from any goroutine.
func (c *Controller) AbortDither() bool {
	return c.engine.Abort()
}

// Speed exposes the speed controller.
func (c *Controller) Speed() *tracking.SpeedController { return c.speed }

// Settings exposes the dither settings.
func (c *Controller) Settings() *dither.Settings { return c.settings }

// LastDither returns the result of the most recent dither move.
func (c *Controller) LastDither() dither.Result { return c.lastDither }

// Refreshes returns how many status refreshes were issued.
func (c *Controller) Refreshes() int { return c.refreshes }
