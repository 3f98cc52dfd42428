// Package revert implements the homing routine: while the operator holds the
// revert button the rod winds back with a linear speed ramp; releasing the
// button ramps down and ends the routine once the speed crosses zero.
//
// Speeds are signed rev/s, positive meaning reverse (closing the mount).
package revert

import (
	"context"
	"math"
	"time"

	"github.com/cjeanneret/StarGo/internal/config"
	"github.com/cjeanneret/StarGo/internal/debug"
	"github.com/cjeanneret/StarGo/internal/hw/button"
	"github.com/cjeanneret/StarGo/internal/hw/clock"
)

const settleDelay = 10 * time.Millisecond

// Motor accepts rotation rate commands.
type Motor interface {
	Drive(rps float64, forward bool)
	Stop()
}

// Sample is the state after one ramp tick.
type Sample struct {
	Tick    int
	Speed   float64 // signed rev/s, positive = reverse
	Inc     float64 // ramp step applied this tick; its sign flips on each release
	Pressed bool
}

// Result summarises a homing run.
type Result struct {
	Ticks     int
	Peak      float64 // highest |speed| reached
	Reversals int     // zero crossings with the button held
}

// Controller runs the homing ramp. It belongs to the main loop.
type Controller struct {
	motor  Motor
	wait   clock.Waiter
	btn    button.State
	start  float64
	ramp   float64
	max    float64
	tick   time.Duration
	onTick func(Sample)
}

// New creates a controller from the revert section of cfg.
func New(cfg *config.Config, motor Motor, wait clock.Waiter, btn button.State) *Controller {
	return &Controller{
		motor: motor,
		wait:  wait,
		btn:   btn,
		start: cfg.RevertStartRPS(),
		ramp:  cfg.Revert.RampRPS,
		max:   cfg.Revert.MaxRPS,
		tick:  cfg.RevertTick(),
	}
}

// OnSample registers an observer called after every ramp tick.
func (c *Controller) OnSample(fn func(Sample)) {
	c.onTick = fn
}

// Run executes the ramp until the button has been released and the speed
// has come back through zero, or ctx is done. The motor is stopped on return.
func (c *Controller) Run(ctx context.Context) Result {
	debug.Button("revert", "homing started")
	c.motor.Stop()
	c.wait.Delay(settleDelay)

	var res Result
	speed := c.start
	inc := c.ramp
	prevPressed := c.btn.Pressed()

	for ctx.Err() == nil {
		pressed := c.btn.Pressed()
		if pressed != prevPressed && !pressed {
			inc = -inc
			debug.Button("revert", "released, ramping down")
		}
		prevPressed = pressed

		c.wait.Delay(c.tick)

		prev := speed
		speed += inc
		crossed := (prev >= 0 && speed < 0) || (prev <= 0 && speed > 0)
		if crossed {
			if !pressed {
				break
			}
			c.motor.Stop()
			c.wait.Delay(settleDelay)
			res.Reversals++
			debug.Button("revert", "held through zero, reversing")
		}

		speed = math.Max(-c.max, math.Min(c.max, speed))
		if speed == 0 {
			c.motor.Stop()
		} else {
			c.motor.Drive(math.Abs(speed), speed < 0)
		}

		res.Ticks++
		res.Peak = math.Max(res.Peak, math.Abs(speed))
		if c.onTick != nil {
			c.onTick(Sample{Tick: res.Ticks, Speed: speed, Inc: inc, Pressed: pressed})
		}
		debug.Trace("revert: tick %d speed %+.4f rev/s", res.Ticks, speed)
	}

	c.motor.Stop()
	c.wait.Delay(settleDelay)
	debug.Live("Homing done after %d ticks (peak %.3f rev/s)", res.Ticks, res.Peak)
	return res
}
