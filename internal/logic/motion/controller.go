package motion

import (
	"sync/atomic"

	"github.com/cjeanneret/StarGo/internal/debug"
)

// PulseGenerator is the hardware side of the rod motor: it turns an abstract
// rotation rate into step pulses. Implementations clamp unreachable rates
// instead of rejecting them, and never block.
type PulseGenerator interface {
	SetCommandedSpeed(rps float64, forward bool)
	Stop()
}

// Command is the last rate handed to the pulse generator.
type Command struct {
	RPS     float64
	Forward bool
	Running bool
}

// Controller sits between the motion logic (tracking, dithering, homing)
// and the pulse generator. It logs commands and remembers the last one so the
// status screen can show it.
type Controller struct {
	pulse PulseGenerator
	last  atomic.Pointer[Command]
}

func NewController(p PulseGenerator) *Controller {
	c := &Controller{pulse: p}
	c.last.Store(&Command{})
	return c
}

// Drive commands a rotation rate and direction.
func (c *Controller) Drive(rps float64, forward bool) {
	if rps <= 0 {
		c.Stop()
		return
	}
	debug.Move(rps, direction(forward))
	c.pulse.SetCommandedSpeed(rps, forward)
	c.last.Store(&Command{RPS: rps, Forward: forward, Running: true})
}

// Stop halts the step pulses.
func (c *Controller) Stop() {
	c.pulse.Stop()
	c.last.Store(&Command{})
}

// Last returns the most recent command.
func (c *Controller) Last() Command {
	return *c.last.Load()
}

func direction(forward bool) string {
	if forward {
		return "forward"
	}
	return "reverse"
}
