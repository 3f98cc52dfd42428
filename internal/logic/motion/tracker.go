package motion

import (
	"sync/atomic"

	"github.com/cjeanneret/StarGo/internal/logic/geometry"
)

// StepTracker counts rod position in microsteps from the closed position.
//
// OnPulse is the only writer of the position and runs in the pulse context
// (the goroutine emitting step pulses). SetDirection is called by the pulse
// generator before it changes direction. Everything else only reads.
// All fields are single words accessed atomically.
type StepTracker struct {
	steps       atomic.Int32
	forward     atomic.Bool
	fault       atomic.Bool
	onFault     atomic.Pointer[func()]
	granularity int32
	calc        *geometry.StepsCalculator
}

// NewStepTracker creates a tracker at the closed position.
// granularity is the number of microsteps counted per pulse (1 with full microstepping).
func NewStepTracker(calc *geometry.StepsCalculator, granularity int) *StepTracker {
	if granularity <= 0 {
		granularity = 1
	}
	t := &StepTracker{granularity: int32(granularity), calc: calc}
	t.forward.Store(true)
	return t
}

// OnPulse records one completed step pulse in the current direction.
// Crossing below zero clamps to exactly 0 and raises the fault flag,
// which clears on the next increment. Safe to call from the pulse context.
func (t *StepTracker) OnPulse() {
	// Single writer: compute then store so readers never see a negative value.
	v := t.steps.Load()
	if t.forward.Load() {
		t.steps.Store(v + t.granularity)
		t.fault.Store(false)
		return
	}
	v -= t.granularity
	raised := false
	if v < 0 {
		v = 0
		raised = !t.fault.Swap(true)
	}
	t.steps.Store(v)
	if raised {
		if fn := t.onFault.Load(); fn != nil {
			(*fn)()
		}
	}
}

// OnFault registers fn to run in the pulse context each time the fault
// flag goes from clear to raised. fn must not block.
func (t *StepTracker) OnFault(fn func()) {
	t.onFault.Store(&fn)
}

// SetDirection sets the direction applied to subsequent pulses.
func (t *StepTracker) SetDirection(forward bool) {
	t.forward.Store(forward)
}

// Forward returns the current direction sign.
func (t *StepTracker) Forward() bool {
	return t.forward.Load()
}

// Steps returns the rod position in microsteps.
func (t *StepTracker) Steps() int32 {
	return t.steps.Load()
}

// Length returns the current rod length in mm.
func (t *StepTracker) Length() float64 {
	return t.calc.LengthAtSteps(t.Steps())
}

// Fault reports whether the counter was clamped at zero since the last forward pulse.
func (t *StepTracker) Fault() bool {
	return t.fault.Load()
}

// Reset sets the position; used on the bench and in tests.
func (t *StepTracker) Reset(steps int32) {
	if steps < 0 {
		steps = 0
	}
	t.steps.Store(steps)
	t.fault.Store(false)
}
