// Package sim is a deterministic stand-in for the mount hardware.
//
// A Plant owns a virtual tick counter and a pulse generator that moves a
// real motion.StepTracker as virtual time passes. Its Delay advances time
// instead of sleeping, so seek loops, the homing ramp and the main loop run
// at full speed and give the same result on every run.
package sim

import (
	"math"
	"time"

	"github.com/cjeanneret/StarGo/internal/config"
	"github.com/cjeanneret/StarGo/internal/hw/clock"
	"github.com/cjeanneret/StarGo/internal/logic/geometry"
	"github.com/cjeanneret/StarGo/internal/logic/motion"
)

// Plant is the simulated mount. It is not safe for concurrent use: the test
// goroutine plays every execution context.
type Plant struct {
	Mount   *geometry.Mount
	Calc    *geometry.StepsCalculator
	Tracker *motion.StepTracker
	Pulses  *Generator
	Motor   *motion.Controller

	now   uint32
	freq  uint32
	hooks []func(now uint32)
}

// New builds a plant at the closed position from cfg.
func New(cfg *config.Config) *Plant {
	calc := geometry.NewStepsCalculator(cfg)
	p := &Plant{
		Mount:   geometry.NewMount(cfg),
		Calc:    calc,
		Tracker: motion.NewStepTracker(calc, cfg.Stepper.Granularity),
		freq:    uint32(cfg.Timing.TickHz),
	}
	p.Pulses = &Generator{
		plant:          p,
		minRPS:         cfg.Stepper.MinRPS,
		maxRPS:         cfg.Stepper.MaxRPS,
		pulsesPerRev:   float64(cfg.MicrostepsPerRev()) / float64(cfg.Stepper.Granularity),
		appliedForward: true,
	}
	p.Motor = motion.NewController(p.Pulses)
	return p
}

// Now returns the virtual tick count.
func (p *Plant) Now() uint32 { return p.now }

// Freq returns the virtual tick frequency.
func (p *Plant) Freq() uint32 { return p.freq }

// SetNow moves the virtual clock without moving the rod (wrap-around tests).
func (p *Plant) SetNow(now uint32) { p.now = now }

// OnTick registers fn to run after every virtual tick.
func (p *Plant) OnTick(fn func(now uint32)) {
	p.hooks = append(p.hooks, fn)
}

// Delay advances virtual time by d.
func (p *Plant) Delay(d time.Duration) {
	p.Advance(clock.Ticks(d, p.freq))
}

// Advance runs n ticks: the rod moves, then the hooks run.
func (p *Plant) Advance(n uint32) {
	dt := 1 / float64(p.freq)
	for i := uint32(0); i < n; i++ {
		p.Pulses.run(dt)
		p.now++
		for _, fn := range p.hooks {
			fn(p.now)
		}
	}
}

// SetLength places the rod at the step position nearest to length.
func (p *Plant) SetLength(length float64) {
	p.Tracker.Reset(p.Calc.StepsForLength(length))
}

// Angle returns the current hinge angle.
func (p *Plant) Angle() float64 {
	return p.Mount.AngleOf(p.Tracker.Length())
}

// Generator is a simulated pulse generator: it integrates the commanded rate
// into whole pulses delivered to the tracker.
type Generator struct {
	plant        *Plant
	minRPS       float64
	maxRPS       float64
	pulsesPerRev float64

	rps            float64
	forward        bool
	running        bool
	appliedForward bool
	frac           float64

	// Commands counts SetCommandedSpeed calls; Reversals counts direction changes applied.
	Commands  int
	Reversals int
	// PeakRPS is the fastest rate ever commanded.
	PeakRPS float64
}

func (g *Generator) SetCommandedSpeed(rps float64, forward bool) {
	if rps < g.minRPS {
		rps = g.minRPS
	}
	if g.maxRPS > 0 && rps > g.maxRPS {
		rps = g.maxRPS
	}
	g.rps = rps
	g.forward = forward
	g.running = true
	g.Commands++
	if rps > g.PeakRPS {
		g.PeakRPS = rps
	}
}

func (g *Generator) Stop() {
	g.running = false
	g.frac = 0
}

// Running reports whether pulses are being generated.
func (g *Generator) Running() bool { return g.running }

// Rate returns the commanded (clamped) rate and direction.
func (g *Generator) Rate() (rps float64, forward bool) { return g.rps, g.forward }

func (g *Generator) run(dt float64) {
	if !g.running {
		return
	}
	if g.forward != g.appliedForward {
		g.plant.Tracker.SetDirection(g.forward)
		g.appliedForward = g.forward
		g.Reversals++
	}
	g.frac += g.rps * g.pulsesPerRev * dt
	n := math.Floor(g.frac)
	g.frac -= n
	for i := 0; i < int(n); i++ {
		g.plant.Tracker.OnPulse()
	}
}

// Button is a scripted button for the simulated main loop.
type Button struct {
	pressed bool
}

func (b *Button) Pressed() bool { return b.pressed }

// Set changes the button state.
func (b *Button) Set(pressed bool) { b.pressed = pressed }

// Random replays a fixed sequence of values, then repeats the last one.
type Random struct {
	values []uint32
	i      int
}

// NewRandom creates a source returning vals in order.
func NewRandom(vals ...uint32) *Random {
	if len(vals) == 0 {
		vals = []uint32{1 << 31}
	}
	return &Random{values: vals}
}

func (r *Random) Next() uint32 {
	v := r.values[r.i]
	if r.i < len(r.values)-1 {
		r.i++
	}
	return v
}
