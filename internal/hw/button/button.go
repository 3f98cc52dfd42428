// Package button debounces the three push buttons of the mount.
//
// A Filter integrates raw samples taken on every clock tick: the counter moves
// one step towards the sampled level and is bounded to [0, 2×threshold], so a
// press needs threshold+1 consecutive pressed samples to register and as many
// released samples to clear. The tick goroutine is the only writer; the main
// loop reads Pressed concurrently.
package button

import (
	"sync/atomic"

	"github.com/cjeanneret/StarGo/internal/debug"
	"github.com/cjeanneret/StarGo/internal/hw/gpio"
)

// Filter is a saturating integrator over raw button samples.
type Filter struct {
	threshold int32
	counter   atomic.Int32
}

// NewFilter creates a filter that reports pressed once the counter exceeds threshold.
func NewFilter(threshold int) *Filter {
	if threshold < 1 {
		threshold = 1
	}
	return &Filter{threshold: int32(threshold)}
}

// Sample feeds one raw reading (true = pressed).
func (f *Filter) Sample(pressed bool) {
	c := f.counter.Load()
	if pressed {
		if c < 2*f.threshold {
			c++
		}
	} else if c > 0 {
		c--
	}
	f.counter.Store(c)
}

// Pressed reports the debounced state.
func (f *Filter) Pressed() bool {
	return f.counter.Load() > f.threshold
}

// Counter returns the integrator value, for tests and diagnostics.
func (f *Filter) Counter() int {
	return int(f.counter.Load())
}

// Button couples a GPIO input with a Filter.
type Button struct {
	name      string
	pin       int
	activeLow bool
	drv       gpio.Driver
	filter    *Filter
}

// New configures pin as an input and returns its debounced button.
// Active-low buttons get the internal pull-up.
func New(name string, drv gpio.Driver, pin int, activeLow bool, threshold int) (*Button, error) {
	mode := gpio.Input
	if activeLow {
		mode = gpio.InputPullUp
	}
	if err := drv.SetupPin(pin, mode); err != nil {
		return nil, err
	}
	debug.Verbose("Button %s on pin %d (active low: %v, threshold: %d)", name, pin, activeLow, threshold)
	return &Button{
		name:      name,
		pin:       pin,
		activeLow: activeLow,
		drv:       drv,
		filter:    NewFilter(threshold),
	}, nil
}

// Tick samples the pin once. Read errors count as released.
func (b *Button) Tick() {
	lvl, err := b.drv.ReadPin(b.pin)
	if err != nil {
		debug.Trace("button %s: %v", b.name, err)
		b.filter.Sample(false)
		return
	}
	b.filter.Sample(bool(lvl) != b.activeLow)
}

// Pressed reports the debounced state.
func (b *Button) Pressed() bool { return b.filter.Pressed() }

// Name returns the button label.
func (b *Button) Name() string { return b.name }

// Pin returns the BCM pin number.
func (b *Button) Pin() int { return b.pin }

// State is anything with a debounced pressed state.
type State interface {
	Pressed() bool
}

// Edge turns a level into press events. Call Rising once per loop iteration.
type Edge struct {
	src  State
	last bool
}

// NewEdge creates a detector; a button held at creation does not fire.
func NewEdge(src State) *Edge {
	return &Edge{src: src, last: src.Pressed()}
}

// Rising returns true on the first poll that sees src pressed after it was released.
func (e *Edge) Rising() bool {
	p := e.src.Pressed()
	fired := p && !e.last
	e.last = p
	return fired
}
