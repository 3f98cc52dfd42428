// Package stepper generates STEP/DIR pulses for the rod motor driver
// (A4988/DRV8825 class) from a commanded rotation rate.
package stepper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/StarGo/internal/debug"
	"github.com/cjeanneret/StarGo/internal/hw/gpio"
)

// Config holds the hardware configuration for the rod stepper.
type Config struct {
	StepPin          int
	DirPin           int
	MicrostepPin     int // driver MS pin (BCM). 0 = not used. Held HIGH.
	MicrostepsPerRev int
	Granularity      int // microsteps advanced per STEP pulse
	MinRPS           float64
	MaxRPS           float64
	ForwardHigh      bool // DIR level that opens the mount
}

// StepSink is told about every emitted pulse. The direction is always
// updated before the first pulse in that direction.
type StepSink interface {
	SetDirection(forward bool)
	OnPulse()
}

type command struct {
	rps     float64
	forward bool
	running bool
}

// Generator is a software step timer. Run owns the GPIO pins and the pulse
// train; SetCommandedSpeed and Stop may be called from any goroutine and
// never block.
type Generator struct {
	gpio gpio.Driver
	cfg  Config
	sink StepSink

	mu   sync.Mutex
	cmd  command
	wake chan struct{}

	pulses atomic.Uint64
}

// NewGenerator configures the output pins and returns a stopped generator.
func NewGenerator(g gpio.Driver, cfg Config, sink StepSink) (*Generator, error) {
	if cfg.Granularity <= 0 {
		cfg.Granularity = 1
	}
	if cfg.MicrostepsPerRev <= 0 {
		cfg.MicrostepsPerRev = 200 * 16
	}
	for _, pin := range []int{cfg.StepPin, cfg.DirPin} {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, err
		}
	}
	if err := g.WritePin(cfg.StepPin, gpio.Low); err != nil {
		return nil, err
	}
	if cfg.MicrostepPin > 0 {
		if err := g.SetupPin(cfg.MicrostepPin, gpio.Output); err != nil {
			return nil, err
		}
		if err := g.WritePin(cfg.MicrostepPin, gpio.High); err != nil {
			return nil, err
		}
	}

	return &Generator{
		gpio: g,
		cfg:  cfg,
		sink: sink,
		wake: make(chan struct{}, 1),
	}, nil
}

// SetCommandedSpeed starts (or retunes) the pulse train. Rates outside
// [MinRPS, MaxRPS] are clamped.
func (s *Generator) SetCommandedSpeed(rps float64, forward bool) {
	rps = s.Clamp(rps)
	next := command{rps: rps, forward: forward, running: true}
	s.mu.Lock()
	changed := s.cmd != next
	s.cmd = next
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Stop halts the pulse train after the pulse in progress.
func (s *Generator) Stop() {
	s.mu.Lock()
	changed := s.cmd.running
	s.cmd.running = false
	s.mu.Unlock()
	if changed {
		s.notify()
	}
}

// Clamp limits rps to the achievable range.
func (s *Generator) Clamp(rps float64) float64 {
	if rps < s.cfg.MinRPS {
		return s.cfg.MinRPS
	}
	if s.cfg.MaxRPS > 0 && rps > s.cfg.MaxRPS {
		return s.cfg.MaxRPS
	}
	return rps
}

// Commanded returns the current (clamped) rate, direction and running flag.
func (s *Generator) Commanded() (rps float64, forward, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd.rps, s.cmd.forward, s.cmd.running
}

// Pulses returns the number of STEP pulses emitted since creation.
func (s *Generator) Pulses() uint64 {
	return s.pulses.Load()
}

func (s *Generator) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// halfPeriod returns the STEP high (and low) time for a rod rate.
func (s *Generator) halfPeriod(rps float64) time.Duration {
	pulsesPerSec := rps * float64(s.cfg.MicrostepsPerRev) / float64(s.cfg.Granularity)
	if pulsesPerSec <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / (2 * pulsesPerSec))
}

// Run emits pulses until ctx is done. It must be started exactly once.
//
// Edges are scheduled against absolute deadlines, each one half period after
// the previous edge, so timer latency does not accumulate into rate error.
// A new command retimes the pending edge from the last one.
func (s *Generator) Run(ctx context.Context) error {
	applied := !s.cfg.ForwardHigh // force a DIR write on the first pulse
	dirKnown := false
	high := false
	var edge time.Time // last STEP edge, zero when idle

	defer func() {
		_ = s.gpio.WritePin(s.cfg.StepPin, gpio.Low)
	}()

	for {
		rps, forward, running := s.Commanded()
		if !running {
			if high {
				// finish the pulse in progress
				if err := s.fall(); err != nil {
					return err
				}
				high = false
			}
			edge = time.Time{}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
				continue
			}
		}

		if !high && (!dirKnown || forward != applied) {
			if err := s.gpio.WritePin(s.cfg.DirPin, gpio.Level(forward == s.cfg.ForwardHigh)); err != nil {
				return err
			}
			s.sink.SetDirection(forward)
			applied = forward
			dirKnown = true
			debug.Trace("Stepper: direction %v", forward)
		}

		half := s.halfPeriod(rps)
		deadline := time.Now()
		if !edge.IsZero() {
			deadline = edge.Add(half)
		}
		done, woke := s.waitUntil(ctx, deadline)
		if done {
			return ctx.Err()
		}
		if woke {
			continue
		}

		if high {
			if err := s.fall(); err != nil {
				return err
			}
		} else if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
			return err
		}
		high = !high

		edge = deadline
		if lag := time.Since(edge); lag > 2*half {
			// stalled for more than a period: resync instead of bursting
			edge = time.Now()
		}
	}
}

// fall ends a STEP pulse and reports it.
func (s *Generator) fall() error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	s.pulses.Add(1)
	s.sink.OnPulse()
	return nil
}

// waitUntil sleeps until deadline. It returns early with woke set when a new
// command arrives, and with done set when ctx is done.
func (s *Generator) waitUntil(ctx context.Context, deadline time.Time) (done, woke bool) {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err() != nil, false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true, false
	case <-t.C:
		return false, false
	case <-s.wake:
		return ctx.Err() != nil, true
	}
}
