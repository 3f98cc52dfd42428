package console

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cjeanneret/StarGo/internal/debug"
)

// Presser drives button inputs, e.g. gpio.MockDriver.
type Presser interface {
	Press(pin int)
	Release(pin int)
}

// Pins maps the three mount buttons to GPIO pins.
type Pins struct {
	Revert       int
	DitherPeriod int
	DitherAngle  int
}

// Bench operates the mount buttons from software on the mock GPIO backend.
type Bench struct {
	drv   Presser
	pins  map[string]int
	sleep func(ctx context.Context, d time.Duration)
}

var aliases = map[string]string{
	"revert": "revert", "r": "revert",
	"dither_period": "dither_period", "period": "dither_period", "p": "dither_period",
	"dither_angle": "dither_angle", "angle": "dither_angle", "a": "dither_angle",
}

// NewBench creates a bench for drv.
func NewBench(drv Presser, pins Pins) *Bench {
	return &Bench{
		drv: drv,
		pins: map[string]int{
			"revert":        pins.Revert,
			"dither_period": pins.DitherPeriod,
			"dither_angle":  pins.DitherAngle,
		},
		sleep: sleepCtx,
	}
}

// Buttons returns the canonical button names.
func (b *Bench) Buttons() []string {
	names := make([]string, 0, len(b.pins))
	for n := range b.pins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve maps a button name or alias to its canonical name and pin.
func (b *Bench) Resolve(name string) (string, int, error) {
	canon, ok := aliases[strings.ToLower(name)]
	if !ok {
		return "", 0, fmt.Errorf("unknown button %q (revert, period, angle)", name)
	}
	return canon, b.pins[canon], nil
}

// Down holds a button.
func (b *Bench) Down(name string) error {
	canon, pin, err := b.Resolve(name)
	if err != nil {
		return err
	}
	debug.Button(canon, "pressed (bench)")
	b.drv.Press(pin)
	return nil
}

// Up releases a button.
func (b *Bench) Up(name string) error {
	canon, pin, err := b.Resolve(name)
	if err != nil {
		return err
	}
	debug.Button(canon, "released (bench)")
	b.drv.Release(pin)
	return nil
}

// Press holds a button for hold, or until ctx is done, then releases it.
func (b *Bench) Press(ctx context.Context, name string, hold time.Duration) error {
	if err := b.Down(name); err != nil {
		return err
	}
	b.sleep(ctx, hold)
	return b.Up(name)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
