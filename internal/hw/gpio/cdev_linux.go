//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/StarGo/internal/debug"
	"github.com/warthog618/go-gpiocdev"
)

// CdevDriver drives BCM GPIOs through the Linux GPIO character device.
// Unlike go-rpio it works on the Pi 5 (RP1) and on kernels without /dev/gpiomem.
type CdevDriver struct {
	mu    sync.RWMutex
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewCdevDriver opens the named chip (e.g. "gpiochip0").
func NewCdevDriver(chipName string) (*CdevDriver, error) {
	debug.Info("Initializing GPIO character device driver (%s)", chipName)

	chip, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer("stargo"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}
	return &CdevDriver{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

func (c *CdevDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	var opts []gpiocdev.LineReqOption
	switch mode {
	case Input:
		opts = append(opts, gpiocdev.AsInput)
	case InputPullUp:
		opts = append(opts, gpiocdev.AsInput, gpiocdev.WithPullUp)
	case Output:
		opts = append(opts, gpiocdev.AsOutput(0))
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.lines[pin]; ok {
		_ = old.Close()
		delete(c.lines, pin)
	}
	line, err := c.chip.RequestLine(pin, opts...)
	if err != nil {
		return fmt.Errorf("request gpio line %d: %w", pin, err)
	}
	c.lines[pin] = line
	return nil
}

func (c *CdevDriver) line(pin int, fallback PinMode) (*gpiocdev.Line, error) {
	c.mu.RLock()
	l, ok := c.lines[pin]
	c.mu.RUnlock()
	if ok {
		return l, nil
	}
	if err := c.SetupPin(pin, fallback); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lines[pin], nil
}

func (c *CdevDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	l, err := c.line(pin, Output)
	if err != nil {
		return err
	}
	v := 0
	if level == High {
		v = 1
	}
	return l.SetValue(v)
}

func (c *CdevDriver) ReadPin(pin int) (Level, error) {
	l, err := c.line(pin, Input)
	if err != nil {
		return Low, err
	}
	v, err := l.Value()
	if err != nil {
		return Low, fmt.Errorf("read gpio line %d: %w", pin, err)
	}
	return Level(v != 0), nil
}

func (c *CdevDriver) Close() error {
	debug.Trace("GPIO Close (gpiocdev)")

	c.mu.Lock()
	defer c.mu.Unlock()
	for pin, l := range c.lines {
		// Graceful shutdown: release lines so they fall back to inputs.
		if err := l.Close(); err != nil {
			debug.Verbose("Closing line %d: %v", pin, err)
		}
	}
	c.lines = make(map[int]*gpiocdev.Line)
	return c.chip.Close()
}
