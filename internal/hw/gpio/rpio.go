package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/StarGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
// Pins are set up once at startup; afterwards the step goroutine writes and
// the tick goroutine reads concurrently, so the pin table is guarded.
type RPiDriver struct {
	mu   sync.RWMutex
	pins map[int]rpio.Pin
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins: make(map[int]rpio.Pin),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)

	switch mode {
	case Input:
		p.Input()
	case InputPullUp:
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	r.mu.Lock()
	r.pins[pin] = p
	r.mu.Unlock()
	return nil
}

func (r *RPiDriver) pin(pin int, fallback PinMode) (rpio.Pin, error) {
	r.mu.RLock()
	p, ok := r.pins[pin]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	if err := r.SetupPin(pin, fallback); err != nil {
		return 0, err
	}
	return rpio.Pin(pin), nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	// Pin not setup yet: setup as output
	p, err := r.pin(pin, Output)
	if err != nil {
		return err
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	// Pin not setup yet: setup as input
	p, err := r.pin(pin, Input)
	if err != nil {
		return Low, err
	}

	if p.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	// Reset all pins to input (safe state)
	r.mu.Lock()
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}
	r.mu.Unlock()

	return rpio.Close()
}
