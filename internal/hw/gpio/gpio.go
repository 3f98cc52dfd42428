package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/StarGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
	InputPullUp // input with the internal pull-up enabled (buttons to GND)
)

func (m PinMode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	case InputPullUp:
		return "input-pullup"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// NewDriver creates a GPIO driver for the chosen backend:
// "mock" (development on PC), "rpio" (memory-mapped, go-rpio)
// or "gpiocdev" (Linux GPIO character device, needed on the Pi 5).
func NewDriver(backend, chip string) (Driver, error) {
	switch backend {
	case "mock", "":
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	case "rpio":
		return NewRPiRealDriver()
	case "gpiocdev":
		return NewCdevDriver(chip)
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", backend)
	}
}

// MockDriver is a test implementation that logs actions and keeps pin levels in memory.
// Inputs configured with a pull-up idle HIGH; Press/Release (or SetInput) change them,
// which is how the bench console and tests operate the buttons.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
	modes  map[int]PinMode
	writes map[int]int
}

// NewMockDriver creates an empty mock driver.
func NewMockDriver() *MockDriver {
	return &MockDriver{
		levels: make(map[int]Level),
		modes:  make(map[int]PinMode),
		writes: make(map[int]int),
	}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes[pin] = mode
	if mode == InputPullUp {
		if _, ok := m.levels[pin]; !ok {
			m.levels[pin] = High
		}
	}
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = level
	m.writes[pin]++
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}

// SetInput forces the level seen on an input pin.
func (m *MockDriver) SetInput(pin int, level Level) {
	debug.GPIO("SetInput", pin, level)
	m.mu.Lock()
	m.levels[pin] = level
	m.mu.Unlock()
}

// Press pulls a pull-up button pin LOW.
func (m *MockDriver) Press(pin int) {
	m.SetInput(pin, Low)
}

// Release lets a pull-up button pin return HIGH.
func (m *MockDriver) Release(pin int) {
	m.SetInput(pin, High)
}

// Writes returns the number of writes made to pin.
func (m *MockDriver) Writes(pin int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[pin]
}

// Mode returns the mode a pin was configured with.
func (m *MockDriver) Mode(pin int) (PinMode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode, ok := m.modes[pin]
	return mode, ok
}
