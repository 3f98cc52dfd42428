//go:build !linux

package gpio

import "fmt"

// CdevDriver is unavailable outside Linux.
type CdevDriver struct{}

func NewCdevDriver(chipName string) (*CdevDriver, error) {
	return nil, fmt.Errorf("gpio: character device backend needs linux")
}

func (c *CdevDriver) SetupPin(pin int, mode PinMode) error { return fmt.Errorf("gpio: unsupported OS") }
func (c *CdevDriver) WritePin(pin int, level Level) error  { return fmt.Errorf("gpio: unsupported OS") }
func (c *CdevDriver) ReadPin(pin int) (Level, error)       { return Low, fmt.Errorf("gpio: unsupported OS") }
func (c *CdevDriver) Close() error                         { return nil }
