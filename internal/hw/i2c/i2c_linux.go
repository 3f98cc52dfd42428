//go:build linux

// Package i2c writes to devices on a Linux /dev/i2c-N bus.
package i2c

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// i2cSlave selects the target address for subsequent read/write calls.
const i2cSlave = 0x0703

// Bus is an opened I2C adapter. Transfers are serialised.
type Bus struct {
	mu   sync.Mutex
	f    *os.File
	path string
	addr uint16 // address currently selected, 0 = none
}

// Open opens an I2C adapter such as /dev/i2c-1.
func Open(path string) (*Bus, error) {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %s: %w", path, err)
	}
	return &Bus{f: f, path: path}, nil
}

// Close releases the adapter.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

// Dev returns a handle for the 7-bit address addr.
func (b *Bus) Dev(addr uint16) *Dev {
	return &Dev{bus: b, addr: addr}
}

// Dev is a device on a Bus.
type Dev struct {
	bus  *Bus
	addr uint16
}

// Write sends p to the device in a single transfer.
func (d *Dev) Write(p []byte) error {
	if d.addr == 0 || d.addr > 0x7F {
		return fmt.Errorf("invalid i2c addr 0x%X", d.addr)
	}
	if len(p) == 0 {
		return nil
	}

	b := d.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return fmt.Errorf("i2c bus %s closed", b.path)
	}
	if b.addr != d.addr {
		if err := unix.IoctlSetInt(int(b.f.Fd()), i2cSlave, int(d.addr)); err != nil {
			return fmt.Errorf("select i2c addr 0x%X: %w", d.addr, err)
		}
		b.addr = d.addr
	}
	n, err := b.f.Write(p)
	if err != nil {
		return fmt.Errorf("i2c write to 0x%X: %w", d.addr, err)
	}
	if n != len(p) {
		return fmt.Errorf("i2c write to 0x%X: short write %d/%d", d.addr, n, len(p))
	}
	return nil
}
