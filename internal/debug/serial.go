package debug

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// OpenSerial opens a UART for a copy of the debug log (8N1, no flow control).
// The returned port must be closed by the caller.
func OpenSerial(name string, baud int) (io.WriteCloser, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open debug serial %s: %w", name, err)
	}
	return port, nil
}
