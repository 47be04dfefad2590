package ingest

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is an opened device byte stream.
//
// Read returns (0, nil) when no bytes are currently available. Close must
// unblock a pending Read.
type Port interface {
	io.ReadCloser
}

// Opener opens a device by name, e.g. "COM6" or "/dev/rfcomm0".
type Opener func(name string) (Port, error)

// SerialOpener returns an [Opener] for real serial ports (8N1 at baudRate).
//
// readTimeout bounds how long a single Read waits for bytes, which turns
// Read into the "poll byte availability" step of the ingest loop.
func SerialOpener(baudRate int, readTimeout time.Duration) Opener {
	return func(name string) (Port, error) {
		mode := &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}

		p, err := serial.Open(name, mode)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
		}

		if err := p.SetReadTimeout(readTimeout); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
		}

		return p, nil
	}
}

// ListPorts returns the names of the serial ports present on this machine.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
