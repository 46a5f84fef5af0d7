package transport

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// SerialOptions configures OpenSerial.
type SerialOptions struct {
	BaudRate int
	// ReadTimeout bounds each Read. Zero blocks until data arrives.
	ReadTimeout time.Duration
}

// OpenSerial opens a serial device as 8N1 at the given baud rate. The returned
// port works both as a recorder sink and as a reader source. It is a variable so
// tests can swap in a fake device.
var OpenSerial = func(device string, opts SerialOptions) (io.ReadWriteCloser, error) {
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	if opts.ReadTimeout > 0 {
		if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", device, err)
		}
	}
	return port, nil
}
