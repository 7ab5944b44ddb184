// Package serialport connects the modem driver to a host serial port.
//
// The driver polls its transport for buffered input the way a microcontroller
// UART is polled. A host port only offers blocking reads, so Port runs a
// reader goroutine that collects input and reports how much is pending.
package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.bug.st/serial"
)

var (
	ErrNoPortName = errors.New("gsm: serial port name is required")
	ErrNilContext = errors.New("gsm: context is nil")
	ErrClosed     = errors.New("gsm: serial port closed")
)

// conn is the part of serial.Port used by Port.
type conn interface {
	io.ReadWriteCloser
	SetMode(mode *serial.Mode) error
	Drain() error
	ResetInputBuffer() error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
}

// open is replaced in tests.
var open = func(name string, mode *serial.Mode) (conn, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DefaultMode is 115200 baud, 8 data bits, no parity, one stop bit.
func DefaultMode() serial.Mode {
	return serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Dialer opens a modem over a serial port.
type Dialer struct {
	PortName string       // e.g. /dev/ttyUSB0
	Mode     *serial.Mode // nil means DefaultMode
	Logger   *slog.Logger // nil discards
}

// Dial opens the port and starts its reader. Input left over from an earlier
// session is discarded.
func (d Dialer) Dial(ctx context.Context) (*Port, error) {
	if d.PortName == "" {
		return nil, ErrNoPortName
	}
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := DefaultMode()
	if d.Mode != nil {
		mode = *d.Mode
	}

	c, err := open(d.PortName, &mode)
	if err != nil {
		return nil, fmt.Errorf("gsm: open %s: %w", d.PortName, err)
	}
	if err := ctx.Err(); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.ResetInputBuffer(); err != nil {
		c.Close()
		return nil, fmt.Errorf("gsm: reset input of %s: %w", d.PortName, err)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(slog.String("port", d.PortName))
	logger.Debug("serial port open", slog.Int("baud", mode.BaudRate))

	return newPort(c, mode, logger), nil
}
