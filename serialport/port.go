package serialport

import (
	"bytes"
	"log/slog"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/atomic"
)

// Port is an open serial port. It satisfies the driver's Transport,
// BaudRateSetter and Flusher interfaces.
type Port struct {
	conn   conn
	logger *slog.Logger

	modeMu sync.Mutex
	mode   serial.Mode

	mu      sync.Mutex
	pending bytes.Buffer
	readErr error

	closed atomic.Bool
	done   chan struct{}
}

func newPort(c conn, mode serial.Mode, logger *slog.Logger) *Port {
	p := &Port{
		conn:   c,
		logger: logger,
		mode:   mode,
		done:   make(chan struct{}),
	}
	go p.pump()
	return p
}

// pump moves input from the port into the pending buffer until the port
// fails or is closed.
func (p *Port) pump() {
	defer close(p.done)

	chunk := make([]byte, 256)
	for {
		n, err := p.conn.Read(chunk)
		p.mu.Lock()
		p.pending.Write(chunk[:n])
		if err != nil {
			p.readErr = err
		}
		p.mu.Unlock()

		if err != nil {
			if !p.closed.Load() {
				p.logger.Warn("serial read failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// Buffered returns the number of received bytes not yet read.
func (p *Port) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Len()
}

// Read copies received bytes into b without blocking. Once pending input is
// exhausted the reader's error, if any, is returned.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending.Len() == 0 {
		return 0, p.readErr
	}
	return p.pending.Read(b)
}

func (p *Port) Write(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	return p.conn.Write(b)
}

// Flush waits until all written bytes have left the port.
func (p *Port) Flush() error {
	if p.closed.Load() {
		return ErrClosed
	}
	return p.conn.Drain()
}

// SetBaudRate changes the line rate and keeps the rest of the mode.
func (p *Port) SetBaudRate(br uint32) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.modeMu.Lock()
	defer p.modeMu.Unlock()

	mode := p.mode
	mode.BaudRate = int(br)
	if err := p.conn.SetMode(&mode); err != nil {
		return err
	}
	p.mode = mode
	p.logger.Debug("baud rate changed", slog.Int("baud", mode.BaudRate))
	return nil
}

// Mode returns the current port settings.
func (p *Port) Mode() serial.Mode {
	p.modeMu.Lock()
	defer p.modeMu.Unlock()
	return p.mode
}

// Close closes the port and waits for the reader to stop. It is safe to call
// more than once.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.conn.Close()
	<-p.done
	return err
}

// PowerPin returns the DTR line, for adapters that wire it to the power key.
func (p *Port) PowerPin() *ControlLine {
	return &ControlLine{name: "DTR", set: p.conn.SetDTR, logger: p.logger}
}

// ResetPin returns the RTS line, for adapters that wire it to reset.
func (p *Port) ResetPin() *ControlLine {
	return &ControlLine{name: "RTS", set: p.conn.SetRTS, logger: p.logger}
}

// ControlLine drives a modem control signal as a digital output.
type ControlLine struct {
	name   string
	set    func(bool) error
	logger *slog.Logger
}

func (l *ControlLine) High() { l.drive(true) }
func (l *ControlLine) Low()  { l.drive(false) }

func (l *ControlLine) drive(level bool) {
	if err := l.set(level); err != nil {
		l.logger.Warn("control line failed",
			slog.String("line", l.name),
			slog.Bool("level", level),
			slog.String("error", err.Error()))
	}
}
