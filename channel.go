// Package sim900 implements a driver for SIM900 family GSM/GPRS modems.
// It turns a byte stream into a synchronous AT command channel with a bounded
// response buffer and layers the GPRS bring-up sequence on top of it.
// It is written for TinyGo on constrained boards but runs on any Go host.
package sim900

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Constants for the command channel
const (
	CRLF      = "\r\n"       // Line terminator for commands
	ATPrefix  = "AT"         // Command prefix
	OKText    = "OK"         // OK response text
	ErrorText = "ERROR"      // Error response text
	CallReady = "Call Ready" // Unsolicited message once the modem has booted
)

// Common error types
var (
	ErrTimeout            = errors.New("AT command timeout")
	ErrUnexpectedResponse = errors.New("unexpected AT response")
	ErrNotResponding      = errors.New("modem not responding")
	ErrBadParameter       = errors.New("invalid parameter")
	ErrBadIP              = errors.New("malformed IP address")
)

// ATError represents a failed AT exchange
type ATError struct {
	Command string // The AT command that failed
	Message string // The response text, trimmed
	Err     error  // ErrTimeout or ErrUnexpectedResponse
}

// Error returns the error message, implementing the error interface
func (e *ATError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v [command: %s]", e.Err, e.Command)
	}
	return fmt.Sprintf("%v: %q [command: %s]", e.Err, e.Message, e.Command)
}

func (e *ATError) Unwrap() error {
	return e.Err
}

// IsErrorType checks if an error is an ATError whose response contains a specific string
func IsErrorType(err error, errType string) bool {
	var atErr *ATError
	if errors.As(err, &atErr) {
		return strings.Contains(atErr.Message, errType)
	}
	return false
}

// CommandChannel issues AT commands over a Transport and captures the
// replies into a fixed-capacity buffer.
//
// A CommandChannel supports exactly one command in flight. It is not safe
// for concurrent use; NetworkSession serializes access for its callers.
type CommandChannel struct {
	uart      Transport   // UART interface for communication
	powerPin  Pin         // Power key line, may be nil
	resetPin  Pin         // Reset line, may be nil
	config    Config      // Tunables
	logger    *slog.Logger
	clock     Clock
	buffer    *responseBuffer
	scratch   []byte // Used to discard stale or excess input
	truncated bool   // Whether the last capture overflowed
	echo      bool   // Last echo mode requested
}

// New creates a new command channel. power and reset may be nil when the
// modem has no soft power or reset wiring.
func New(uart Transport, power, reset Pin, opts ...Option) *CommandChannel {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CommandChannel{
		uart:     uart,
		powerPin: power,
		resetPin: reset,
		config:   config,
		logger:   logger,
		clock:    config.Clock,
		buffer:   newResponseBuffer(config.BufferSize),
		scratch:  make([]byte, 64),
		echo:     true,
	}
}

// Begin initializes the transport at baudRate and checks the modem is alive.
// A modem that is already on answers the AT probe. Otherwise the power key
// is pulsed and Begin waits for the "Call Ready" message.
func (c *CommandChannel) Begin(baudRate uint32) error {
	if s, ok := c.uart.(BaudRateSetter); ok {
		if err := s.SetBaudRate(baudRate); err != nil {
			return fmt.Errorf("set baud rate %d: %w", baudRate, err)
		}
	}

	if c.SendCommandExpecting(ATPrefix, OKText, false, c.config.DefaultTimeout) {
		c.logger.Debug("modem answered probe", slog.Uint64("baud", uint64(baudRate)))
		return nil
	}

	c.logger.Info("modem silent, pulsing power key")
	c.SoftPower()
	if c.WaitUntilReceive(CallReady, c.config.InitTimeout) >= 0 {
		return nil
	}
	return ErrNotResponding
}

// SoftPower pulses the power key line.
func (c *CommandChannel) SoftPower() {
	pulse(c.powerPin, c.config.PowerPulse, c.clock)
}

// SoftReset pulses the reset line.
func (c *CommandChannel) SoftReset() {
	pulse(c.resetPin, c.config.ResetPulse, c.clock)
}

func pulse(p Pin, d time.Duration, clock Clock) {
	if p == nil {
		return
	}
	p.High()
	clock.Sleep(d)
	p.Low()
}

// SendCommand writes a command and captures the reply. When prefixWithAT is
// set the literal "AT" is written before body. It returns the number of
// bytes captured; zero bytes yields ErrTimeout.
func (c *CommandChannel) SendCommand(body string, prefixWithAT bool, timeout time.Duration) (int, error) {
	c.buffer.reset()
	c.truncated = false

	// Clear UART buffer before sending
	c.clearInput()

	fullCmd := body
	if prefixWithAT {
		fullCmd = ATPrefix + body
	}
	c.logger.Debug("sending command", slog.String("command", fullCmd))

	if _, err := io.WriteString(c.uart, fullCmd+CRLF); err != nil {
		return 0, fmt.Errorf("write command %q: %w", fullCmd, err)
	}
	if f, ok := c.uart.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return 0, fmt.Errorf("flush command %q: %w", fullCmd, err)
		}
	}

	n := c.ReadResponse(timeout, false)
	if n == 0 {
		c.logger.Debug("command timeout", slog.String("command", fullCmd))
		return 0, ErrTimeout
	}
	c.logger.Debug("received response",
		slog.String("command", fullCmd),
		slog.String("response", string(c.buffer.bytes())),
		slog.Bool("truncated", c.truncated))
	return n, nil
}

// SendCommandExpecting sends a command and reports whether the reply
// contains expected as a literal substring. A timeout and a mismatch both
// yield false.
func (c *CommandChannel) SendCommandExpecting(body, expected string, prefixWithAT bool, timeout time.Duration) bool {
	if n, err := c.SendCommand(body, prefixWithAT, timeout); err != nil || n == 0 {
		return false
	}
	return c.ResponseContains(expected)
}

// ReadResponse captures bytes from the transport. With appendData unset the
// buffer is emptied first; otherwise bytes are added after the current
// content. It waits up to timeout for the first byte, then keeps reading
// until the modem has been silent for the inter-byte timeout, the buffer
// overflows, or timeout elapses again. It returns the bytes captured by
// this call.
func (c *CommandChannel) ReadResponse(timeout time.Duration, appendData bool) int {
	if !appendData {
		c.buffer.reset()
	}
	start := c.buffer.pos
	c.truncated = false

	begin := c.clock.Now()
	for c.uart.Buffered() <= 0 {
		if c.clock.Now().Sub(begin) >= timeout {
			return 0
		}
		c.clock.Sleep(c.config.PollInterval)
	}

	begin = c.clock.Now()
	last := begin
	for {
		available := c.uart.Buffered()
		if available > 0 {
			n, truncated, err := c.buffer.fill(c.uart, available)
			if n > 0 {
				last = c.clock.Now()
			}
			if truncated {
				c.truncated = true
				c.clearInput()
				c.logger.Warn("response truncated", slog.Int("capacity", len(c.buffer.buf)))
				break
			}
			if err != nil {
				c.logger.Debug("read error", slog.String("error", err.Error()))
				break
			}
		} else {
			c.clock.Sleep(c.config.PollInterval)
		}

		now := c.clock.Now()
		if now.Sub(begin) >= timeout {
			break
		}
		if available <= 0 && now.Sub(last) >= c.config.InterByteTimeout {
			break
		}
	}
	return c.buffer.pos - start
}

// WasResponseFullyRead reports whether the last capture fit in the buffer.
// A truncated response is only reliable up to the retained prefix.
func (c *CommandChannel) WasResponseFullyRead() bool {
	return !c.truncated
}

// FindInResponse returns the position of needle in the buffer, or -1.
func (c *CommandChannel) FindInResponse(needle string) int {
	return c.buffer.index([]byte(needle))
}

// ResponseContains reports whether needle occurs in the buffer.
func (c *CommandChannel) ResponseContains(needle string) bool {
	return c.FindInResponse(needle) >= 0
}

// Response returns a read-only view of the buffer content, valid until the
// next command or capture.
func (c *CommandChannel) Response() []byte {
	return c.buffer.bytes()
}

// WaitUntilReceive accumulates captures until needle appears in the buffer
// or a capture makes no progress. It returns the position of needle, or -1.
// After a truncated capture the next one starts from an empty buffer.
func (c *CommandChannel) WaitUntilReceive(needle string, timeout time.Duration) int {
	for {
		if pos := c.FindInResponse(needle); pos >= 0 {
			return pos
		}
		if c.ReadResponse(timeout, !c.truncated) == 0 {
			return -1
		}
	}
}

// SetEcho toggles command echo with ATE1/ATE0.
func (c *CommandChannel) SetEcho(enabled bool) bool {
	c.echo = enabled
	cmd := "E0"
	if enabled {
		cmd = "E1"
	}
	return c.SendCommandExpecting(cmd, OKText, true, 100*time.Millisecond)
}

// Echo returns the last echo mode requested.
func (c *CommandChannel) Echo() bool {
	return c.echo
}

// DiscardBuffer clears the response buffer without touching the transport.
func (c *CommandChannel) DiscardBuffer() {
	c.buffer.reset()
	c.truncated = false
}

// clearInput drops any data pending in the UART.
func (c *CommandChannel) clearInput() {
	for n := c.uart.Buffered(); n > 0; n = c.uart.Buffered() {
		read, err := c.uart.Read(c.scratch[:min(len(c.scratch), n)])
		if err != nil || read == 0 {
			return
		}
	}
}
