package sim900

import (
	"log/slog"
	"time"
)

// Default tunables for the SIM900 family.
const (
	DefaultTimeout          = time.Second            // Plain AT commands
	BringUpTimeout          = time.Second * 20       // AT+CIICR, bearer activation is slow
	InitTimeout             = time.Second * 10       // Wait for "Call Ready" after power-on
	DNSTimeout              = time.Second * 10       // Wait for the +CDNSGIP result
	InterByteTimeout        = time.Millisecond * 50  // Silence that ends a response
	PowerPulse              = time.Millisecond * 1000
	ResetPulse              = time.Millisecond * 100
	PollInterval            = time.Millisecond
	DefaultResponseCapacity = 128
)

// Config holds the command channel configuration.
type Config struct {
	// Logger receives debug output for every exchange (optional)
	Logger *slog.Logger

	// Clock drives all timeout loops
	Clock Clock

	// BufferSize is the response buffer capacity, terminator included
	BufferSize int

	// InterByteTimeout is the silence after which a response is complete
	InterByteTimeout time.Duration

	// InitTimeout bounds the wait for "Call Ready" after a power pulse
	InitTimeout time.Duration

	// DefaultTimeout is used by Begin and the session for plain commands
	DefaultTimeout time.Duration

	// PowerPulse is how long the power line is held high
	PowerPulse time.Duration

	// ResetPulse is how long the reset line is held high
	ResetPulse time.Duration

	// PollInterval is slept between transport polls when nothing is buffered
	PollInterval time.Duration
}

func defaultConfig() Config {
	return Config{
		Clock:            systemClock{},
		BufferSize:       DefaultResponseCapacity,
		InterByteTimeout: InterByteTimeout,
		InitTimeout:      InitTimeout,
		DefaultTimeout:   DefaultTimeout,
		PowerPulse:       PowerPulse,
		ResetPulse:       ResetPulse,
		PollInterval:     PollInterval,
	}
}

// Option is a functional option for configuring the CommandChannel.
type Option func(*Config)

// WithLogger sets the logger used for command tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithClock replaces the system clock, mostly for tests.
func WithClock(clock Clock) Option {
	return func(c *Config) {
		if clock != nil {
			c.Clock = clock
		}
	}
}

// WithBufferSize sets the response buffer capacity. One byte is always
// reserved for the terminator, so sizes below 2 are ignored.
func WithBufferSize(size int) Option {
	return func(c *Config) {
		if size >= 2 {
			c.BufferSize = size
		}
	}
}

// WithInterByteTimeout sets the silence gap that ends a response.
func WithInterByteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.InterByteTimeout = d
	}
}

// WithInitTimeout sets how long Begin waits for "Call Ready" on a cold start.
func WithInitTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.InitTimeout = d
	}
}

// WithDefaultTimeout sets the timeout for plain commands.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.DefaultTimeout = d
	}
}

// WithPowerPulse sets the power-key pulse length.
func WithPowerPulse(d time.Duration) Option {
	return func(c *Config) {
		c.PowerPulse = d
	}
}

// WithResetPulse sets the reset pulse length.
func WithResetPulse(d time.Duration) Option {
	return func(c *Config) {
		c.ResetPulse = d
	}
}

// WithPollInterval sets the idle sleep between transport polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}
