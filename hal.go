package sim900

import (
	"time"

	"tinygo.org/x/drivers"
)

//go:generate mockgen -source=hal.go -destination=mock_hal_test.go -package=sim900

// Pin is a digital output line wired to the modem (power key or reset).
type Pin interface {
	High()
	Low()
}

// Transport is the byte stream to the modem. Buffered reports how many
// bytes can be read without blocking.
type Transport interface {
	drivers.UART
}

// BaudRateSetter is implemented by transports whose line rate can be changed
// by Begin.
type BaudRateSetter interface {
	SetBaudRate(br uint32) error
}

// Flusher is implemented by transports that buffer outgoing bytes.
type Flusher interface {
	Flush() error
}

// Clock abstracts wall time so timeout loops can be driven by tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }
