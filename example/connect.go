//go:build tinygo

package main

import (
	"log/slog"
	"machine"
	"runtime"
	"time"

	"github.com/m-s-sh/sim900"
)

const (
	GPRSRX    = machine.GPIO5
	GPRSTX    = machine.GPIO4
	GPRSPower = machine.GPIO0
	GPRSReset = machine.GPIO1
)

func defaultGPRSConfig() machine.UARTConfig {
	return machine.UARTConfig{
		TX:       GPRSTX,
		RX:       GPRSRX,
		BaudRate: 9600,
	}
}

// modemUART lets Begin change the line rate of a machine UART.
type modemUART struct {
	*machine.UART
}

func (u modemUART) SetBaudRate(br uint32) error {
	u.UART.SetBaudRate(br)
	return nil
}

func main() {
	time.Sleep(5 * time.Second) // Wait for the serial port to be ready.
	machine.UART0.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO16,
		RX:       machine.GPIO17,
	})

	logger := slog.New(slog.NewTextHandler(machine.UART0, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	logger.Info("starting Pico SIM900 example")

	if err := machine.UART1.Configure(defaultGPRSConfig()); err != nil {
		logger.Error("failed to configure UART", slog.String("error", err.Error()))
		return
	}
	for _, pin := range []machine.Pin{GPRSPower, GPRSReset} {
		pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
		pin.Low()
	}

	ch := sim900.New(modemUART{machine.UART1}, GPRSPower, GPRSReset, sim900.WithLogger(logger))
	session := sim900.NewSession(ch, logger)

	if err := session.Begin(9600); err != nil {
		logger.Error("failed to start SIM900 modem", slog.String("error", err.Error()))
		return
	}
	logger.Info("modem ready, connecting to network...")

	if err := session.Attach("internet.vivacom.bg", "VIVACOM", "VIVACOM"); err != nil {
		logger.Error("failed to attach", slog.String("error", err.Error()))
		return
	}
	if err := session.BringUp(); err != nil {
		logger.Error("failed to bring up bearer", slog.String("error", err.Error()))
		return
	}
	ip, err := session.ObtainIP()
	if err != nil {
		logger.Error("failed to obtain IP", slog.String("error", err.Error()))
		return
	}
	logger.Info("GPRS session up", slog.String("ip", ip.String()))

	if err := session.ConfigureDNS("8.8.8.8", "8.8.4.4"); err != nil {
		logger.Warn("failed to configure DNS", slog.String("error", err.Error()))
	}
	server, err := session.Resolve("tcpbin.com")
	if err != nil {
		logger.Error("failed to resolve server", slog.String("error", err.Error()))
		return
	}

	if err := session.Open(sim900.DefaultConnection, sim900.TCP, server.String(), 4242); err != nil {
		logger.Error("failed to connect to server", slog.String("error", err.Error()))
		return
	}
	logger.Info("connected to server", slog.String("remoteAddr", server.String()))

	// Red LED
	led := machine.GPIO2
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})

	for {
		led.High()
		time.Sleep(500 * time.Millisecond)
		led.Low()
		time.Sleep(500 * time.Millisecond)

		state, err := session.Status()
		if err != nil {
			logger.Warn("status query failed", slog.String("error", err.Error()))
			continue
		}
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		logger.Info("connection status",
			slog.String("state", state),
			slog.Int64("alloc", int64(m.Alloc)),
		)
		if state != "CONNECT OK" {
			logger.Warn("connection lost")
			return
		}
	}
}
