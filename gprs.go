package sim900

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SessionState is the position of a session in the bring-up sequence
type SessionState uint8

const (
	StateIdle SessionState = iota
	StateReady
	StateAttached
	StateBearerUp
	StateHasIP
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReady:
		return "READY"
	case StateAttached:
		return "ATTACHED"
	case StateBearerUp:
		return "BEARER UP"
	case StateHasIP:
		return "HAS IP"
	default:
		return "UNKNOWN"
	}
}

// GPRS response texts
const (
	ShutOKText   = "SHUT OK"
	DNSResult    = "+CDNSGIP"
	MuxResult    = "+CIPMUX"
	StatusPrefix = "STATE"
)

// NetworkSession sequences the GPRS bring-up protocol over a CommandChannel:
// attach to an APN, bring up the bearer, obtain an IP, configure DNS and
// open or close connections.
//
// Each method runs a complete command/response cycle under a lock, so a
// session may be shared between goroutines. A failed step leaves the state
// unchanged; retry policy belongs to the caller.
type NetworkSession struct {
	mu          sync.Mutex
	ch          *CommandChannel
	logger      *slog.Logger
	lexer       *Lexer
	state       SessionState
	multiplexed bool
	ip          IPAddress
	connections connectionTable
}

// NewSession creates a session on top of ch.
func NewSession(ch *CommandChannel, logger *slog.Logger) *NetworkSession {
	if logger == nil {
		logger = ch.logger
	}
	return &NetworkSession{
		ch:     ch,
		logger: logger,
		lexer:  NewLexer(),
	}
}

// Begin starts the modem, disables echo and tears down any stale IP session.
// The AT+CIPSHUT result is not checked. AT+CIPSHUT leaves the
// multi-connection mode alone, so the recorded mode is kept.
func (s *NetworkSession) Begin(baudRate uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ch.Begin(baudRate); err != nil {
		return fmt.Errorf("failed to start modem: %w", err)
	}
	s.ch.SetEcho(false)
	if _, err := s.ch.SendCommand("+CIPSHUT", true, s.ch.config.DefaultTimeout); err != nil {
		s.logger.Debug("stale session cleanup failed", "error", err)
	}
	s.state = StateReady
	s.ip = IPAddress{}
	s.connections.reset()
	return nil
}

// UseMultiplexer enables or disables multi-connection mode.
func (s *NetworkSession) UseMultiplexer(enable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := "+CIPMUX=0"
	if enable {
		cmd = "+CIPMUX=1"
	}
	if err := s.expect(cmd, OKText, s.ch.config.DefaultTimeout); err != nil {
		return fmt.Errorf("failed to set multi-connection mode: %w", err)
	}
	s.multiplexed = enable
	return nil
}

// QueryMultiplexer reads the multi-connection mode from the modem and
// records it. A process attaching to a modem that is already up uses this
// instead of UseMultiplexer, which is only accepted before the bearer starts.
func (s *NetworkSession) QueryMultiplexer() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const cmd = "+CIPMUX?"
	if err := s.expect(cmd, OKText, s.ch.config.DefaultTimeout); err != nil {
		return false, fmt.Errorf("failed to query multi-connection mode: %w", err)
	}

	s.tokenizeFrom(MuxResult + ":")
	tok, ok := s.lexer.Find(MuxResult)
	if !ok {
		return false, fmt.Errorf("failed to query multi-connection mode: %w", s.atError(cmd, ErrUnexpectedResponse))
	}
	mode, _ := tok.Field(0)
	s.multiplexed = mode == "1"
	return s.multiplexed, nil
}

// Attach sets the APN and its credentials. Empty credentials are sent as
// empty strings.
func (s *NetworkSession) Attach(apn, login, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := fmt.Sprintf(`+CSTT="%s","%s","%s"`, apn, login, password)
	if err := s.expect(cmd, OKText, s.ch.config.DefaultTimeout); err != nil {
		return fmt.Errorf("failed to set APN: %w", err)
	}
	s.advance(StateAttached)
	return nil
}

// BringUp activates the wireless bearer.
func (s *NetworkSession) BringUp() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect("+CIICR", OKText, BringUpTimeout); err != nil {
		return fmt.Errorf("failed to bring up wireless connection: %w", err)
	}
	s.advance(StateBearerUp)
	return nil
}

// ObtainIP reads the local IP address assigned to the bearer.
func (s *NetworkSession) ObtainIP() (IPAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const cmd = "+CIFSR"
	if _, err := s.ch.SendCommand(cmd, true, s.ch.config.DefaultTimeout); err != nil {
		return IPAddress{}, fmt.Errorf("failed to get IP address: %w", s.atError(cmd, err))
	}
	if s.ch.ResponseContains(ErrorText) {
		return IPAddress{}, fmt.Errorf("failed to get IP address: %w", s.atError(cmd, ErrUnexpectedResponse))
	}

	ip, err := ParseIP(s.ch.Response())
	if err != nil {
		if !s.ch.WasResponseFullyRead() {
			s.logger.Warn("IP response was truncated")
		}
		return IPAddress{}, fmt.Errorf("failed to get IP address: %w", s.atError(cmd, err))
	}
	s.ip = ip
	s.advance(StateHasIP)
	s.logger.Info("obtained IP address", slog.String("ip", ip.String()))
	return ip, nil
}

// ConfigureDNS sets the primary and secondary DNS servers.
func (s *NetworkSession) ConfigureDNS(primary, secondary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := fmt.Sprintf(`+CDNSCFG="%s","%s"`, primary, secondary)
	if err := s.expect(cmd, OKText, s.ch.config.DefaultTimeout); err != nil {
		return fmt.Errorf("failed to configure DNS: %w", err)
	}
	return nil
}

// Open starts a connection to address:port. connection is DefaultConnection
// or, in multiplexed mode, a slot in 0..MaxConnections-1.
func (s *NetworkSession) Open(connection int, mode ConnectionType, address string, port uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnection(connection); err != nil {
		return err
	}
	if mode != TCP && mode != UDP {
		return fmt.Errorf("unsupported connection type %v: %w", mode, ErrBadParameter)
	}

	cmd := fmt.Sprintf(`+CIPSTART=%s"%s","%s","%d"`, connectionPrefix(connection), mode, address, port)
	prev := s.connections.get(connection)
	s.connections.set(connection, StateConnecting)
	if err := s.expect(cmd, OKText, s.ch.config.DefaultTimeout); err != nil {
		s.connections.set(connection, prev)
		return fmt.Errorf("failed to start connection: %w", err)
	}
	s.connections.set(connection, StateConnected)
	return nil
}

// Close closes a connection opened with Open.
func (s *NetworkSession) Close(connection int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnection(connection); err != nil {
		return err
	}

	cmd := "+CIPCLOSE=1" + connectionSuffix(connection)
	if err := s.expect(cmd, OKText, s.ch.config.DefaultTimeout); err != nil {
		return fmt.Errorf("failed to close connection %d: %w", connection, err)
	}
	s.connections.set(connection, StateClosed)
	return nil
}

// Resolve looks hostname up through the modem's DNS client. The query is
// acknowledged with OK and the +CDNSGIP result line follows asynchronously.
func (s *NetworkSession) Resolve(hostname string) (IPAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hostname == "" {
		return IPAddress{}, fmt.Errorf("empty hostname: %w", ErrBadParameter)
	}

	cmd := "+CDNSGIP=" + hostname
	if err := s.expect(cmd, OKText, s.ch.config.DefaultTimeout); err != nil {
		return IPAddress{}, fmt.Errorf("failed to resolve %s: %w", hostname, err)
	}
	if s.ch.WaitUntilReceive(DNSResult+":", DNSTimeout) < 0 {
		return IPAddress{}, fmt.Errorf("failed to resolve %s: %w", hostname, s.atError(cmd, ErrTimeout))
	}

	s.tokenizeFrom(DNSResult + ":")
	tok, ok := s.lexer.Find(DNSResult)
	if !ok {
		return IPAddress{}, fmt.Errorf("failed to resolve %s: %w", hostname, s.atError(cmd, ErrUnexpectedResponse))
	}
	// +CDNSGIP: 1,"<domain>","<IP1>"[,"<IP2>"] or +CDNSGIP: 0,<dns error code>
	if status, _ := tok.Field(0); status != "1" {
		return IPAddress{}, fmt.Errorf("failed to resolve %s: %w", hostname, &ATError{Command: cmd, Message: tok.Raw, Err: ErrUnexpectedResponse})
	}
	field, ok := tok.Field(2)
	if !ok {
		return IPAddress{}, fmt.Errorf("failed to resolve %s: %w", hostname, &ATError{Command: cmd, Message: tok.Raw, Err: ErrUnexpectedResponse})
	}
	ip, err := ParseIP([]byte(field))
	if err != nil {
		return IPAddress{}, fmt.Errorf("failed to resolve %s: %w", hostname, err)
	}
	s.logger.Debug("resolved host", slog.String("host", hostname), slog.String("ip", ip.String()))
	return ip, nil
}

// Status returns the modem's IP connection state, e.g. "IP STATUS" or
// "PDP DEACT".
func (s *NetworkSession) Status() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const cmd = "+CIPSTATUS"
	if err := s.expect(cmd, OKText, s.ch.config.DefaultTimeout); err != nil {
		return "", fmt.Errorf("failed to query status: %w", err)
	}
	if s.ch.FindInResponse(StatusPrefix+":") < 0 {
		// STATE: follows OK after a short gap on some firmware
		s.ch.WaitUntilReceive(StatusPrefix+":", s.ch.config.DefaultTimeout)
	}

	s.tokenizeFrom(StatusPrefix + ":")
	tok, ok := s.lexer.Find(StatusPrefix)
	if !ok {
		return "", fmt.Errorf("failed to query status: %w", s.atError(cmd, ErrUnexpectedResponse))
	}
	return tok.Value, nil
}

// Shutdown deactivates the GPRS PDP context and closes every connection.
func (s *NetworkSession) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.expect("+CIPSHUT", ShutOKText, s.ch.config.DefaultTimeout); err != nil {
		return fmt.Errorf("failed to shut down PDP context: %w", err)
	}
	s.state = StateReady
	s.ip = IPAddress{}
	s.connections.reset()
	return nil
}

// State returns the furthest bring-up step that succeeded.
func (s *NetworkSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IP returns the address from the last successful ObtainIP.
func (s *NetworkSession) IP() IPAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ip
}

// Multiplexed reports whether multi-connection mode is on.
func (s *NetworkSession) Multiplexed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.multiplexed
}

// ConnectionState returns what was last commanded on a connection index.
func (s *NetworkSession) ConnectionState(connection int) ConnectionState {
	if !validConnection(connection) {
		return StateInitial
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections.get(connection)
}

// expect sends an AT-prefixed command and requires expected in the reply.
func (s *NetworkSession) expect(cmd, expected string, timeout time.Duration) error {
	if _, err := s.ch.SendCommand(cmd, true, timeout); err != nil {
		return s.atError(cmd, err)
	}
	if !s.ch.ResponseContains(expected) {
		return s.atError(cmd, ErrUnexpectedResponse)
	}
	return nil
}

// tokenizeFrom tokenizes the response starting at the line holding marker,
// so the result line is never past the lexer's token limit.
func (s *NetworkSession) tokenizeFrom(marker string) {
	resp := s.ch.Response()
	if i := s.ch.FindInResponse(marker); i > 0 {
		resp = resp[i:]
	}
	s.lexer.Tokenize(resp)
}

// atError wraps err with the command and the captured response.
func (s *NetworkSession) atError(cmd string, err error) error {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnexpectedResponse) || errors.Is(err, ErrBadIP) {
		return &ATError{
			Command: ATPrefix + cmd,
			Message: strings.TrimSpace(string(s.ch.Response())),
			Err:     err,
		}
	}
	return err
}

// advance moves the state forward, never back.
func (s *NetworkSession) advance(to SessionState) {
	if to > s.state {
		s.state = to
	}
}

func (s *NetworkSession) checkConnection(connection int) error {
	if !validConnection(connection) {
		return fmt.Errorf("connection index %d: %w", connection, ErrBadParameter)
	}
	if connection != DefaultConnection && !s.multiplexed {
		return fmt.Errorf("connection index %d requires multiplexing: %w", connection, ErrBadParameter)
	}
	return nil
}
