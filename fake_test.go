package sim900

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// fakeClock only moves when Sleep is called.
type fakeClock struct {
	now    time.Time
	slept  time.Duration
	onTick func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
	c.slept += d
	if c.onTick != nil {
		c.onTick()
	}
}

// chunk is a piece of modem output that becomes readable after a delay.
type chunk struct {
	after time.Duration
	data  string
}

// reply builds a response delivered in one piece after delay.
func reply(delay time.Duration, data string) []chunk {
	return []chunk{{after: delay, data: data}}
}

type pending struct {
	at   time.Time
	data []byte
}

// fakeModem is a scripted Transport. Every complete line written to it is
// passed to respond, whose chunks are scheduled relative to the current
// fake time. Chunks from one reply are cumulative: each after is measured
// from the previous chunk.
type fakeModem struct {
	clock    *fakeClock
	respond  func(cmd string) []chunk
	tx       bytes.Buffer
	commands []string
	queue    []pending
	rx       []byte
	line     []byte
}

func newFakeModem(clock *fakeClock, respond func(cmd string) []chunk) *fakeModem {
	return &fakeModem{clock: clock, respond: respond}
}

// schedule queues output that is not a reply to a command.
func (m *fakeModem) schedule(chunks ...chunk) {
	at := m.clock.Now()
	for _, c := range chunks {
		at = at.Add(c.after)
		m.queue = append(m.queue, pending{at: at, data: []byte(c.data)})
	}
}

func (m *fakeModem) deliver() {
	now := m.clock.Now()
	kept := m.queue[:0]
	for _, p := range m.queue {
		if !p.at.After(now) {
			m.rx = append(m.rx, p.data...)
		} else {
			kept = append(kept, p)
		}
	}
	m.queue = kept
}

func (m *fakeModem) Buffered() int {
	m.deliver()
	return len(m.rx)
}

func (m *fakeModem) Read(p []byte) (int, error) {
	m.deliver()
	n := copy(p, m.rx)
	m.rx = m.rx[n:]
	return n, nil
}

func (m *fakeModem) Write(p []byte) (int, error) {
	m.tx.Write(p)
	m.line = append(m.line, p...)
	for {
		idx := bytes.Index(m.line, []byte(CRLF))
		if idx < 0 {
			break
		}
		cmd := string(m.line[:idx])
		m.line = m.line[idx+len(CRLF):]
		m.commands = append(m.commands, cmd)
		if m.respond != nil {
			m.schedule(m.respond(cmd)...)
		}
	}
	return len(p), nil
}

// lastCommand returns the most recent complete command line.
func (m *fakeModem) lastCommand() string {
	if len(m.commands) == 0 {
		return ""
	}
	return m.commands[len(m.commands)-1]
}

// scriptedResponder answers known commands and stays silent otherwise.
func scriptedResponder(script map[string][]chunk) func(string) []chunk {
	return func(cmd string) []chunk {
		if r, ok := script[cmd]; ok {
			return r
		}
		for prefix, r := range script {
			if strings.HasSuffix(prefix, "*") && strings.HasPrefix(cmd, strings.TrimSuffix(prefix, "*")) {
				return r
			}
		}
		return nil
	}
}

// newTestChannel wires a channel to a fake modem on a fake clock.
func newTestChannel(t *testing.T, respond func(string) []chunk, opts ...Option) (*CommandChannel, *fakeModem, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	modem := newFakeModem(clock, respond)
	opts = append([]Option{
		WithClock(clock),
		WithLogger(slog.New(&MockHandler{t: t})),
	}, opts...)
	return New(modem, nil, nil, opts...), modem, clock
}

// MockHandler forwards log records to the test log
type MockHandler struct {
	t *testing.T
}

func (h *MockHandler) Enabled(_ context.Context, level slog.Level) bool {
	return true
}

func (h *MockHandler) Handle(_ context.Context, r slog.Record) error {
	h.t.Helper()

	var sb strings.Builder
	sb.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		sb.WriteString(" ")
		sb.WriteString(a.Key)
		sb.WriteString("=")
		sb.WriteString(a.Value.String())
		return true
	})
	h.t.Logf("%v: %s", r.Level, sb.String())
	return nil
}

func (h *MockHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// For simplicity, we ignore attributes in this mock handler
	return h
}

func (h *MockHandler) WithGroup(name string) slog.Handler {
	// For simplicity, we ignore groups in this mock handler
	return h
}
