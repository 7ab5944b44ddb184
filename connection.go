package sim900

import (
	"fmt"
	"strings"
)

// Connection indexes. DefaultConnection addresses the single connection
// of a non-multiplexed modem; 0..MaxConnections-1 are multiplexed slots.
const (
	DefaultConnection = -1
	MaxConnections    = 10
)

// ConnectionType represents different connection protocols
type ConnectionType uint8

const (
	TCP ConnectionType = iota
	UDP
)

func (ct ConnectionType) String() string {
	switch ct {
	case TCP:
		return "TCP"
	case UDP:
		return "UDP"
	default:
		return "Unknown"
	}
}

// ParseConnectionType maps "tcp"/"udp" in any case to a ConnectionType.
func ParseConnectionType(s string) (ConnectionType, error) {
	switch strings.ToUpper(s) {
	case "TCP":
		return TCP, nil
	case "UDP":
		return UDP, nil
	default:
		return 0, fmt.Errorf("unsupported network type %q: %w", s, ErrBadParameter)
	}
}

// ConnectionState represents the state of a connection as last commanded
type ConnectionState uint8

const (
	StateInitial ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateInitial:
		return "INITIAL"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// connectionTable tracks what was last commanded on each index. Slot
// MaxConnections holds the default connection.
type connectionTable [MaxConnections + 1]ConnectionState

func (t *connectionTable) slot(id int) int {
	if id == DefaultConnection {
		return MaxConnections
	}
	return id
}

func (t *connectionTable) get(id int) ConnectionState {
	return t[t.slot(id)]
}

func (t *connectionTable) set(id int, s ConnectionState) {
	t[t.slot(id)] = s
}

func (t *connectionTable) reset() {
	*t = connectionTable{}
}

// validConnection reports whether id is the default index or a
// multiplexed slot.
func validConnection(id int) bool {
	return id == DefaultConnection || (id >= 0 && id < MaxConnections)
}

// connectionPrefix renders the optional "<n>," segment of AT+CIPSTART.
func connectionPrefix(id int) string {
	if id == DefaultConnection {
		return ""
	}
	return fmt.Sprintf("%d,", id)
}

// connectionSuffix renders the optional ",<n>" segment of AT+CIPCLOSE.
func connectionSuffix(id int) string {
	if id == DefaultConnection {
		return ""
	}
	return fmt.Sprintf(",%d", id)
}
