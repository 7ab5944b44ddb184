package sim900

import (
	"net/netip"
	"strconv"
)

// IPAddress is an IPv4 address as reported by the modem.
type IPAddress [4]byte

func (a IPAddress) String() string {
	return strconv.Itoa(int(a[0])) + "." + strconv.Itoa(int(a[1])) + "." +
		strconv.Itoa(int(a[2])) + "." + strconv.Itoa(int(a[3]))
}

// Addr converts the address for use with the net/netip package.
func (a IPAddress) Addr() netip.Addr {
	return netip.AddrFrom4(a)
}

// IsZero reports whether the address is 0.0.0.0.
func (a IPAddress) IsZero() bool {
	return a == IPAddress{}
}

// ParseIP scans text for a dotted-quad address. Characters before the first
// digit are skipped. Digits accumulate into the current octet (at most three,
// further digits are dropped) and each '.' stores it. The scan ends after the
// fourth octet, at a zero byte, or at the first other character once the
// address has started. A trailing octet without a delimiter is stored too.
// Exactly four octets, each at most 255, must be found.
func ParseIP(text []byte) (IPAddress, error) {
	var (
		ip      IPAddress
		octets  int
		digits  int
		value   int
		started bool
	)

	store := func() bool {
		if value > 255 {
			return false
		}
		ip[octets] = byte(value)
		octets++
		value, digits = 0, 0
		return true
	}

scan:
	for _, ch := range text {
		if octets == len(ip) {
			break
		}
		switch {
		case ch >= '0' && ch <= '9':
			started = true
			if digits < 3 {
				value = value*10 + int(ch-'0')
			}
			digits++
		case ch == '.' && started:
			if !store() {
				return IPAddress{}, ErrBadIP
			}
		case ch == 0 || started:
			break scan
		}
	}

	if digits > 0 && octets < len(ip) {
		if !store() {
			return IPAddress{}, ErrBadIP
		}
	}
	if octets != len(ip) {
		return IPAddress{}, ErrBadIP
	}
	return ip, nil
}
