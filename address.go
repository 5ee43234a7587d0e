package ice

import (
	"fmt"
	"net"

	"gortc.io/iceagent/candidate"
)

// TransportAddress is an (IP, port, transport) tuple. Only UDP is in
// scope for this module (spec.md §1 non-goal: TCP-ICE), but the
// Transport field is kept explicit rather than assumed so that
// equality checks stay correct if that ever changes.
type TransportAddress struct {
	IP        net.IP
	Port      int
	Transport candidate.TransportType
}

// Equal reports whether a and b name the same transport address.
func (a TransportAddress) Equal(b TransportAddress) bool {
	if a.Transport != b.Transport {
		return false
	}
	if a.Port != b.Port {
		return false
	}
	return a.IP.Equal(b.IP)
}

// String renders the address as "ip:port/transport".
func (a TransportAddress) String() string {
	return fmt.Sprintf("%s:%d/%s", a.IP, a.Port, a.Transport)
}

// IsZero reports whether a carries no address (the zero value, used
// for "no related address").
func (a TransportAddress) IsZero() bool {
	return a.IP == nil && a.Port == 0
}

// UDPAddr converts a to a *net.UDPAddr for use with the net package.
func (a TransportAddress) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP, Port: a.Port}
}

func sameFamily(a, b net.IP) bool {
	return (a.To4() != nil) == (b.To4() != nil)
}
