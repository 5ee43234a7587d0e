// Package harvest discovers candidates for a Component: host addresses
// from local interfaces (ranked per RFC 6724), server-reflexive
// addresses via a STUN Binding exchange, and relayed addresses via a
// TURN allocation.
//
// It is grounded on the vendored gortc/ice gather/gather.go and
// host.go: the address-precedence table and dual-stack local-preference
// derivation are carried over verbatim in spirit (spec.md §C supplements
// the distilled spec with this derivation, since it isn't itself an
// ICE invariant but the module needs some deterministic ranking).
package harvest

import (
	"bytes"
	"fmt"
	"net"
	"sort"
)

// Addr is a gathered host address together with its RFC 6724
// precedence.
type Addr struct {
	IP         net.IP
	Zone       string
	Precedence int
}

func (a Addr) String() string {
	if len(a.Zone) > 0 {
		return fmt.Sprintf("%s (zone %s) [%d]", a.IP, a.Zone, a.Precedence)
	}
	return fmt.Sprintf("%s [%d]", a.IP, a.Precedence)
}

// Addrs sorts by descending precedence, breaking ties by IP for a
// stable result.
type Addrs []Addr

func (s Addrs) Len() int      { return len(s) }
func (s Addrs) Swap(i, j int) { s[i], s[j] = s[j], s[i] }
func (s Addrs) Less(i, j int) bool {
	if s[i].Precedence == s[j].Precedence {
		return bytes.Compare(s[i].IP, s[j].IP) < 0
	}
	return s[i].Precedence > s[j].Precedence
}

// Gatherer discovers candidate host addresses. Swappable for tests.
type Gatherer interface {
	Gather() ([]Addr, error)
}

type precedenceEntry struct {
	ipNet *net.IPNet
	value int
}

var precedenceTable []precedenceEntry

func mustParseNet(cidr string) *net.IPNet {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	return n
}

func init() {
	// RFC 6724 Section 2.1 default policy table, plus the loopback and
	// link-local entries gortc/ice added for its own filtering pass.
	for _, e := range []struct {
		cidr  string
		value int
	}{
		{"::1/128", 50},
		{"127.0.0.1/8", 45},
		{"::/0", 40},
		{"::ffff:0:0/96", 35},
		{"fe80::/10", 33},
		{"2002::/16", 30},
		{"2001::/32", 5},
		{"fc00::/7", 3},
		{"::/96", 1},
		{"fec0::/10", 1},
		{"3ffe::/16", 1},
	} {
		precedenceTable = append(precedenceTable, precedenceEntry{ipNet: mustParseNet(e.cidr), value: e.value})
	}
}

func precedence(ip net.IP) int {
	for _, p := range precedenceTable {
		if p.ipNet.Contains(ip) {
			return p.value
		}
	}
	return 0
}

type netInterface interface {
	Addrs() ([]net.Addr, error)
}

func ifaceToAddrs(i netInterface, name string) ([]Addr, error) {
	var addrs []Addr
	netAddrs, err := i.Addrs()
	if err != nil {
		return addrs, err
	}
	for _, a := range netAddrs {
		ip, _, err := net.ParseCIDR(a.String())
		if err != nil {
			return addrs, err
		}
		addr := Addr{IP: ip, Precedence: precedence(ip)}
		if ip.IsLinkLocalUnicast() {
			addr.Zone = name
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

type defaultGatherer struct{}

func (defaultGatherer) Gather() ([]Addr, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	addrs := make([]Addr, 0, 10)
	for _, iface := range interfaces {
		ifaceAddrs, err := ifaceToAddrs(&iface, iface.Name)
		if err != nil {
			return addrs, err
		}
		addrs = append(addrs, ifaceAddrs...)
	}
	sort.Sort(Addrs(addrs))
	return addrs, nil
}

// DefaultGatherer enumerates every local network interface via
// net.Interfaces.
var DefaultGatherer Gatherer = defaultGatherer{}
