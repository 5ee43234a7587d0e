package harvest

import "net"

// siteLocalIPv6 matches RFC 3879's deprecated IPv6 site-local block.
var siteLocalIPv6 = mustParseNet("FEC0::/10")

// IsHostIPValid reports whether ip is eligible as a host candidate
// address (RFC 8445 Section 5.1.1.1 gathering rules).
func IsHostIPValid(ip net.IP, ipv6Only bool) bool {
	v4 := ip.To4() != nil
	v6 := !v4
	if v6 && ip.To16() == nil {
		return false
	}
	if v4 && ipv6Only {
		return false
	}
	if ip.IsLoopback() {
		return false
	}
	if siteLocalIPv6.Contains(ip) {
		return false
	}
	if ip.IsLinkLocalUnicast() && v6 {
		return false
	}
	return true
}

// HostAddr is a host candidate address together with its derived
// local preference (the local_pref term of ice.Priority).
type HostAddr struct {
	IP              net.IP
	LocalPreference int
}

// singleIPAddrPreference is the RFC 8445 Section 5.1.2.1-recommended
// local preference when the host has exactly one usable address.
const singleIPAddrPreference = 65535

func isV6Only(addrs []Addr) bool {
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return false
		}
	}
	return true
}

func filterValid(gathered []Addr) []Addr {
	valid := make([]Addr, 0, len(gathered))
	v6Only := isV6Only(gathered)
	for _, a := range gathered {
		if IsHostIPValid(a.IP, v6Only) {
			valid = append(valid, a)
		}
	}
	return valid
}

// processDualStack implements RFC 8421's interleaving of IPv4/IPv6
// addresses by descending precedence so that neither family
// monopolizes the highest local preferences.
func processDualStack(all, v4, v6 []Addr) []HostAddr {
	v6InARow := 0
	nHi := (len(v6) + len(v4)) / len(v4)
	out := make([]HostAddr, 0, len(all))
	for i := 0; i < len(all); i++ {
		useV6 := true
		if v6InARow >= nHi {
			v6InARow = 0
			useV6 = false
		}
		pref := len(all) - i
		if useV6 && len(v6) > 0 {
			v6InARow++
			out = append(out, HostAddr{IP: v6[0].IP, LocalPreference: pref})
			v6 = v6[1:]
		} else if len(v4) > 0 {
			out = append(out, HostAddr{IP: v4[0].IP, LocalPreference: pref})
			v4 = v4[1:]
		}
	}
	return out
}

// HostAddresses derives ranked host addresses from gathered: single
// address gets the RFC 8445 max local preference, single-stack hosts
// rank by gathered order, and dual-stack hosts interleave via RFC 8421
// (spec.md §C supplements this since the distilled spec didn't specify
// multi-homed/dual-stack ranking).
func HostAddresses(gathered []Addr) ([]HostAddr, error) {
	if len(gathered) == 0 {
		return []HostAddr{}, nil
	}
	validOnly := filterValid(gathered)
	if len(validOnly) == 0 {
		return []HostAddr{}, nil
	}
	if len(validOnly) == 1 {
		return []HostAddr{{IP: validOnly[0].IP, LocalPreference: singleIPAddrPreference}}, nil
	}

	var v4Addrs, v6Addrs []Addr
	for _, a := range validOnly {
		if a.IP.To4() == nil {
			v6Addrs = append(v6Addrs, a)
		} else {
			v4Addrs = append(v4Addrs, a)
		}
	}
	if len(v4Addrs) == 0 || len(v6Addrs) == 0 {
		out := make([]HostAddr, 0, len(validOnly))
		for i, a := range validOnly {
			out = append(out, HostAddr{IP: a.IP, LocalPreference: len(validOnly) - i})
		}
		return out, nil
	}
	return processDualStack(validOnly, v4Addrs, v6Addrs), nil
}
