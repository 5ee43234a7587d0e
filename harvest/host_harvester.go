package harvest

import (
	"net"

	reuseport "github.com/libp2p/go-reuseport"

	ice "gortc.io/iceagent"
	"gortc.io/iceagent/candidate"
)

// HostHarvester gathers Host candidates for a component: one per
// ranked local address, each bound to its own UDP socket via
// go-reuseport so the operating system can hand back the exact
// source address a later re-harvest needs (spec.md §6.3
// use_dynamic_host_harvester).
type HostHarvester struct {
	Gatherer    Gatherer
	Foundations *ice.FoundationsRegistry
	ComponentID int
}

// NewHostHarvester returns a harvester using DefaultGatherer.
func NewHostHarvester(foundations *ice.FoundationsRegistry, componentID int) *HostHarvester {
	return &HostHarvester{Gatherer: DefaultGatherer, Foundations: foundations, ComponentID: componentID}
}

// Harvest gathers and binds one Host candidate per ranked local
// address, adding each to comp. Returns the bound candidates;
// partially-successful gathers (some addresses fail to bind) are not
// an error, matching spec.md §7's "reject; agent remains in Waiting"
// disposition applying only when nothing could be bound at all.
func (h *HostHarvester) Harvest(comp *ice.Component) ([]*ice.LocalCandidate, error) {
	gathered, err := h.Gatherer.Gather()
	if err != nil {
		return nil, ice.NewError(ice.AddressInUse, "failed to gather local addresses", err)
	}
	ranked, err := HostAddresses(gathered)
	if err != nil {
		return nil, ice.NewError(ice.AddressInUse, "failed to rank local addresses", err)
	}

	var out []*ice.LocalCandidate
	for _, addr := range ranked {
		conn, err := reuseport.ListenPacket("udp", net.JoinHostPort(addr.IP.String(), "0"))
		if err != nil {
			continue
		}
		port := 0
		if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			port = ua.Port
		}
		transportAddr := ice.TransportAddress{IP: addr.IP, Port: port, Transport: candidate.TransportUDP}

		typePref := candidate.Host.TypePreference()
		priority := ice.Priority(typePref, addr.LocalPreference, h.ComponentID)
		foundation := h.Foundations.Assign(candidate.Host, addr.IP, candidate.TransportUDP, nil)

		cand := ice.NewHostCandidate(transportAddr, candidate.Host, h.ComponentID, conn)
		cand.Priority = priority
		cand.Foundation = foundation

		if comp.AddLocal(cand) {
			out = append(out, cand)
		} else {
			_ = conn.Close()
		}
	}
	if len(out) == 0 {
		return nil, ice.NewError(ice.AddressInUse, "no host address could be bound", nil)
	}
	return out, nil
}
