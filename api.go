package ice

import (
	"net"
	"strings"

	"gortc.io/iceagent/candidate"
)

func parseIP(s string) net.IP {
	return net.ParseIP(s)
}

func transportFromString(s string) candidate.TransportType {
	if strings.EqualFold(s, "udp") {
		return candidate.TransportUDP
	}
	return candidate.TransportUnknown
}

func kindFromString(s string) candidate.Kind {
	switch strings.ToLower(s) {
	case "host":
		return candidate.Host
	case "srflx":
		return candidate.ServerReflexive
	case "prflx":
		return candidate.PeerReflexive
	case "relay":
		return candidate.Relayed
	default:
		return candidate.Host
	}
}

// RemoteCandidateDescriptor is the offer/answer-boundary shape of a
// remote candidate (spec.md §6.5): (foundation, component-id,
// transport, priority, address, port, type, rel-addr?, rel-port?).
type RemoteCandidateDescriptor struct {
	Foundation  string
	ComponentID int
	Transport   string
	Priority    uint32
	Address     string
	Port        int
	Type        string
	RelAddress  string
	RelPort     int
}

// AddRemoteCandidates is the non-blocking control-plane entry point of
// spec.md §5: it records descs against stream's components, forms the
// cross-product of pairs (§4.3), and — for trickle updates arriving
// after the stream's check list already has pairs — deduplicates
// against existing remote candidates by (transport address, type)
// before queuing them as remote updates (§6.5).
func (a *Agent) AddRemoteCandidates(stream *Stream, descs []RemoteCandidateDescriptor) {
	byComponent := make(map[int][]RemoteCandidate)
	for _, d := range descs {
		rc := RemoteCandidate{Candidate: Candidate{
			Addr:        TransportAddress{IP: parseIP(d.Address), Port: d.Port, Transport: transportFromString(d.Transport)},
			Kind:        kindFromString(d.Type),
			Priority:    d.Priority,
			Foundation:  d.Foundation,
			ComponentID: d.ComponentID,
		}}
		if d.RelAddress != "" {
			rc.Related = TransportAddress{IP: parseIP(d.RelAddress), Port: d.RelPort, Transport: rc.Addr.Transport}
		}
		byComponent[d.ComponentID] = append(byComponent[d.ComponentID], rc)
	}

	trickling := stream.CheckList().Pairs() != nil && len(stream.CheckList().Pairs()) > 0

	for cid, cands := range byComponent {
		comp := stream.Component(cid)
		for _, rc := range cands {
			if trickling {
				duplicate := false
				for _, existing := range comp.RemoteCandidates() {
					if existing.Addr.Equal(rc.Addr) && existing.Kind == rc.Kind {
						duplicate = true
						break
					}
				}
				if duplicate {
					continue
				}
				comp.AddRemote(rc)
				comp.QueueRemoteUpdate(rc)
				continue
			}
			comp.AddRemote(rc)
		}
		stream.FormPairs(comp, a.Controlling())
	}
}

// Nominate is the manual-nomination entry point used when the agent is
// configured with NominateNone (spec.md §4.8): the application selects
// pair explicitly.
func (a *Agent) Nominate(pair *CandidatePair) {
	a.nominationConfirmed(pair)
}

// GetSelectedPair returns the pair selected for comp, or nil if
// nomination hasn't completed yet.
func (a *Agent) GetSelectedPair(comp *Component) *CandidatePair {
	return comp.Selected()
}
