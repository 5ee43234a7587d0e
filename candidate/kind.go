// Package candidate contains the common enumerations shared by every
// candidate representation in gortc.io/iceagent: the kind of candidate
// (host, server-reflexive, peer-reflexive, relayed) and its transport.
//
// Kept as its own package, mirroring the split the prior gortc/ice
// implementation used, so that the wire codec (sdp) and the harvesters
// (harvest) can depend on the vocabulary without pulling in the whole
// agent.
package candidate

// Kind encodes how a Candidate was discovered. Only the values defined
// by RFC 8445 Section 5.1.1 are in scope; the set is intentionally not
// extensible here (unlike the upstream RFC, which leaves room for
// future candidate types) because every consumer in this module
// switches over it exhaustively.
type Kind byte

// Recognized candidate kinds, ordered the way RFC 8445 Section 5.1.2.1
// orders their type preference: Host > PeerReflexive > ServerReflexive > Relayed.
const (
	Host Kind = iota
	PeerReflexive
	ServerReflexive
	Relayed
)

var kindStrings = map[Kind]string{
	Host:            "host",
	PeerReflexive:   "prflx",
	ServerReflexive: "srflx",
	Relayed:         "relay",
}

func (k Kind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return "unknown"
}

// TypePreference returns the RFC 8445 Section 5.1.2.1 recommended type
// preference for k. Values MUST be identical within a kind and
// strictly ordered Host > PeerReflexive > ServerReflexive > Relayed,
// which is enforced by ice.Priority's callers rather than here.
func (k Kind) TypePreference() int {
	switch k {
	case Host:
		return 126
	case PeerReflexive:
		return 110
	case ServerReflexive:
		return 100
	case Relayed:
		return 0
	default:
		return 0
	}
}

// DefaultPreference is the RFC 8445 Section 5.1.3.1 "default candidate"
// preference used by Component.SelectDefaultCandidate; higher wins.
// IPv4 vs IPv6 host preference is resolved by the caller, which is why
// Host doesn't appear here — see ice.defaultPreference.
func (k Kind) DefaultPreference() int {
	switch k {
	case Relayed:
		return 30
	case ServerReflexive:
		return 20
	default:
		return 0
	}
}

// TransportType is the transport protocol a candidate is reachable
// over. Only UDP is in scope for this module (spec non-goal: TCP-ICE).
type TransportType byte

// Supported transport types.
const (
	TransportUDP TransportType = iota
	TransportUnknown
)

func (t TransportType) String() string {
	switch t {
	case TransportUDP:
		return "udp"
	default:
		return "unknown"
	}
}
