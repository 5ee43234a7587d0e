package ice

import (
	"net"

	"gortc.io/iceagent/candidate"
)

// Priority computes the RFC 8445 Section 5.1.2.1 candidate priority:
//
//	priority = (type_pref << 24) | (local_pref << 8) | (256 - component_id)
//
// typePref MUST be identical for all candidates of the same Kind and
// strictly ordered Host > PeerReflexive > ServerReflexive > Relayed —
// see candidate.Kind.TypePreference, which is the only caller expected
// to supply it in production code; tests may pass other values to
// exercise peer-reflexive synthesis (spec.md §4.5's "priority = the
// PRIORITY attribute sent in the request").
func Priority(typePref, localPref, componentID int) uint32 {
	return uint32(typePref)<<24 | uint32(localPref)<<8 | uint32(256-componentID)
}

// Candidate is the common representation shared by LocalCandidate and
// RemoteCandidate (spec.md §3).
type Candidate struct {
	Addr        TransportAddress
	Kind        candidate.Kind
	Priority    uint32
	Foundation  string
	Related     TransportAddress // related/mapped address, if any
	ComponentID int
}

// Equal reports whether c and o have the same transport address, kind
// and component id. Pair equality (spec.md §3 CandidatePair) is defined
// over transport addresses only; this is stricter than that, but other
// fields such as priority, foundation and base are not compared.
func (c Candidate) Equal(o Candidate) bool {
	return c.Addr.Equal(o.Addr) && c.Kind == o.Kind && c.ComponentID == o.ComponentID
}

// LocalCandidate specializes Candidate with socket ownership: either it
// owns a socket handle directly (Host, Relayed) or it holds a
// non-owning reference to its Base's socket (ServerReflexive,
// PeerReflexive), per spec.md §3/§5 ("reflexive/relayed locals hold
// non-owning references to the host socket and must not close it on
// their own free()").
type LocalCandidate struct {
	Candidate

	// Base is the candidate this one was learned from. Host and
	// Relayed candidates are self-based.
	Base *LocalCandidate

	component *Component

	// conn is non-nil only when this candidate owns the socket, i.e.
	// Base == this.
	conn net.PacketConn
}

// newHostCandidate constructs a self-based Host (or Relayed) local
// candidate owning conn.
func newHostCandidate(addr TransportAddress, kind candidate.Kind, componentID int, conn net.PacketConn) *LocalCandidate {
	lc := &LocalCandidate{
		Candidate: Candidate{Addr: addr, Kind: kind, ComponentID: componentID},
		conn:      conn,
	}
	lc.Base = lc
	return lc
}

// NewHostCandidate is the exported form of newHostCandidate, used by
// the harvest package to construct Host and Relayed candidates that
// own their own socket.
func NewHostCandidate(addr TransportAddress, kind candidate.Kind, componentID int, conn net.PacketConn) *LocalCandidate {
	return newHostCandidate(addr, kind, componentID, conn)
}

// newReflexiveCandidate constructs a reflexive/relayed candidate whose
// socket is shared with base.
func newReflexiveCandidate(addr TransportAddress, kind candidate.Kind, related TransportAddress, base *LocalCandidate) *LocalCandidate {
	return &LocalCandidate{
		Candidate: Candidate{
			Addr:        addr,
			Kind:        kind,
			ComponentID: base.ComponentID,
			Related:     related,
		},
		Base: base,
	}
}

// NewReflexiveCandidate is the exported form of newReflexiveCandidate,
// used by the harvest package to construct ServerReflexive/Relayed
// candidates sharing a Host candidate's socket.
func NewReflexiveCandidate(addr TransportAddress, kind candidate.Kind, related TransportAddress, base *LocalCandidate) *LocalCandidate {
	return newReflexiveCandidate(addr, kind, related, base)
}

// Conn returns the socket to use for this candidate: its own if owned,
// otherwise its Base's.
func (l *LocalCandidate) Conn() net.PacketConn {
	if l.conn != nil {
		return l.conn
	}
	if l.Base != nil && l.Base != l {
		return l.Base.Conn()
	}
	return nil
}

// sameBaseAndAddr reports whether l is redundant with o: same
// transport address AND same base (spec.md §4.1 add_local contract).
func (l *LocalCandidate) sameBaseAndAddr(o *LocalCandidate) bool {
	if !l.Addr.Equal(o.Addr) {
		return false
	}
	return l.Base == o.Base
}

// free releases the socket this candidate owns, if any. Non-owning
// (reflexive/relayed-over-host) candidates are no-ops, matching the
// "must not close it on their own free()" invariant.
func (l *LocalCandidate) free() error {
	if l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

// RemoteCandidate is the peer-reported form of a candidate; it never
// owns a socket (spec.md §3).
type RemoteCandidate struct {
	Candidate

	// Foundation as reported by the peer, or synthesized locally from
	// FoundationsRegistry's peer-reflexive counter when this candidate
	// was discovered through an incoming request rather than offer/answer.
}

// defaultPreference implements the RFC 8445 Section 5.1.3.1 "default
// candidate" ranking used by Component.SelectDefaultCandidate
// (spec.md §4.1): Relayed=30, ServerReflexive=20, Host=15 for IPv4 /
// 10 for IPv6, else 5.
func defaultPreference(c Candidate) int {
	switch c.Kind {
	case candidate.Relayed:
		return 30
	case candidate.ServerReflexive:
		return 20
	case candidate.Host:
		if c.Addr.IP.To4() != nil {
			return 15
		}
		return 10
	default:
		return 5
	}
}
