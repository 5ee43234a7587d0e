package ice

import (
	"net"
	"testing"

	"gortc.io/iceagent/candidate"
)

type nopPacketConn struct {
	net.PacketConn
	closed bool
}

func (c *nopPacketConn) Close() error {
	c.closed = true
	return nil
}

func TestPriorityEncoding(t *testing.T) {
	p := Priority(126, 65535, 1)
	// RFC 8445 Section 5.1.2.1: (type_pref<<24) | (local_pref<<8) | (256-component_id)
	want := uint32(126)<<24 | uint32(65535)<<8 | uint32(255)
	if p != want {
		t.Fatalf("Priority(126, 65535, 1) = %d, want %d", p, want)
	}
}

func TestPriorityOrdersByTypePreference(t *testing.T) {
	host := Priority(candidate.Host.TypePreference(), 0, 1)
	srflx := Priority(candidate.ServerReflexive.TypePreference(), 65535, 1)
	if host <= srflx {
		t.Fatalf("expected a Host candidate to outrank a ServerReflexive one regardless of local preference, got %d <= %d", host, srflx)
	}
}

func TestCandidateEqual(t *testing.T) {
	a := Candidate{Addr: TransportAddress{IP: net.IPv4(1, 2, 3, 4), Port: 100, Transport: candidate.TransportUDP}, Kind: candidate.Host, ComponentID: 1}
	b := a
	if !a.Equal(b) {
		t.Fatal("expected identical candidates to be Equal")
	}
	b.ComponentID = 2
	if a.Equal(b) {
		t.Fatal("expected candidates differing by component id to be unequal")
	}
}

func TestLocalCandidateConnWalksToBase(t *testing.T) {
	conn := &nopPacketConn{}
	host := newHostCandidate(TransportAddress{IP: net.IPv4(1, 2, 3, 4), Port: 100}, candidate.Host, 1, conn)
	if host.Conn() != conn {
		t.Fatal("expected a self-based candidate's Conn() to return its own socket")
	}

	srflx := newReflexiveCandidate(TransportAddress{IP: net.IPv4(5, 6, 7, 8), Port: 200}, candidate.ServerReflexive, TransportAddress{}, host)
	if srflx.Conn() != conn {
		t.Fatal("expected a reflexive candidate's Conn() to walk up to its base's socket")
	}
}

func TestLocalCandidateFreeIsNoopForNonOwning(t *testing.T) {
	conn := &nopPacketConn{}
	host := newHostCandidate(TransportAddress{IP: net.IPv4(1, 2, 3, 4), Port: 100}, candidate.Host, 1, conn)
	srflx := newReflexiveCandidate(TransportAddress{IP: net.IPv4(5, 6, 7, 8), Port: 200}, candidate.ServerReflexive, TransportAddress{}, host)

	if err := srflx.free(); err != nil {
		t.Fatalf("unexpected error freeing a non-owning candidate: %v", err)
	}
	if conn.closed {
		t.Fatal("expected a reflexive candidate's free() not to close its base's socket")
	}
	if err := host.free(); err != nil {
		t.Fatalf("unexpected error freeing the owning candidate: %v", err)
	}
	if !conn.closed {
		t.Fatal("expected the owning candidate's free() to close its socket")
	}
}

func TestLocalCandidateSameBaseAndAddr(t *testing.T) {
	conn := &nopPacketConn{}
	host := newHostCandidate(TransportAddress{IP: net.IPv4(1, 2, 3, 4), Port: 100}, candidate.Host, 1, conn)
	dup := newHostCandidate(TransportAddress{IP: net.IPv4(1, 2, 3, 4), Port: 100}, candidate.Host, 1, conn)
	// Separate object but would require a separate base; compare against
	// itself for the "same base and addr" positive case instead.
	if !host.sameBaseAndAddr(host) {
		t.Fatal("expected a candidate to match itself")
	}
	if host.sameBaseAndAddr(dup) {
		t.Fatal("expected two distinct LocalCandidate objects (distinct bases) not to be considered the same")
	}
}

func TestDefaultPreferenceOrdering(t *testing.T) {
	relay := Candidate{Kind: candidate.Relayed}
	srflx := Candidate{Kind: candidate.ServerReflexive}
	hostV4 := Candidate{Kind: candidate.Host, Addr: TransportAddress{IP: net.IPv4(1, 2, 3, 4)}}
	hostV6 := Candidate{Kind: candidate.Host, Addr: TransportAddress{IP: net.ParseIP("2001:db8::1")}}
	prflx := Candidate{Kind: candidate.PeerReflexive}

	if !(defaultPreference(relay) > defaultPreference(srflx) &&
		defaultPreference(srflx) > defaultPreference(hostV4) &&
		defaultPreference(hostV4) > defaultPreference(hostV6) &&
		defaultPreference(hostV6) > defaultPreference(prflx)) {
		t.Fatalf("unexpected default-candidate preference ordering: relay=%d srflx=%d hostV4=%d hostV6=%d prflx=%d",
			defaultPreference(relay), defaultPreference(srflx), defaultPreference(hostV4), defaultPreference(hostV6), defaultPreference(prflx))
	}
}
