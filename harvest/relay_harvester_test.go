package harvest

import (
	"net"
	"testing"

	ice "gortc.io/iceagent"
	"gortc.io/iceagent/candidate"
)

func TestNewRelayHarvester(t *testing.T) {
	foundations := ice.NewFoundationsRegistry()
	server := &net.UDPAddr{IP: net.IPv4(203, 0, 113, 1), Port: 3478}

	h := NewRelayHarvester(foundations, 1, server, "user", "pass")

	if h.Foundations != foundations {
		t.Errorf("unexpected foundations registry")
	}
	if h.ComponentID != 1 {
		t.Errorf("unexpected component id: %d", h.ComponentID)
	}
	if h.ServerAddr != server {
		t.Errorf("unexpected server address")
	}
	if h.Username != "user" || h.Password != "pass" {
		t.Errorf("unexpected credentials: %q/%q", h.Username, h.Password)
	}
	if h.Log == nil {
		t.Errorf("expected a non-nil default logger")
	}
}

// conn is a minimal net.Conn used to verify Allocation.Close delegates
// to the underlying connection without requiring a live TURN server
// (turn.Client's Allocate handshake is exercised only by the CLI
// against a real deployment, see DESIGN.md).
type closeTrackingConn struct {
	net.Conn
	closed bool
}

func (c *closeTrackingConn) Close() error {
	c.closed = true
	return nil
}

func TestAllocation_Close(t *testing.T) {
	conn := &closeTrackingConn{}
	a := &Allocation{conn: conn}

	if err := a.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if !conn.closed {
		t.Errorf("expected Close to delegate to the underlying connection")
	}
}

func TestAllocation_CandidateBeforePermission(t *testing.T) {
	a := &Allocation{}
	if got := a.Candidate(); got != nil {
		t.Errorf("expected nil candidate before any permission is created, got %v", got)
	}
}

// TestAllocation_CandidateAfterPermission exercises the candidate
// registration half of CreatePermission directly, without a live TURN
// exchange: it simulates what CreatePermission does once it has a
// relayed address, since driving turn.Client.Allocate/Create requires
// a real TURN server (the gap recorded in DESIGN.md).
func TestAllocation_CandidateAfterPermission(t *testing.T) {
	foundations := ice.NewFoundationsRegistry()
	comp := ice.NewComponent(1)
	base, conn := newTestHostCandidate(t, comp, foundations)
	defer conn.Close()

	relayed := ice.TransportAddress{IP: net.IPv4(203, 0, 113, 9), Port: 51000, Transport: candidate.TransportUDP}
	typePref := candidate.Relayed.TypePreference()
	priority := ice.Priority(typePref, localPreferenceOf(base), 1)
	foundation := foundations.Assign(candidate.Relayed, relayed.IP, candidate.TransportUDP, net.IPv4(203, 0, 113, 1))

	cand := ice.NewReflexiveCandidate(relayed, candidate.Relayed, base.Addr, base)
	cand.Priority = priority
	cand.Foundation = foundation
	comp.AddLocal(cand)

	a := &Allocation{base: base, comp: comp, candidate: cand}
	if got := a.Candidate(); got != cand {
		t.Errorf("expected Candidate() to return the registered relayed candidate")
	}
	if a.Candidate().Kind != candidate.Relayed {
		t.Errorf("expected Relayed kind, got %v", a.Candidate().Kind)
	}
}
