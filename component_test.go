package ice

import (
	"net"
	"testing"

	"gortc.io/iceagent/candidate"
)

func TestComponentAddLocalRejectsRedundant(t *testing.T) {
	c := NewComponent(1)
	conn := &nopPacketConn{}
	host := newHostCandidate(TransportAddress{IP: net.IPv4(1, 2, 3, 4), Port: 100}, candidate.Host, 1, conn)

	if !c.AddLocal(host) {
		t.Fatal("expected the first candidate to be accepted")
	}
	if c.AddLocal(host) {
		t.Fatal("expected the same transport address/base to be rejected as redundant")
	}
	if got := len(c.LocalCandidates()); got != 1 {
		t.Fatalf("expected exactly one local candidate to be stored, got %d", got)
	}
}

func TestComponentAddLocalSortsByDescendingPriority(t *testing.T) {
	c := NewComponent(1)
	low := newHostCandidate(TransportAddress{IP: net.IPv4(1, 2, 3, 4), Port: 100}, candidate.Host, 1, &nopPacketConn{})
	low.Priority = 10
	high := newHostCandidate(TransportAddress{IP: net.IPv4(1, 2, 3, 5), Port: 101}, candidate.Host, 1, &nopPacketConn{})
	high.Priority = 20

	c.AddLocal(low)
	c.AddLocal(high)

	locals := c.LocalCandidates()
	if len(locals) != 2 || locals[0] != high || locals[1] != low {
		t.Fatalf("expected candidates sorted by descending priority, got %+v", locals)
	}
}

func TestComponentSelectDefaultCandidate(t *testing.T) {
	c := NewComponent(1)
	hostCand := newHostCandidate(TransportAddress{IP: net.IPv4(1, 2, 3, 4), Port: 100}, candidate.Host, 1, &nopPacketConn{})
	relayCand := newReflexiveCandidate(TransportAddress{IP: net.IPv4(9, 9, 9, 9), Port: 200}, candidate.Relayed, TransportAddress{}, hostCand)

	c.AddLocal(hostCand)
	c.AddLocal(relayCand)

	best := c.SelectDefaultCandidate()
	if best != relayCand {
		t.Fatalf("expected the Relayed candidate to win default-candidate selection, got %+v", best)
	}
}

func TestComponentSucceededPairsAndSelected(t *testing.T) {
	c := NewComponent(1)
	if c.Selected() != nil {
		t.Fatal("expected a fresh component to have no selected pair")
	}

	p := newTestPair(t, 1, 2)
	c.MarkSucceeded(p)
	if got := c.SucceededPairs(); len(got) != 1 || got[0] != p {
		t.Fatalf("expected SucceededPairs to report the marked pair, got %+v", got)
	}

	c.SetSelected(p)
	if c.Selected() != p {
		t.Fatal("expected Selected() to return the pair set via SetSelected")
	}
}

func TestComponentFreeClosesEveryOwnedSocket(t *testing.T) {
	c := NewComponent(1)
	hostConn := &nopPacketConn{}
	hostCand := newHostCandidate(TransportAddress{IP: net.IPv4(1, 2, 3, 4), Port: 100}, candidate.Host, 1, hostConn)
	relayConn := &nopPacketConn{}
	relayCand := newHostCandidate(TransportAddress{IP: net.IPv4(9, 9, 9, 9), Port: 200}, candidate.Relayed, 1, relayConn)

	c.AddLocal(hostCand)
	c.AddLocal(relayCand)

	if err := c.Free(); err != nil {
		t.Fatalf("unexpected error from Free: %v", err)
	}
	if !hostConn.closed || !relayConn.closed {
		t.Fatal("expected Free to close every owned socket")
	}
}
