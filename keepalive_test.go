package ice

import (
	"net"
	"testing"
	"time"

	"gortc.io/iceagent/candidate"
)

type recordingPacketConn struct {
	net.PacketConn
	writes []net.Addr
}

func (c *recordingPacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	c.writes = append(c.writes, addr)
	return len(b), nil
}

func (c *recordingPacketConn) Close() error { return nil }

func TestKeepAlivePairsSelectedOnly(t *testing.T) {
	s := NewStream("data", 10)
	comp := s.Component(1)
	local := newHostCandidate(TransportAddress{IP: net.IPv4(10, 0, 0, 1), Port: 100}, candidate.Host, 1, &nopPacketConn{})
	local.component = comp
	remote := RemoteCandidate{Candidate: Candidate{Addr: TransportAddress{IP: net.IPv4(10, 0, 0, 2), Port: 200}, ComponentID: 1}}
	pair := NewCandidatePair(local, remote, true)
	comp.SetSelected(pair)

	got := KeepAlivePairs(comp, SelectedOnly)
	if len(got) != 1 || got[0] != pair {
		t.Fatalf("expected SelectedOnly to return just the selected pair, got %+v", got)
	}

	if got := KeepAlivePairs(comp, SelectedAndTcp); len(got) != 1 || got[0] != pair {
		t.Fatalf("expected SelectedAndTcp to degenerate to SelectedOnly, got %+v", got)
	}
}

func TestKeepAlivePairsSelectedOnlyWithoutSelectionIsEmpty(t *testing.T) {
	s := NewStream("data", 10)
	comp := s.Component(1)
	if got := KeepAlivePairs(comp, SelectedOnly); got != nil {
		t.Fatalf("expected no keep-alive pairs before a selection exists, got %+v", got)
	}
}

func TestKeepAlivePairsAllSucceeded(t *testing.T) {
	s := NewStream("data", 10)
	comp := s.Component(1)
	local1 := newHostCandidate(TransportAddress{IP: net.IPv4(10, 0, 0, 1), Port: 100}, candidate.Host, 1, &nopPacketConn{})
	local1.component = comp
	remote1 := RemoteCandidate{Candidate: Candidate{Addr: TransportAddress{IP: net.IPv4(10, 0, 0, 2), Port: 200}, ComponentID: 1}}
	p1 := NewCandidatePair(local1, remote1, true)

	local2 := newHostCandidate(TransportAddress{IP: net.IPv4(10, 0, 0, 1), Port: 101}, candidate.Host, 1, &nopPacketConn{})
	local2.component = comp
	remote2 := RemoteCandidate{Candidate: Candidate{Addr: TransportAddress{IP: net.IPv4(10, 0, 0, 3), Port: 201}, ComponentID: 1}}
	p2 := NewCandidatePair(local2, remote2, true)

	comp.MarkSucceeded(p1)
	comp.MarkSucceeded(p2)

	got := KeepAlivePairs(comp, AllSucceeded)
	if len(got) != 2 {
		t.Fatalf("expected AllSucceeded to return every succeeded pair, got %d", len(got))
	}
}

func TestSendKeepAliveIndicationWritesToRemoteAddr(t *testing.T) {
	a := newTestAgent(t, true)
	conn := &recordingPacketConn{}
	local := newHostCandidate(TransportAddress{IP: net.IPv4(10, 0, 0, 1), Port: 100}, candidate.Host, 1, conn)
	remote := RemoteCandidate{Candidate: Candidate{Addr: TransportAddress{IP: net.IPv4(10, 0, 0, 2), Port: 200}, ComponentID: 1}}
	pair := NewCandidatePair(local, remote, true)

	a.sendKeepAliveIndication(pair, "test-agent")

	if len(conn.writes) != 1 {
		t.Fatalf("expected exactly one keep-alive write, got %d", len(conn.writes))
	}
	want := remote.Addr.UDPAddr()
	got, ok := conn.writes[0].(*net.UDPAddr)
	if !ok || got.String() != want.String() {
		t.Fatalf("expected the keep-alive indication to be sent to %v, got %v", want, conn.writes[0])
	}
}

func TestSendKeepAliveIndicationSkipsPairWithoutSocket(t *testing.T) {
	a := newTestAgent(t, true)
	local := &LocalCandidate{Candidate: Candidate{ComponentID: 1}}
	remote := RemoteCandidate{Candidate: Candidate{Addr: TransportAddress{IP: net.IPv4(10, 0, 0, 2), Port: 200}, ComponentID: 1}}
	pair := NewCandidatePair(local, remote, true)

	// Must not panic when the candidate owns no socket (e.g. a base-less
	// synthesized candidate never assigned a Conn).
	a.sendKeepAliveIndication(pair, "test-agent")
}

func TestStartStopKeepAliveIsIdempotent(t *testing.T) {
	a := newTestAgent(t, true)
	o := a.config()
	o.KeepAliveInterval = 10 * time.Millisecond
	a.SetOptions(o)

	a.startKeepAlive()
	a.startKeepAlive() // second call must be a no-op, not a second ticker goroutine
	time.Sleep(25 * time.Millisecond)
	a.stopKeepAlive()
	a.stopKeepAlive() // idempotent on the other side too
}
