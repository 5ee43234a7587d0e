package ice

import (
	"net"
	"testing"
	"time"

	"gortc.io/iceagent/candidate"
	"gortc.io/iceagent/internal/stunattrs"
)

func TestStartConnectivityEstablishmentIsIdempotent(t *testing.T) {
	a := newTestAgent(t, true)
	a.SetRemoteCredentials(Credentials{Ufrag: "RUF", Password: "RPASS12345678901234"})
	s := a.AddStream("data")
	comp := s.Component(1)
	local := newHostCandidate(TransportAddress{IP: net.IPv4(10, 0, 0, 1), Port: 100, Transport: candidate.TransportUDP}, candidate.Host, 1, &nopPacketConn{})
	comp.AddLocal(local)
	a.AddRemoteCandidates(s, []RemoteCandidateDescriptor{
		{Foundation: "f1", ComponentID: 1, Transport: "udp", Priority: 100, Address: "10.0.0.2", Port: 200, Type: "host"},
	})

	a.StartConnectivityEstablishment()
	if a.State() != AgentRunning {
		t.Fatalf("expected the first call to move the agent to Running, got %v", a.State())
	}

	// A second call must be a no-op: it must not panic re-arming an
	// already-started pacemaker or re-publishing the state transition.
	var transitions int
	a.Subscribe(func(ev AgentEvent) {
		if ev.Kind == AgentEventStateChanged {
			transitions++
		}
	})
	a.StartConnectivityEstablishment()
	if transitions != 0 {
		t.Fatalf("expected a repeated StartConnectivityEstablishment call to publish nothing, got %d events", transitions)
	}
	if a.State() != AgentRunning {
		t.Fatalf("expected state to remain Running after the no-op call, got %v", a.State())
	}
}

func TestTieBreakerComparisonIsUnsigned(t *testing.T) {
	// RFC 8445 Section 7.1.1 mandates unsigned comparison of the 64-bit
	// tie-breaker; the high bit must not be read as a sign.
	const maxInt64AsUint64 = uint64(1) << 63
	if !(maxInt64AsUint64 > 1) {
		t.Fatal("sanity: unsigned comparison must treat the high bit as magnitude, not sign")
	}

	a := newTestAgent(t, true)
	// Pin our tie-breaker to 0 so the outcome does not depend on the
	// random value: read as unsigned, the peer's 2^63 is larger.
	a.tieBreaker = 0
	a.SetRemoteCredentials(Credentials{Ufrag: "RUF", Password: "RPASS12345678901234"})
	s := a.AddStream("data")
	comp := s.Component(1)
	conn := &recordingPacketConn{}
	local := newHostCandidate(TransportAddress{IP: net.IPv4(10, 0, 0, 1), Port: 100, Transport: candidate.TransportUDP}, candidate.Host, 1, conn)
	comp.AddLocal(local)

	username := usernameFor(a.LocalCredentials().Ufrag, a.RemoteCredentials().Ufrag)
	req := buildCheckRequest(t, username, a.LocalCredentials().Password, stunattrs.Priority(100), stunattrs.Controlling(maxInt64AsUint64))
	remote := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 200}
	a.handleIncomingRequest(req, conn, local.Base.Addr.UDPAddr(), remote)

	if a.Controlling() {
		t.Fatal("expected a peer tie-breaker of 2^63 to beat our tie-breaker of 0 and win the conflict")
	}
}

// TestBasicHostToHostConnectivityEstablishment runs two real Agents over
// loopback UDP sockets end to end: connectivity checks, the symmetric
// MESSAGE-INTEGRITY exchange, and nomination, with no mocks on the wire.
func TestBasicHostToHostConnectivityEstablishment(t *testing.T) {
	connA, addrA := listenLoopbackUDP(t)
	connB, addrB := listenLoopbackUDP(t)

	credA, err := GenerateCredentials(time.Now())
	if err != nil {
		t.Fatalf("GenerateCredentials A: %v", err)
	}
	credB, err := GenerateCredentials(time.Now())
	if err != nil {
		t.Fatalf("GenerateCredentials B: %v", err)
	}

	agentA, err := NewAgent(DefaultOptions(), true, credA, nil)
	if err != nil {
		t.Fatalf("NewAgent A: %v", err)
	}
	agentB, err := NewAgent(DefaultOptions(), false, credB, nil)
	if err != nil {
		t.Fatalf("NewAgent B: %v", err)
	}
	agentA.SetRemoteCredentials(credB)
	agentB.SetRemoteCredentials(credA)

	streamA := agentA.AddStream("data")
	streamB := agentB.AddStream("data")
	compA := streamA.Component(1)
	compB := streamB.Component(1)

	localA := newHostCandidate(TransportAddress{IP: addrA.IP, Port: addrA.Port, Transport: candidate.TransportUDP}, candidate.Host, 1, connA)
	localB := newHostCandidate(TransportAddress{IP: addrB.IP, Port: addrB.Port, Transport: candidate.TransportUDP}, candidate.Host, 1, connB)
	compA.AddLocal(localA)
	compB.AddLocal(localB)

	agentA.AddRemoteCandidates(streamA, []RemoteCandidateDescriptor{
		{Foundation: "fb", ComponentID: 1, Transport: "udp", Priority: localB.Priority, Address: addrB.IP.String(), Port: addrB.Port, Type: "host"},
	})
	agentB.AddRemoteCandidates(streamB, []RemoteCandidateDescriptor{
		{Foundation: "fa", ComponentID: 1, Transport: "udp", Priority: localA.Priority, Address: addrA.IP.String(), Port: addrA.Port, Type: "host"},
	})

	selectedA := make(chan *CandidatePair, 1)
	selectedB := make(chan *CandidatePair, 1)
	agentA.Subscribe(func(ev AgentEvent) {
		if ev.Kind == AgentEventSelectedPair {
			selectedA <- ev.Pair
		}
	})
	agentB.Subscribe(func(ev AgentEvent) {
		if ev.Kind == AgentEventSelectedPair {
			selectedB <- ev.Pair
		}
	})

	stopA := pumpInbound(t, agentA, connA)
	stopB := pumpInbound(t, agentB, connB)
	defer stopA()
	defer stopB()

	agentA.StartConnectivityEstablishment()
	agentB.StartConnectivityEstablishment()

	select {
	case p := <-selectedA:
		if p == nil {
			t.Fatal("controlling agent selected a nil pair")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the controlling agent to select a pair")
	}
	select {
	case p := <-selectedB:
		if p == nil {
			t.Fatal("controlled agent selected a nil pair")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the controlled agent to select a pair")
	}
}

func listenLoopbackUDP(t testing.TB) (*net.UDPConn, *net.UDPAddr) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, conn.LocalAddr().(*net.UDPAddr)
}

// pumpInbound relays packets arriving on conn into a's HandleInbound,
// the same wiring a real transport loop performs in production.
func pumpInbound(t testing.TB, a *Agent, conn *net.UDPConn) func() {
	t.Helper()
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 1500)
		for {
			conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
			n, remote, err := conn.ReadFromUDP(buf)
			select {
			case <-done:
				return
			default:
			}
			if err != nil {
				continue
			}
			a.HandleInbound(conn, conn.LocalAddr(), remote, buf[:n])
		}
	}()
	return func() { close(done) }
}
