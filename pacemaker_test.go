package ice

import (
	"net"
	"testing"
	"time"

	"github.com/gortc/stun"

	"gortc.io/iceagent/candidate"
	"gortc.io/iceagent/internal/stunattrs"
	"gortc.io/iceagent/internal/transaction"
)

func newTestStunMessage(t *testing.T, method stun.Method, class stun.MessageClass) *stun.Message {
	t.Helper()
	m := stun.New()
	m.Type = stun.NewType(method, class)
	id, err := transaction.NewTransactionID()
	if err != nil {
		t.Fatalf("NewTransactionID: %v", err)
	}
	m.TransactionID = id
	m.WriteHeader()
	return m
}

// pacemakerFixture wires one Agent, stream, component and pending pair
// the way StartConnectivityEstablishment would have, without needing
// real sockets: enough surface for PaceMaker.handleResult.
type pacemakerFixture struct {
	agent *Agent
	pm    *PaceMaker
	pair  *CandidatePair
	conn  *recordingPacketConn
}

func newPacemakerFixture(t *testing.T, controlling bool) *pacemakerFixture {
	t.Helper()
	a := newTestAgent(t, controlling)
	a.SetRemoteCredentials(Credentials{Ufrag: "RUF", Password: "RPASS12345678901234"})

	s := a.AddStream("data")
	comp := s.Component(1)
	conn := &recordingPacketConn{}
	local := newHostCandidate(TransportAddress{IP: net.IPv4(10, 0, 0, 1), Port: 100, Transport: candidate.TransportUDP}, candidate.Host, 1, conn)
	local.component = comp
	remote := RemoteCandidate{Candidate: Candidate{Addr: TransportAddress{IP: net.IPv4(10, 0, 0, 2), Port: 200, Transport: candidate.TransportUDP}, ComponentID: 1}}
	pair := NewCandidatePair(local, remote, controlling)
	s.CheckList().AddPair(pair)
	pair.setState(Waiting, false)
	pair.setState(InProgress, false)

	pm := newPaceMaker(a, s.CheckList())
	return &pacemakerFixture{agent: a, pm: pm, pair: pair, conn: conn}
}

func TestPaceMakerHandleResultTimeoutMarksFailed(t *testing.T) {
	f := newPacemakerFixture(t, true)
	f.pm.handleResult(f.pair, time.Now(), transaction.Result{Timeout: true})
	if f.pair.State() != Failed {
		t.Fatalf("expected a timed-out check to mark the pair Failed, got %v", f.pair.State())
	}
}

func TestPaceMakerHandleResultDropsInvalidMessageIntegrity(t *testing.T) {
	f := newPacemakerFixture(t, true)

	m := newTestStunMessage(t, stun.MethodBinding, stun.ClassSuccessResponse)
	xma := stun.XORMappedAddress{IP: f.pair.Remote.Addr.IP, Port: f.pair.Remote.Addr.Port}
	if err := xma.AddTo(m); err != nil {
		t.Fatalf("AddTo XORMappedAddress: %v", err)
	}
	// Signed with the wrong password — must be rejected by
	// verifyResponseIntegrity and dropped without mutating pair state.
	if err := stun.NewShortTermIntegrity("not-the-real-password").AddTo(m); err != nil {
		t.Fatalf("AddTo integrity: %v", err)
	}
	if err := stun.Fingerprint.AddTo(m); err != nil {
		t.Fatalf("AddTo fingerprint: %v", err)
	}

	remoteAddr := f.pair.Remote.Addr.UDPAddr()
	localAddr := f.pair.Local.Base.Addr.UDPAddr()
	f.pm.handleResult(f.pair, time.Now(), transaction.Result{Message: m, Local: localAddr, Remote: remoteAddr})

	if f.pair.State() != InProgress {
		t.Fatalf("expected a response with invalid MESSAGE-INTEGRITY to be silently dropped (pair state untouched), got %v", f.pair.State())
	}
}

func TestPaceMakerHandleResultAsymmetricResponseFailsPair(t *testing.T) {
	f := newPacemakerFixture(t, true)

	m := newTestStunMessage(t, stun.MethodBinding, stun.ClassSuccessResponse)
	xma := stun.XORMappedAddress{IP: f.pair.Remote.Addr.IP, Port: f.pair.Remote.Addr.Port}
	if err := xma.AddTo(m); err != nil {
		t.Fatalf("AddTo XORMappedAddress: %v", err)
	}
	if err := stun.NewShortTermIntegrity(f.agent.RemoteCredentials().Password).AddTo(m); err != nil {
		t.Fatalf("AddTo integrity: %v", err)
	}
	if err := stun.Fingerprint.AddTo(m); err != nil {
		t.Fatalf("AddTo fingerprint: %v", err)
	}

	var gotErr error
	f.agent.Subscribe(func(ev AgentEvent) {
		if ev.Kind == AgentEventError {
			gotErr = ev.Err
		}
	})

	// Response arrives from a different source address than the
	// pair's remote — the spec.md §4.5 symmetry check must fail it.
	wrongSource := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 99), Port: 9999}
	localAddr := f.pair.Local.Base.Addr.UDPAddr()
	f.pm.handleResult(f.pair, time.Now(), transaction.Result{Message: m, Local: localAddr, Remote: wrongSource})

	if f.pair.State() != Failed {
		t.Fatalf("expected an asymmetric response to fail the pair, got %v", f.pair.State())
	}
	if !IsKind(gotErr, AsymmetricResponse) {
		t.Fatalf("expected an AsymmetricResponse event to be published, got %v", gotErr)
	}
}

func TestPaceMakerHandleResultRoleConflictTogglesControllingAndRetries(t *testing.T) {
	f := newPacemakerFixture(t, true)
	before := f.agent.Controlling()

	m := newTestStunMessage(t, stun.MethodBinding, stun.ClassErrorResponse)
	if err := (&stun.ErrorCodeAttribute{Code: stunattrs.RoleConflict}).AddTo(m); err != nil {
		t.Fatalf("AddTo ErrorCodeAttribute: %v", err)
	}
	if err := stun.NewShortTermIntegrity(f.agent.RemoteCredentials().Password).AddTo(m); err != nil {
		t.Fatalf("AddTo integrity: %v", err)
	}
	if err := stun.Fingerprint.AddTo(m); err != nil {
		t.Fatalf("AddTo fingerprint: %v", err)
	}

	remoteAddr := f.pair.Remote.Addr.UDPAddr()
	localAddr := f.pair.Local.Base.Addr.UDPAddr()
	f.pm.handleResult(f.pair, time.Now(), transaction.Result{Message: m, Local: localAddr, Remote: remoteAddr})

	if f.agent.Controlling() == before {
		t.Fatal("expected a 487 Role Conflict response to toggle the agent's controlling role")
	}
}

func TestPaceMakerHandleResultSuccessNominatesWhenUseCandidateSent(t *testing.T) {
	f := newPacemakerFixture(t, true)
	f.pair.markUseCandidateSent()

	var selected *CandidatePair
	f.agent.Subscribe(func(ev AgentEvent) {
		if ev.Kind == AgentEventSelectedPair {
			selected = ev.Pair
		}
	})

	m := newTestStunMessage(t, stun.MethodBinding, stun.ClassSuccessResponse)
	// XOR-MAPPED-ADDRESS carries how the peer observed OUR address —
	// in this no-NAT fixture, exactly the local base's own address.
	xma := stun.XORMappedAddress{IP: f.pair.Local.Base.Addr.IP, Port: f.pair.Local.Base.Addr.Port}
	if err := xma.AddTo(m); err != nil {
		t.Fatalf("AddTo XORMappedAddress: %v", err)
	}
	if err := stun.NewShortTermIntegrity(f.agent.RemoteCredentials().Password).AddTo(m); err != nil {
		t.Fatalf("AddTo integrity: %v", err)
	}
	if err := stun.Fingerprint.AddTo(m); err != nil {
		t.Fatalf("AddTo fingerprint: %v", err)
	}

	remoteAddr := f.pair.Remote.Addr.UDPAddr()
	localAddr := f.pair.Local.Base.Addr.UDPAddr()
	f.pm.handleResult(f.pair, time.Now(), transaction.Result{Message: m, Local: localAddr, Remote: remoteAddr})

	if f.pair.State() != Succeeded {
		t.Fatalf("expected a valid success response to move the pair to Succeeded, got %v", f.pair.State())
	}
	if selected != f.pair {
		t.Fatalf("expected nominationConfirmed to fire and select this pair, got %+v", selected)
	}
}
