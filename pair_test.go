package ice

import (
	"net"
	"testing"

	"gortc.io/iceagent/candidate"
)

func newTestPair(t *testing.T, localPort, remotePort int) *CandidatePair {
	t.Helper()
	local := &LocalCandidate{Candidate: Candidate{
		Addr: TransportAddress{IP: net.IPv4(10, 0, 0, 1), Port: localPort, Transport: candidate.TransportUDP},
		Kind: candidate.Host, Foundation: "1",
	}}
	local.Base = local
	remote := RemoteCandidate{Candidate: Candidate{
		Addr: TransportAddress{IP: net.IPv4(10, 0, 0, 2), Port: remotePort, Transport: candidate.TransportUDP},
		Kind: candidate.Host, Foundation: "2",
	}}
	return NewCandidatePair(local, remote, true)
}

func TestPairPriorityUnsigned64BitTieBreak(t *testing.T) {
	// RFC 8445 Section 6.1.2.3's formula must be evaluated with
	// unsigned 64-bit arithmetic: G/D values near 2^32 must not
	// overflow into a smaller priority than a pair with smaller G/D.
	const maxUint32 = ^uint32(0)
	big := PairPriority(maxUint32, maxUint32)
	small := PairPriority(1, 1)
	if big <= small {
		t.Fatalf("expected a pair of max-uint32 priorities to outrank a pair of (1,1), got %d <= %d", big, small)
	}

	// min/max ordering: priority must treat the controlling/controlled
	// roles symmetrically under the min/max swap, not the argument order.
	p1 := PairPriority(10, 20)
	p2 := PairPriority(20, 10)
	if p1 == p2 {
		// Equal is wrong: the tie-break term (G>D?1:0) must differ.
		t.Fatalf("expected PairPriority(10,20) != PairPriority(20,10) due to the tie-break bit, got %d", p1)
	}
	if p2 != p1+1 {
		t.Fatalf("expected swapping G/D to only flip the low tie-break bit: got %d and %d", p1, p2)
	}
}

func TestValidTransitionTable(t *testing.T) {
	cases := []struct {
		from, to PairState
		want     bool
	}{
		{Frozen, Waiting, true},
		{Frozen, Frozen, true},
		{Frozen, InProgress, false},
		{Frozen, Succeeded, false},
		{Waiting, InProgress, true},
		{Waiting, Failed, true},
		{Waiting, Succeeded, false},
		{InProgress, Succeeded, true},
		{InProgress, Failed, true},
		{InProgress, InProgress, true},
		{InProgress, Waiting, false},
		{Succeeded, Succeeded, true},
		{Succeeded, Failed, false},
		{Failed, Failed, true},
		{Failed, Waiting, false}, // legal only through the allowFailedToWaiting exception
	}
	for _, c := range cases {
		if got := validTransition(c.from, c.to); got != c.want {
			t.Errorf("validTransition(%v, %v) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestCandidatePairSetStateRejectsIllegalTransition(t *testing.T) {
	p := newTestPair(t, 1, 2)
	if !p.setState(Waiting, false) {
		t.Fatal("expected Frozen -> Waiting to succeed")
	}
	if p.setState(Succeeded, false) {
		t.Fatal("expected Waiting -> Succeeded to be rejected")
	}
	if p.State() != Waiting {
		t.Fatalf("rejected transition must not mutate state, got %v", p.State())
	}
}

func TestCandidatePairSetStateFailedToWaitingRequiresFlag(t *testing.T) {
	p := newTestPair(t, 1, 2)
	p.setState(Waiting, false)
	p.setState(InProgress, false)
	p.setState(Failed, false)

	if p.setState(Waiting, false) {
		t.Fatal("expected Failed -> Waiting to be rejected without allowFailedToWaiting")
	}
	if !p.setState(Waiting, true) {
		t.Fatal("expected Failed -> Waiting to succeed with allowFailedToWaiting (triggered check revival)")
	}
	if p.State() != Waiting {
		t.Fatalf("expected pair to be revived to Waiting, got %v", p.State())
	}
}

func TestCandidatePairEqualComparesTransportAddressesOnly(t *testing.T) {
	a := newTestPair(t, 5000, 6000)
	b := newTestPair(t, 5000, 6000)
	if !a.Equal(b) {
		t.Fatal("expected pairs with identical local/remote transport addresses to be Equal")
	}

	c := newTestPair(t, 5001, 6000)
	if a.Equal(c) {
		t.Fatal("expected pairs with different local addresses to be unequal")
	}
}

func TestCandidatePairFoundationConcatenatesMemberFoundations(t *testing.T) {
	p := newTestPair(t, 1, 2)
	if got, want := p.Foundation(), "12"; got != want {
		t.Fatalf("Foundation() = %q, want %q", got, want)
	}
}

func TestCandidatePairNominationFlags(t *testing.T) {
	p := newTestPair(t, 1, 2)
	if p.Nominated() {
		t.Fatal("expected a fresh pair to be unnominated")
	}
	p.setNominated()
	if !p.Nominated() {
		t.Fatal("expected Nominated() to reflect setNominated")
	}

	if p.hasUseCandidateReceived() {
		t.Fatal("expected useCandidateReceived to start false")
	}
	p.markUseCandidateReceived()
	if !p.hasUseCandidateReceived() {
		t.Fatal("expected markUseCandidateReceived to set the flag")
	}
}

func TestPairsSortsByDescendingPriority(t *testing.T) {
	low := newTestPair(t, 1, 2)
	low.priority = 10
	high := newTestPair(t, 3, 4)
	high.priority = 20

	ps := Pairs{low, high}
	if !ps.Less(1, 0) {
		t.Fatal("expected the higher-priority pair to sort before the lower-priority one")
	}
}
