package ice

import (
	"sync"
	"time"
)

// PairState is one of the five states a CandidatePair moves through
// (spec.md §3/§5). The canonical transition sequence is
// Frozen -> Waiting -> InProgress -> {Succeeded, Failed}; a Failed
// pair may be returned to Waiting only via scheduleTriggeredCheck.
type PairState byte

// Pair states, per spec.md §3.
const (
	Frozen PairState = iota
	Waiting
	InProgress
	Succeeded
	Failed
)

var pairStateStrings = map[PairState]string{
	Frozen:     "Frozen",
	Waiting:    "Waiting",
	InProgress: "InProgress",
	Succeeded:  "Succeeded",
	Failed:     "Failed",
}

func (s PairState) String() string {
	if v, ok := pairStateStrings[s]; ok {
		return v
	}
	return "Unknown"
}

// validTransition reports whether moving from s to next is legal under
// spec.md §5's canonical sequence. scheduleTriggeredCheck is the sole
// path back from Failed to Waiting, modeled by the caller explicitly
// allowing it rather than by this table (see CandidatePair.setState's
// allowFailedToWaiting parameter).
func validTransition(from, to PairState) bool {
	switch from {
	case Frozen:
		return to == Waiting || to == Frozen
	case Waiting:
		return to == InProgress || to == Waiting || to == Failed
	case InProgress:
		return to == Succeeded || to == Failed || to == InProgress
	case Succeeded:
		return to == Succeeded
	case Failed:
		return to == Failed
	default:
		return false
	}
}

// PairPriority computes the RFC 8445 Section 6.1.2.3 candidate pair
// priority given the controlling side's candidate priority G and the
// controlled side's D:
//
//	pair priority = 2^32 * min(G,D) + 2*max(G,D) + (G>D ? 1 : 0)
func PairPriority(g, d uint32) uint64 {
	gg, dd := uint64(g), uint64(d)
	min, max := gg, dd
	if dd < gg {
		min, max = dd, gg
	}
	p := (uint64(1)<<32)*min + 2*max
	if gg > dd {
		p++
	}
	return p
}

// CandidatePair is an immutable (local, remote) pairing subjected to
// connectivity checks. Mutable fields (state, flags, priority) are
// guarded by mu: spec.md §5 requires a pair's state transitions be
// linearized by a pair-level critical section, and that response
// processing and inbound-request processing referencing the same pair
// be mutually exclusive.
type CandidatePair struct {
	Local  *LocalCandidate
	Remote RemoteCandidate

	mu       sync.Mutex
	state    PairState
	priority uint64

	nominated            bool
	useCandidateSent     bool
	useCandidateReceived bool
	validated            bool
	consentFreshnessAt   time.Time
	rtt                  time.Duration

	// txInFlight records whether a transaction is in flight for this
	// pair; used to cancel a superseded ordinary check (spec.md §4.6/§5).
	txInFlight bool
}

// NewCandidatePair constructs an immutable pair and computes its
// priority for the given role (controlling decides which candidate is
// G vs D).
func NewCandidatePair(local *LocalCandidate, remote RemoteCandidate, weAreControlling bool) *CandidatePair {
	p := &CandidatePair{Local: local, Remote: remote, state: Frozen}
	p.recomputePriority(weAreControlling)
	return p
}

func (p *CandidatePair) recomputePriority(weAreControlling bool) {
	g, d := p.Local.Priority, p.Remote.Priority
	if !weAreControlling {
		g, d = d, g
	}
	p.priority = PairPriority(g, d)
}

// Priority returns the pair's current priority.
func (p *CandidatePair) Priority() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.priority
}

// Foundation is the concatenation of the member candidates'
// foundations (spec.md §3).
func (p *CandidatePair) Foundation() string {
	return p.Local.Foundation + p.Remote.Foundation
}

// Equal implements spec.md §3's pair-equality rule: equal transport
// addresses (both local and remote).
func (p *CandidatePair) Equal(o *CandidatePair) bool {
	return p.Local.Addr.Equal(o.Local.Addr) && p.Remote.Addr.Equal(o.Remote.Addr)
}

// State returns the pair's current state.
func (p *CandidatePair) State() PairState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// setState attempts the transition from the pair's current state to
// to. allowFailedToWaiting must be true for the single legal exception
// to the canonical sequence: a triggered check reviving a Failed pair.
// Returns false (no-op) if the transition is illegal, so callers can
// tolerate races from cancelled/late transaction results without extra
// bookkeeping (spec.md §5 Cancellation).
func (p *CandidatePair) setState(to PairState, allowFailedToWaiting bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Failed && to == Waiting {
		if !allowFailedToWaiting {
			return false
		}
		p.state = Waiting
		return true
	}
	if !validTransition(p.state, to) {
		return false
	}
	p.state = to
	return true
}

// Nominated reports the pair's nomination flag.
func (p *CandidatePair) Nominated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nominated
}

func (p *CandidatePair) setNominated() {
	p.mu.Lock()
	p.nominated = true
	p.mu.Unlock()
}

func (p *CandidatePair) markUseCandidateSent() {
	p.mu.Lock()
	p.useCandidateSent = true
	p.mu.Unlock()
}

func (p *CandidatePair) markUseCandidateReceived() {
	p.mu.Lock()
	p.useCandidateReceived = true
	p.mu.Unlock()
}

func (p *CandidatePair) hasUseCandidateReceived() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.useCandidateReceived
}

func (p *CandidatePair) stampConsentFreshness(at time.Time) {
	p.mu.Lock()
	p.consentFreshnessAt = at
	p.mu.Unlock()
}

func (p *CandidatePair) setRTT(d time.Duration) {
	p.mu.Lock()
	p.rtt = d
	p.mu.Unlock()
}

// RTT returns the most recently measured round-trip time for this
// pair, used by NominateBestRTT.
func (p *CandidatePair) RTT() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rtt
}

// Pairs is a priority-descending-sortable slice of *CandidatePair.
type Pairs []*CandidatePair

func (p Pairs) Len() int      { return len(p) }
func (p Pairs) Swap(i, j int) { p[i], p[j] = p[j], p[i] }
func (p Pairs) Less(i, j int) bool {
	return p[i].Priority() > p[j].Priority()
}
