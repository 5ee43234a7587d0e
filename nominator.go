package ice

import (
	"sync"
	"time"

	"gortc.io/iceagent/candidate"
)

// Nominator decides, for a running check list, which valid pair(s) to
// nominate on the controlling side. Exactly one policy is active per
// Agent (spec.md §4.8); the controlled side never nominates on its
// own, it only confirms via nomination_confirmed.
type Nominator interface {
	// OnPairValidated is called every time a pair in list enters
	// Succeeded and is added to the valid list.
	OnPairValidated(list *CheckList, pair *CandidatePair)
	// OnListExhausted is called once every pair in list has reached a
	// terminal state (Succeeded or Failed).
	OnListExhausted(list *CheckList)
	// Stop cancels any timers the nominator has armed for list.
	Stop(list *CheckList)
}

// nominateFunc is supplied by the Agent so nominators can drive
// nomination without importing agent.go's concrete type.
type nominateFunc func(pair *CandidatePair)

// firstValidNominator implements NominateFirstValid: the first pair
// to validate in each component is nominated immediately.
type firstValidNominator struct {
	nominate nominateFunc

	mu   sync.Mutex
	done map[int]bool // component id -> already nominated
}

func newFirstValidNominator(nominate nominateFunc) *firstValidNominator {
	return &firstValidNominator{nominate: nominate, done: make(map[int]bool)}
}

func (n *firstValidNominator) OnPairValidated(_ *CheckList, pair *CandidatePair) {
	cid := pair.Local.ComponentID
	n.mu.Lock()
	if n.done[cid] {
		n.mu.Unlock()
		return
	}
	n.done[cid] = true
	n.mu.Unlock()
	n.nominate(pair)
}

func (n *firstValidNominator) OnListExhausted(*CheckList) {}
func (n *firstValidNominator) Stop(*CheckList)            {}

// highestPriorityNominator implements NominateHighestPriority: waits
// for the list to exhaust, then nominates the highest-priority
// validated pair per component.
type highestPriorityNominator struct {
	nominate nominateFunc

	mu       sync.Mutex
	byList   map[*CheckList][]*CandidatePair
}

func newHighestPriorityNominator(nominate nominateFunc) *highestPriorityNominator {
	return &highestPriorityNominator{nominate: nominate, byList: make(map[*CheckList][]*CandidatePair)}
}

func (n *highestPriorityNominator) OnPairValidated(list *CheckList, pair *CandidatePair) {
	n.mu.Lock()
	n.byList[list] = append(n.byList[list], pair)
	n.mu.Unlock()
}

func (n *highestPriorityNominator) OnListExhausted(list *CheckList) {
	n.mu.Lock()
	validated := n.byList[list]
	delete(n.byList, list)
	n.mu.Unlock()

	best := make(map[int]*CandidatePair)
	for _, p := range validated {
		cid := p.Local.ComponentID
		if cur, ok := best[cid]; !ok || p.Priority() > cur.Priority() {
			best[cid] = p
		}
	}
	for _, p := range best {
		n.nominate(p)
	}
}

func (n *highestPriorityNominator) Stop(list *CheckList) {
	n.mu.Lock()
	delete(n.byList, list)
	n.mu.Unlock()
}

// hostOrReflexiveNominator implements NominateFirstHostOrReflexiveValid.
type hostOrReflexiveNominator struct {
	nominate nominateFunc
	debounce time.Duration

	mu      sync.Mutex
	done    map[int]bool
	timers  map[int]*time.Timer
	pending map[int]*CandidatePair
}

func newHostOrReflexiveNominator(nominate nominateFunc, debounce time.Duration) *hostOrReflexiveNominator {
	return &hostOrReflexiveNominator{
		nominate: nominate,
		debounce: debounce,
		done:     make(map[int]bool),
		timers:   make(map[int]*time.Timer),
		pending:  make(map[int]*CandidatePair),
	}
}

func (n *hostOrReflexiveNominator) OnPairValidated(_ *CheckList, pair *CandidatePair) {
	cid := pair.Local.ComponentID
	isRelayed := pair.Local.Kind == candidate.Relayed

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.done[cid] {
		return
	}

	if !isRelayed {
		if t, ok := n.timers[cid]; ok {
			t.Stop()
			delete(n.timers, cid)
			delete(n.pending, cid)
		}
		n.done[cid] = true
		go n.nominate(pair)
		return
	}

	if _, armed := n.timers[cid]; armed {
		return
	}
	n.pending[cid] = pair
	n.timers[cid] = time.AfterFunc(n.debounce, func() {
		n.fireRelayed(cid)
	})
}

func (n *hostOrReflexiveNominator) fireRelayed(cid int) {
	n.mu.Lock()
	if n.done[cid] {
		n.mu.Unlock()
		return
	}
	pair := n.pending[cid]
	n.done[cid] = true
	delete(n.timers, cid)
	delete(n.pending, cid)
	n.mu.Unlock()
	if pair != nil {
		n.nominate(pair)
	}
}

func (n *hostOrReflexiveNominator) OnListExhausted(*CheckList) {
	n.mu.Lock()
	pending := make(map[int]*CandidatePair, len(n.pending))
	for cid, p := range n.pending {
		if !n.done[cid] {
			pending[cid] = p
		}
	}
	for cid, t := range n.timers {
		t.Stop()
		delete(n.timers, cid)
	}
	n.mu.Unlock()
	for cid := range pending {
		n.fireRelayed(cid)
	}
}

func (n *hostOrReflexiveNominator) Stop(*CheckList) {
	n.mu.Lock()
	for _, t := range n.timers {
		t.Stop()
	}
	n.timers = make(map[int]*time.Timer)
	n.mu.Unlock()
}

// bestRTTNominator implements NominateBestRTT: nominate the pair with
// the smallest measured round-trip once the list is exhausted.
type bestRTTNominator struct {
	nominate nominateFunc
	rtt      func(pair *CandidatePair) time.Duration

	mu     sync.Mutex
	byList map[*CheckList][]*CandidatePair
}

func newBestRTTNominator(nominate nominateFunc, rtt func(*CandidatePair) time.Duration) *bestRTTNominator {
	return &bestRTTNominator{nominate: nominate, rtt: rtt, byList: make(map[*CheckList][]*CandidatePair)}
}

func (n *bestRTTNominator) OnPairValidated(list *CheckList, pair *CandidatePair) {
	n.mu.Lock()
	n.byList[list] = append(n.byList[list], pair)
	n.mu.Unlock()
}

func (n *bestRTTNominator) OnListExhausted(list *CheckList) {
	n.mu.Lock()
	validated := n.byList[list]
	delete(n.byList, list)
	n.mu.Unlock()

	best := make(map[int]*CandidatePair)
	bestRTT := make(map[int]time.Duration)
	for _, p := range validated {
		cid := p.Local.ComponentID
		rtt := n.rtt(p)
		if _, ok := best[cid]; !ok || rtt < bestRTT[cid] {
			best[cid] = p
			bestRTT[cid] = rtt
		}
	}
	for _, p := range best {
		n.nominate(p)
	}
}

func (n *bestRTTNominator) Stop(list *CheckList) {
	n.mu.Lock()
	delete(n.byList, list)
	n.mu.Unlock()
}

// noneNominator implements None: the application calls Agent.Nominate
// explicitly and this nominator never acts on its own.
type noneNominator struct{}

func (noneNominator) OnPairValidated(*CheckList, *CandidatePair) {}
func (noneNominator) OnListExhausted(*CheckList)                 {}
func (noneNominator) Stop(*CheckList)                            {}

// newNominator constructs the Nominator for strategy.
func newNominator(strategy NominationStrategy, nominate nominateFunc, debounce time.Duration, rtt func(*CandidatePair) time.Duration) Nominator {
	switch strategy {
	case NominateFirstValid:
		return newFirstValidNominator(nominate)
	case NominateHighestPriority:
		return newHighestPriorityNominator(nominate)
	case NominateFirstHostOrReflexiveValid:
		return newHostOrReflexiveNominator(nominate, debounce)
	case NominateBestRTT:
		return newBestRTTNominator(nominate, rtt)
	case NominateNone:
		return noneNominator{}
	default:
		return newFirstValidNominator(nominate)
	}
}
