package ice

import (
	"sort"
	"sync"
)

// ListState is the aggregate state of a CheckList (spec.md §3):
// Running while at least one pair can still produce a check, Completed
// once the owning Stream has a nominated pair for every component, and
// Failed once every pair has reached a terminal state without that
// happening.
type ListState byte

// CheckList states.
const (
	ListRunning ListState = iota
	ListCompleted
	ListFailed
)

func (s ListState) String() string {
	switch s {
	case ListRunning:
		return "Running"
	case ListCompleted:
		return "Completed"
	case ListFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// CheckList holds every candidate pair formed for a Stream, the
// foundation-keyed frozen/waiting discipline of RFC 8445 Section 6.1.2,
// and the triggered-check FIFO that takes priority over ordinary
// checks (spec.md §4.5/§4.6).
type CheckList struct {
	stream *Stream

	mu        sync.Mutex
	pairs     Pairs
	triggered []*CandidatePair
	state     ListState
	capacity  int
}

func newCheckList(s *Stream) *CheckList {
	return &CheckList{stream: s, state: ListRunning, capacity: s.maxPairs}
}

// Pairs returns a priority-descending snapshot of every pair in the
// list.
func (l *CheckList) Pairs() Pairs {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(Pairs, len(l.pairs))
	copy(out, l.pairs)
	return out
}

// AddPair inserts pair into the list if capacity allows, in Frozen
// state, then re-sorts by descending priority and re-derives the
// Waiting set: within each foundation group, exactly one pair is
// unfrozen to Waiting, namely the highest-priority one
// not yet represented (RFC 8445 Section 6.1.2.3). A pair equal
// (spec.md §3) to one already in the list is a no-op, returning true
// without inserting a duplicate: repeated AddRemoteCandidates/FormPairs
// calls across trickle updates must not grow the list unboundedly
// (spec.md §6.5). Returns false if the list is at capacity.
func (l *CheckList) AddPair(pair *CandidatePair) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.pairs {
		if existing.Equal(pair) {
			return true
		}
	}
	if len(l.pairs) >= l.capacity {
		return false
	}
	l.pairs = append(l.pairs, pair)
	sort.Sort(l.pairs)
	l.unfreezeLocked()
	return true
}

// unfreezeLocked implements the "one Waiting pair per foundation,
// chosen as highest priority among Frozen pairs with that foundation"
// rule. Called with mu held.
func (l *CheckList) unfreezeLocked() {
	seen := make(map[string]bool)
	for _, p := range l.pairs {
		switch p.State() {
		case Waiting, InProgress, Succeeded:
			seen[p.Foundation()] = true
		}
	}
	for _, p := range l.pairs {
		if p.State() != Frozen {
			continue
		}
		f := p.Foundation()
		if seen[f] {
			continue
		}
		p.setState(Waiting, false)
		seen[f] = true
	}
}

// UnfreezeFoundation moves every Frozen pair in this list sharing
// foundation to Waiting. The Agent calls this on every list sharing a
// Stream's components when a pair elsewhere succeeds, implementing the
// cross-stream unfreezing of spec.md §4.2/§4.6.
func (l *CheckList) UnfreezeFoundation(foundation string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.pairs {
		if p.State() == Frozen && p.Foundation() == foundation {
			p.setState(Waiting, false)
		}
	}
}

// ScheduleTriggeredCheck appends pair to the triggered-check FIFO,
// reviving it from Failed to Waiting if necessary (spec.md §4.5: "a
// pair that failed earlier is retried immediately if a later event
// triggers a check against it").
func (l *CheckList) ScheduleTriggeredCheck(pair *CandidatePair) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pair.setState(Waiting, true)
	l.triggered = append(l.triggered, pair)
}

// NextCheck selects the next pair an ordinary PaceMaker tick should
// check: the head of the triggered queue if non-empty, otherwise the
// highest-priority Waiting pair. It transitions the chosen pair to
// InProgress before returning it. Returns nil if there is nothing
// eligible right now (everything Frozen, InProgress or terminal).
func (l *CheckList) NextCheck() *CandidatePair {
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(l.triggered) > 0 {
		p := l.triggered[0]
		l.triggered = l.triggered[1:]
		if p.State() == Waiting && p.setState(InProgress, false) {
			return p
		}
	}

	for _, p := range l.pairs {
		if p.State() == Waiting {
			p.setState(InProgress, false)
			return p
		}
	}

	// No Waiting pair: fall back to the highest-priority Frozen pair
	// with no Waiting/InProgress sibling of the same foundation
	// (spec.md §4.5 step 1), promoting it straight to InProgress.
	active := make(map[string]bool)
	for _, p := range l.pairs {
		if st := p.State(); st == Waiting || st == InProgress {
			active[p.Foundation()] = true
		}
	}
	for _, p := range l.pairs {
		if p.State() == Frozen && !active[p.Foundation()] {
			p.setState(Waiting, false)
			p.setState(InProgress, false)
			return p
		}
	}
	return nil
}

// Recompute re-evaluates the list's aggregate state after a pair
// transition: Completed once the owning stream reports all components
// selected, Failed once no pair remains Frozen, Waiting or InProgress
// and the stream never completed. Returns the resulting state.
func (l *CheckList) Recompute() ListState {
	l.mu.Lock()
	if l.stream.State() == StreamCompleted {
		l.state = ListCompleted
		l.mu.Unlock()
		return ListCompleted
	}
	stillLive := false
	for _, p := range l.pairs {
		switch p.State() {
		case Frozen, Waiting, InProgress:
			stillLive = true
		}
	}
	if !stillLive && l.state == ListRunning {
		l.state = ListFailed
	}
	st := l.state
	l.mu.Unlock()
	if st == ListFailed {
		l.stream.markFailed()
	}
	return st
}

// State returns the list's last-computed aggregate state.
func (l *CheckList) State() ListState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
