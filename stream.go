package ice

import (
	"sort"
	"sync"
)

// StreamState mirrors the CheckList-driven lifecycle the owning Stream
// exposes to the Agent (spec.md §3/§5): Running while checks are still
// possible, Completed once at least one pair per component is
// nominated, Failed when the CheckList exhausted all pairs without a
// valid one for every component.
type StreamState byte

// Stream states.
const (
	StreamRunning StreamState = iota
	StreamCompleted
	StreamFailed
)

func (s StreamState) String() string {
	switch s {
	case StreamRunning:
		return "Running"
	case StreamCompleted:
		return "Completed"
	case StreamFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// PropertyListener receives notifications when a Stream's nominated
// pair set changes (spec.md §9 design note: "components publish
// property changes the Agent subscribes to rather than polling").
type PropertyListener func(event StreamEvent)

// StreamEvent describes a single property change on a Stream.
type StreamEvent struct {
	Stream    *Stream
	Component *Component
	Pair      *CandidatePair
	Kind      StreamEventKind
}

// StreamEventKind enumerates the property changes a Stream publishes.
type StreamEventKind byte

// Stream event kinds.
const (
	EventPairNominated StreamEventKind = iota
	EventPairValidated
	EventStreamCompleted
	EventStreamFailed
)

// Stream is a named group of components sharing one CheckList (spec.md
// §3 "IceMediaStream"). It owns the check list, the valid list derived
// from it, a size cap on the number of candidate pairs it will form,
// and the broadcast of property changes to subscribers (typically the
// owning Agent).
type Stream struct {
	Name string

	mu         sync.Mutex
	components map[int]*Component
	checkList  *CheckList
	validList  Pairs
	state      StreamState

	maxPairs    int
	listeners   []PropertyListener
}

// DefaultMaxPairs is the default cap on the number of candidate pairs
// formed for a single stream (spec.md §6.3 "check list size limit";
// RFC 8445 recommends 100).
const DefaultMaxPairs = 100

// NewStream returns an empty stream with the given name and pair cap.
// A maxPairs of 0 selects DefaultMaxPairs.
func NewStream(name string, maxPairs int) *Stream {
	if maxPairs <= 0 {
		maxPairs = DefaultMaxPairs
	}
	s := &Stream{
		Name:       name,
		components: make(map[int]*Component),
		maxPairs:   maxPairs,
		state:      StreamRunning,
	}
	s.checkList = newCheckList(s)
	return s
}

// Component returns (creating if necessary) the component with the
// given id.
func (s *Stream) Component(id int) *Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.components[id]
	if !ok {
		c = NewComponent(id)
		s.components[id] = c
	}
	return c
}

// Components returns a snapshot of this stream's components, ordered
// by ascending id.
func (s *Stream) Components() []*Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Component, 0, len(s.components))
	for _, c := range s.components {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CheckList returns this stream's check list.
func (s *Stream) CheckList() *CheckList {
	return s.checkList
}

// State returns the stream's current lifecycle state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers l to receive this stream's property changes.
func (s *Stream) Subscribe(l PropertyListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *Stream) publish(ev StreamEvent) {
	s.mu.Lock()
	listeners := make([]PropertyListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	ev.Stream = s
	for _, l := range listeners {
		l(ev)
	}
}

// addValidPair records pair in the valid list (spec.md §4.6:
// "successful checks and their redundant-pair collapses populate the
// valid list") and publishes EventPairValidated.
func (s *Stream) addValidPair(pair *CandidatePair) {
	s.mu.Lock()
	s.validList = append(s.validList, pair)
	s.mu.Unlock()
	s.publish(StreamEvent{Pair: pair, Component: pair.Local.component, Kind: EventPairValidated})
}

// ValidPairs returns a snapshot of the stream's valid list.
func (s *Stream) ValidPairs() Pairs {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Pairs, len(s.validList))
	copy(out, s.validList)
	return out
}

// onNominated records that pair has been nominated for its component
// and re-evaluates whether every component now has a nominated pair,
// transitioning the stream to Completed and publishing the relevant
// events when so (spec.md §4.8 "a stream completes once all of its
// components have a selected pair").
func (s *Stream) onNominated(pair *CandidatePair) {
	pair.Local.component.SetSelected(pair)
	s.publish(StreamEvent{Pair: pair, Component: pair.Local.component, Kind: EventPairNominated})

	s.mu.Lock()
	allSelected := true
	for _, c := range s.components {
		if c.Selected() == nil {
			allSelected = false
			break
		}
	}
	alreadyDone := s.state != StreamRunning
	if allSelected && !alreadyDone {
		s.state = StreamCompleted
	}
	s.mu.Unlock()

	if allSelected && !alreadyDone {
		s.publish(StreamEvent{Kind: EventStreamCompleted})
	}
}

// markFailed transitions the stream to Failed, unless it already
// completed successfully; this is idempotent so the CheckList can call
// it once its last pair settles without separately tracking whether it
// already happened.
func (s *Stream) markFailed() {
	s.mu.Lock()
	if s.state != StreamRunning {
		s.mu.Unlock()
		return
	}
	s.state = StreamFailed
	s.mu.Unlock()
	s.publish(StreamEvent{Kind: EventStreamFailed})
}
