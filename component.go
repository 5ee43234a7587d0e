package ice

import (
	"sort"
	"sync"

	"gortc.io/iceagent/candidate"
)

// Component is identified by a small positive integer (1=RTP, 2=RTCP,
// ... <= 256 per spec.md §3) and owns: a priority-sorted list of local
// candidates, a list of remote candidates, a queue of remote updates
// (trickle-discovered remote candidates awaiting pairing), the default
// local/remote candidates, and the currently selected pair once
// nomination completes.
type Component struct {
	ID int

	mu sync.Mutex

	local  []*LocalCandidate
	remote []RemoteCandidate

	// remoteUpdates queues remote candidates reported after the
	// initial set, pending CheckList re-pairing (spec.md §4.1 trickle).
	remoteUpdates []RemoteCandidate

	defaultLocal  *LocalCandidate
	defaultRemote *RemoteCandidate

	selected *CandidatePair

	// succeeded records every pair that has ever reached Succeeded,
	// for the AllSucceeded keep-alive strategy (spec.md §4.10).
	succeeded []*CandidatePair
}

// NewComponent returns an empty component with the given id.
func NewComponent(id int) *Component {
	return &Component{ID: id}
}

// AddLocal implements the spec.md §4.1 add_local(cand) contract:
// reject a candidate redundant with one already present (same
// transport address and same base), otherwise insert and keep the
// list sorted by descending priority. Returns false when the candidate
// was rejected as redundant.
func (c *Component) AddLocal(cand *LocalCandidate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.local {
		if existing.sameBaseAndAddr(cand) {
			return false
		}
	}
	cand.component = c
	c.local = append(c.local, cand)
	sort.Slice(c.local, func(i, j int) bool { return c.local[i].Priority > c.local[j].Priority })
	return true
}

// LocalCandidates returns a snapshot of this component's local
// candidates, highest priority first.
func (c *Component) LocalCandidates() []*LocalCandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*LocalCandidate, len(c.local))
	copy(out, c.local)
	return out
}

// AddRemote appends a remote candidate learned from the initial
// offer/answer exchange.
func (c *Component) AddRemote(cand RemoteCandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = append(c.remote, cand)
}

// RemoteCandidates returns a snapshot of this component's remote
// candidates.
func (c *Component) RemoteCandidates() []RemoteCandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RemoteCandidate, len(c.remote))
	copy(out, c.remote)
	return out
}

// QueueRemoteUpdate records a remote candidate discovered after the
// initial exchange (trickle ICE or peer-reflexive-on-the-peer) for the
// owning Stream to re-pair against the CheckList.
func (c *Component) QueueRemoteUpdate(cand RemoteCandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteUpdates = append(c.remoteUpdates, cand)
}

// DrainRemoteUpdates returns and clears all queued remote updates.
func (c *Component) DrainRemoteUpdates() []RemoteCandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.remoteUpdates
	c.remoteUpdates = nil
	return out
}

// SelectDefaultCandidate implements RFC 8445 Section 5.1.3.1: among
// this component's local candidates, the one with the highest
// defaultPreference wins; ties are broken by first-seen order since
// defaultPreference is itself already the RFC's full tie-break
// ladder for the kinds this module gathers.
func (c *Component) SelectDefaultCandidate() *LocalCandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.local) == 0 {
		return nil
	}
	best := c.local[0]
	bestPref := defaultPreference(best.Candidate)
	for _, cand := range c.local[1:] {
		if pref := defaultPreference(cand.Candidate); pref > bestPref {
			best, bestPref = cand, pref
		}
	}
	c.defaultLocal = best
	return best
}

// SelectDefaultRemoteCandidate mirrors SelectDefaultCandidate for the
// remote side, used when acting as the answerer to pick the address
// that will appear in the answer's default c=/m= line.
func (c *Component) SelectDefaultRemoteCandidate() *RemoteCandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.remote) == 0 {
		return nil
	}
	best := c.remote[0]
	bestPref := defaultPreference(best.Candidate)
	for _, cand := range c.remote[1:] {
		if pref := defaultPreference(cand.Candidate); pref > bestPref {
			best, bestPref = cand, pref
		}
	}
	c.defaultRemote = &best
	return &best
}

// MarkSucceeded records pair as having validated, for the
// AllSucceeded keep-alive strategy.
func (c *Component) MarkSucceeded(pair *CandidatePair) {
	c.mu.Lock()
	c.succeeded = append(c.succeeded, pair)
	c.mu.Unlock()
}

// SucceededPairs returns a snapshot of every pair that has ever
// reached Succeeded for this component.
func (c *Component) SucceededPairs() []*CandidatePair {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*CandidatePair, len(c.succeeded))
	copy(out, c.succeeded)
	return out
}

// Selected returns the pair nominated for this component, if any.
func (c *Component) Selected() *CandidatePair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// SetSelected records pair as the component's selected pair once
// nomination completes (spec.md §4.8).
func (c *Component) SetSelected(pair *CandidatePair) {
	c.mu.Lock()
	c.selected = pair
	c.mu.Unlock()
}

// Free releases all sockets owned by this component's local
// candidates, in the order Relayed -> PeerReflexive -> ServerReflexive
// -> Host (spec.md §4.1 free()), so that non-owning reflexive/relayed
// candidates never attempt to close a socket a Host candidate still
// needs for siblings not yet freed.
func (c *Component) Free() error {
	c.mu.Lock()
	ordered := make([]*LocalCandidate, len(c.local))
	copy(ordered, c.local)
	c.mu.Unlock()

	order := map[candidate.Kind]int{
		candidate.Relayed:         0,
		candidate.PeerReflexive:   1,
		candidate.ServerReflexive: 2,
		candidate.Host:            3,
	}
	sort.Slice(ordered, func(i, j int) bool { return order[ordered[i].Kind] < order[ordered[j].Kind] })

	var firstErr error
	for _, cand := range ordered {
		if err := cand.free(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
