package ice

import (
	"sort"

	"gortc.io/iceagent/candidate"
)

// FormPairs implements spec.md §4.3: build the cross-product of local
// and remote candidates for this component that could reach each
// other (compatible address family and transport), replace
// server-reflexive locals with their base before pairing (checks
// originate from the base socket), drop pairs that become duplicates
// of an already-seen higher-priority pair, sort by descending pair
// priority, and cap to the check list's configured maximum.
//
// UPnP-sourced local bases are out of scope for this module's
// harvesters (spec.md's non-goal list excludes platform interface
// enumeration entirely), so the "ignore pairs with a UPnP local base"
// rule has no candidates to apply to; it is preserved here as a
// documented no-op rather than silently dropped, in case a future
// harvester introduces one.
func (s *Stream) FormPairs(comp *Component, weAreControlling bool) int {
	locals := comp.LocalCandidates()
	remotes := comp.RemoteCandidates()

	seen := make(map[pairKey]*CandidatePair)
	var built Pairs

	for _, l := range locals {
		effective := l
		if l.Kind == candidate.ServerReflexive {
			effective = l.Base
		}
		for _, r := range remotes {
			if !sameFamily(effective.Addr.IP, r.Addr.IP) {
				continue
			}
			if effective.Addr.Transport != r.Addr.Transport {
				continue
			}
			pair := NewCandidatePair(effective, r, weAreControlling)
			key := pairKey{local: effective.Addr, remote: r.Addr}
			if existing, dup := seen[key]; dup {
				if pair.Priority() <= existing.Priority() {
					continue
				}
			}
			seen[key] = pair
		}
	}
	for _, p := range seen {
		built = append(built, p)
	}
	sort.Sort(built)

	list := s.CheckList()
	added := 0
	for _, p := range built {
		if !list.AddPair(p) {
			break // at capacity
		}
		added++
	}
	return added
}

type pairKey struct {
	local  TransportAddress
	remote TransportAddress
}
