package ice

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"gortc.io/iceagent/candidate"
)

// foundationKey is the tuple FoundationsRegistry groups candidates by:
// (kind, base-ip, protocol, server). Two candidates sharing a key are
// expected to behave identically on the network and so share a
// foundation (spec.md §3/§4.2).
type foundationKey struct {
	kind     candidate.Kind
	baseIP   string
	protocol candidate.TransportType
	server   string // "" when there is no STUN/TURN server involved
}

// FoundationsRegistry is the process-wide (per-Agent) assignment of
// foundation strings. It is guarded by a single mutex (spec.md §5
// "Shared resources").
type FoundationsRegistry struct {
	mu       sync.Mutex
	assigned map[foundationKey]string
	next     int

	// peer-reflexive foundations are drawn from a separate monotonic
	// counter so they never collide with foundations assigned to
	// candidates exchanged via offer/answer (spec.md §4.2).
	nextPeerReflexive int
}

// NewFoundationsRegistry returns an empty registry.
func NewFoundationsRegistry() *FoundationsRegistry {
	return &FoundationsRegistry{assigned: make(map[foundationKey]string)}
}

// Assign returns the foundation for (kind, baseIP, protocol, server),
// allocating a fresh monotonic token the first time this key is seen.
func (r *FoundationsRegistry) Assign(kind candidate.Kind, baseIP net.IP, protocol candidate.TransportType, server net.IP) string {
	key := foundationKey{kind: kind, baseIP: ipKey(baseIP), protocol: protocol}
	if server != nil {
		key.server = ipKey(server)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.assigned[key]; ok {
		return f
	}
	r.next++
	f := strconv.Itoa(r.next)
	r.assigned[key] = f
	return f
}

// AssignPeerReflexive returns a fresh foundation for a synthesized
// peer-reflexive candidate, drawn from the independent counter
// required by spec.md §4.2.
func (r *FoundationsRegistry) AssignPeerReflexive() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextPeerReflexive++
	return fmt.Sprintf("prflx%d", r.nextPeerReflexive)
}

func ipKey(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
