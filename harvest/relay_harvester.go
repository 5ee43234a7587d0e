package harvest

import (
	"net"
	"sync"

	"github.com/gortc/turn"
	"go.uber.org/zap"

	ice "gortc.io/iceagent"
	"gortc.io/iceagent/candidate"
)

// RelayHarvester obtains a Relayed candidate by allocating on a TURN
// server (RFC 5766) over a dedicated connection to that server.
// Unlike HostHarvester and ServerReflexiveHarvester, the allocation
// stays open for the lifetime of the candidate: the agent needs a
// permission per remote peer before traffic relays, so the harvester
// hands back an *Allocation the caller keeps around to create
// permissions as remote candidates arrive and to close on teardown.
type RelayHarvester struct {
	Foundations *ice.FoundationsRegistry
	ComponentID int
	ServerAddr  *net.UDPAddr
	Username    string
	Password    string
	Log         *zap.Logger
}

// NewRelayHarvester returns a harvester that allocates on server using
// the given long-term credentials.
func NewRelayHarvester(foundations *ice.FoundationsRegistry, componentID int, server *net.UDPAddr, username, password string) *RelayHarvester {
	return &RelayHarvester{
		Foundations: foundations,
		ComponentID: componentID,
		ServerAddr:  server,
		Username:    username,
		Password:    password,
		Log:         zap.NewNop(),
	}
}

// Allocation bundles an open TURN allocation with the Relayed local
// candidate it exposes. The candidate's transport address is not
// known from the Allocate response directly (the vendored turn client
// does not surface XOR-RELAYED-ADDRESS outside of a Permission), so
// it is filled in lazily from the first Permission's LocalAddr, which
// the turn package defines as the allocation's relayed address
// regardless of peer.
type Allocation struct {
	conn        net.Conn
	alloc       *turn.Allocation
	foundations *ice.FoundationsRegistry
	componentID int
	server      net.IP
	base        *ice.LocalCandidate
	comp        *ice.Component

	mu        sync.Mutex
	candidate *ice.LocalCandidate
}

// Close tears down the TURN allocation by closing the underlying
// connection to the server; the turn client has no Close of its own,
// it is torn down implicitly once its connection dies.
func (a *Allocation) Close() error {
	return a.conn.Close()
}

// Candidate returns the Relayed local candidate once at least one
// permission has been created, or nil before that.
func (a *Allocation) Candidate() *ice.LocalCandidate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.candidate
}

// Harvest dials a dedicated UDP socket to the TURN server and
// allocates a relay on it. The returned Allocation does not yet carry
// a usable candidate; call CreatePermission for the first remote peer
// to learn the relayed transport address (spec.md §C supplements
// relay harvesting, which the distilled spec's Non-goals do not
// exclude).
func (h *RelayHarvester) Harvest(comp *ice.Component, base *ice.LocalCandidate) (*Allocation, error) {
	conn, err := net.DialUDP("udp", nil, h.ServerAddr)
	if err != nil {
		return nil, ice.NewError(ice.AddressInUse, "failed to dial turn server", err)
	}

	client, err := turn.NewClient(turn.ClientOptions{
		Conn:     conn,
		Log:      h.Log,
		Username: h.Username,
		Password: h.Password,
	})
	if err != nil {
		_ = conn.Close()
		return nil, ice.NewError(ice.AddressInUse, "failed to start turn client", err)
	}

	alloc, err := client.Allocate()
	if err != nil {
		_ = conn.Close()
		return nil, ice.NewError(ice.AddressInUse, "turn allocation failed", err)
	}

	return &Allocation{
		conn:        conn,
		alloc:       alloc,
		foundations: h.Foundations,
		componentID: h.ComponentID,
		server:      h.ServerAddr.IP,
		base:        base,
		comp:        comp,
	}, nil
}

// CreatePermission installs a permission for peer on the allocation so
// traffic relayed from it is accepted, and returns the net.Conn the
// agent writes/reads through (turn.Permission implements net.Conn,
// switching to ChannelData once Bind succeeds). The first call also
// registers the Relayed local candidate on the component, since only
// a Permission exposes the allocation's relayed transport address in
// this client.
func (a *Allocation) CreatePermission(peer *net.UDPAddr) (net.Conn, error) {
	perm, err := a.alloc.Create(peer)
	if err != nil {
		return nil, ice.NewError(ice.AddressInUse, "failed to create turn permission", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.candidate == nil {
		relayedAddr, ok := perm.LocalAddr().(*net.UDPAddr)
		if !ok {
			// turn.Addr satisfies net.Addr but not *net.UDPAddr; parse its
			// String() form instead.
			relayedAddr, err = net.ResolveUDPAddr("udp", perm.LocalAddr().String())
			if err != nil {
				return perm, ice.NewError(ice.UnrecoverableResponse, "could not resolve relayed address", err)
			}
		}
		mapped := ice.TransportAddress{IP: relayedAddr.IP, Port: relayedAddr.Port, Transport: candidate.TransportUDP}
		typePref := candidate.Relayed.TypePreference()
		localPref := localPreferenceOf(a.base)
		priority := ice.Priority(typePref, localPref, a.componentID)
		foundation := a.foundations.Assign(candidate.Relayed, relayedAddr.IP, candidate.TransportUDP, a.server)

		cand := ice.NewReflexiveCandidate(mapped, candidate.Relayed, a.base.Addr, a.base)
		cand.Priority = priority
		cand.Foundation = foundation
		a.comp.AddLocal(cand)
		a.candidate = cand
	}
	return perm, nil
}
