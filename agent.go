package ice

import (
	"crypto/rand"
	"math/big"
	"net"
	"sort"
	"sync"
	stdatomic "sync/atomic"
	"time"

	"github.com/gortc/stun"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"gortc.io/iceagent/candidate"
	"gortc.io/iceagent/internal/auth"
	"gortc.io/iceagent/internal/transaction"
	"gortc.io/iceagent/metrics"
)

// selfMedia is the single CredentialsAuthority media key this Agent
// registers its own credentials under. The Authority type (internal/auth)
// supports demultiplexing several Agents sharing one listening socket by
// media name; this Agent tracks exactly one local/remote credentials
// pair for itself, so one fixed key is all it needs.
const selfMedia = "agent"

// AgentState is the orchestrator-level lifecycle (spec.md §4.7/§4.9).
type AgentState byte

// Agent states.
const (
	AgentWaiting AgentState = iota
	AgentRunning
	AgentCompleted
	AgentFailed
	AgentTerminated
)

func (s AgentState) String() string {
	switch s {
	case AgentWaiting:
		return "Waiting"
	case AgentRunning:
		return "Running"
	case AgentCompleted:
		return "Completed"
	case AgentFailed:
		return "Failed"
	case AgentTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// AgentEventKind enumerates status events an Agent publishes to its
// subscribers (spec.md §9 property-change bus).
type AgentEventKind byte

// Agent event kinds.
const (
	AgentEventStateChanged AgentEventKind = iota
	AgentEventSelectedPair
	AgentEventError
)

// AgentEvent is a single status notification from the Agent.
type AgentEvent struct {
	Kind      AgentEventKind
	State     AgentState
	Stream    *Stream
	Component *Component
	Pair      *CandidatePair
	Err       error
}

// AgentListener receives Agent-level events.
type AgentListener func(AgentEvent)

// Agent orchestrates one or more Streams toward ICE connectivity
// establishment: it owns the shared foundations registry, the
// controlling/controlled role and tie-breaker, local and remote
// credentials, the nominator, and the set of PaceMakers driving each
// stream's check list (spec.md §2, §9 "parent back-references").
type Agent struct {
	cfgVal stdatomic.Value // Options
	log    *zap.Logger

	foundations *FoundationsRegistry

	mu            sync.Mutex
	streams       []*Stream
	streamsByName map[string]*Stream
	state         AgentState
	preDiscovered map[*Stream][]*CandidatePair
	paceMakers    map[*Stream]*PaceMaker
	listeners     []AgentListener
	terminationT  *time.Timer
	keepAliveStop chan struct{}

	controlling atomic.Bool
	tieBreaker  uint64

	localCreds  Credentials
	remoteCreds Credentials
	authority   *auth.Authority

	nominator Nominator

	txMu      sync.Mutex
	txClients map[net.PacketConn]*transaction.Client

	metrics metrics.Metrics
}

// NewAgent constructs an Agent in the Waiting state with the given
// options, initial controlling role and local credentials. Remote
// credentials are learned through SetRemoteCredentials once the
// offer/answer exchange completes.
func NewAgent(opts Options, controlling bool, localCreds Credentials, log *zap.Logger) (*Agent, error) {
	if log == nil {
		log = zap.NewNop()
	}
	tb, err := randomTieBreaker()
	if err != nil {
		return nil, NewError(InvalidArgument, "failed to generate tie-breaker", err)
	}
	a := &Agent{
		log:           log.Named("ice"),
		foundations:   NewFoundationsRegistry(),
		streamsByName: make(map[string]*Stream),
		preDiscovered: make(map[*Stream][]*CandidatePair),
		paceMakers:    make(map[*Stream]*PaceMaker),
		tieBreaker:    tb,
		localCreds:    localCreds,
		authority:     auth.NewAuthority(),
		txClients:     make(map[net.PacketConn]*transaction.Client),
		state:         AgentWaiting,
		metrics:       metrics.Noop,
	}
	a.authority.Register(selfMedia, auth.Credentials{
		LocalUfrag:    localCreds.Ufrag,
		LocalPassword: localCreds.Password,
	})
	a.cfgVal.Store(opts)
	a.controlling.Store(controlling)
	a.nominator = newNominator(opts.NominationStrategy, a.nominationConfirmed, opts.RelayedNominationDebounce, func(p *CandidatePair) time.Duration {
		return p.RTT()
	})
	return a, nil
}

// config returns the agent's current Options. Loaded through an
// atomic.Value rather than held as a plain field so SetOptions can
// swap the whole struct without a lock shared with the hot path
// (mirrors internal/server's cfg/config() split).
func (a *Agent) config() Options {
	return a.cfgVal.Load().(Options)
}

// SetOptions replaces the agent's configuration. Nomination strategy
// and relayed-nomination debounce are fixed at construction time (the
// nominator closure captures them); every other field takes effect on
// the next pacing tick or check. Intended to be driven by
// internal/reload on a config-file change notification.
func (a *Agent) SetOptions(o Options) {
	a.cfgVal.Store(o)
}

func randomTieBreaker() (uint64, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 64)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, err
	}
	return n.Uint64(), nil
}

// Foundations returns the agent's shared foundations registry, used by
// harvesters to assign foundations consistently across gathering
// passes (spec.md §4.2).
func (a *Agent) Foundations() *FoundationsRegistry {
	return a.foundations
}

// SetMetrics wires m as the Agent's metrics sink; callers register m
// with a prometheus.Registerer themselves (spec.md §9 "process-wide
// flags are a configuration struct", metrics follow the same
// explicit-wiring discipline). Nil restores the no-op sink.
func (a *Agent) SetMetrics(m metrics.Metrics) {
	if m == nil {
		m = metrics.Noop
	}
	a.mu.Lock()
	a.metrics = m
	a.mu.Unlock()
}

// Subscribe registers l to receive Agent-level events.
func (a *Agent) Subscribe(l AgentListener) {
	a.mu.Lock()
	a.listeners = append(a.listeners, l)
	a.mu.Unlock()
}

func (a *Agent) publish(ev AgentEvent) {
	a.mu.Lock()
	listeners := make([]AgentListener, len(a.listeners))
	copy(listeners, a.listeners)
	a.mu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

// AddStream creates (or returns the existing) stream named name, with
// its own CheckList and maxPairs drawn from the agent's configured
// global cap divided across the current stream count.
func (a *Agent) AddStream(name string) *Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.streamsByName[name]; ok {
		return s
	}
	maxPairs := a.config().MaxCheckListSize
	if maxPairs > 0 {
		maxPairs /= len(a.streams) + 1
		if maxPairs < 1 {
			maxPairs = 1
		}
	}
	s := NewStream(name, maxPairs)
	a.streamsByName[name] = s
	a.streams = append(a.streams, s)
	s.Subscribe(a.onStreamEvent)
	return s
}

// Streams returns a snapshot of the agent's streams in insertion
// order.
func (a *Agent) Streams() []*Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Stream, len(a.streams))
	copy(out, a.streams)
	return out
}

// State returns the agent's current lifecycle state.
func (a *Agent) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Controlling reports whether this agent currently holds the
// controlling role.
func (a *Agent) Controlling() bool {
	return a.controlling.Load()
}

// SetControlling forces the agent's role (spec.md §5 non-blocking
// control-plane entry point). Ordinarily the role only changes via
// ToggleControlling in response to a detected conflict.
func (a *Agent) SetControlling(v bool) {
	a.controlling.Store(v)
}

// ToggleControlling flips the agent's role, used when a role conflict
// is detected (spec.md §4.5/§4.6).
func (a *Agent) ToggleControlling() {
	for {
		old := a.controlling.Load()
		if a.controlling.CAS(old, !old) {
			return
		}
	}
}

// TieBreaker returns the agent's 64-bit role tie-breaker.
func (a *Agent) TieBreaker() uint64 {
	return a.tieBreaker
}

// LocalCredentials returns the agent's local ufrag/password.
func (a *Agent) LocalCredentials() Credentials {
	return a.localCreds
}

// RemoteCredentials returns the agent's remote ufrag/password, as
// learned via the offer/answer exchange.
func (a *Agent) RemoteCredentials() Credentials {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remoteCreds
}

// SetRemoteCredentials records the peer's ufrag/password.
func (a *Agent) SetRemoteCredentials(c Credentials) {
	a.mu.Lock()
	a.remoteCreds = c
	a.mu.Unlock()
	a.authority.Register(selfMedia, auth.Credentials{
		LocalUfrag:     a.localCreds.Ufrag,
		LocalPassword:  a.localCreds.Password,
		RemoteUfrag:    c.Ufrag,
		RemotePassword: c.Password,
	})
}

// verifyRequestIntegrity checks an incoming Binding request's
// MESSAGE-INTEGRITY against the local password ufrag resolves to
// (spec.md §6.1 CredentialsAuthority.local_key, §7 AuthenticationFailure).
func (a *Agent) verifyRequestIntegrity(m *stun.Message, ufrag string) bool {
	key, ok := a.authority.LocalKey(ufrag)
	if !ok {
		return false
	}
	return stun.MessageIntegrity(key).Check(m) == nil
}

// verifyResponseIntegrity checks an incoming Binding response's
// MESSAGE-INTEGRITY against the remote password this agent learned for
// ufrag (spec.md §6.1 CredentialsAuthority.remote_key, §7
// AuthenticationFailure).
func (a *Agent) verifyResponseIntegrity(m *stun.Message, ufrag string) bool {
	key, ok := a.authority.RemoteKey(ufrag, selfMedia)
	if !ok {
		return false
	}
	return stun.MessageIntegrity(key).Check(m) == nil
}

// transactionClientFor returns (creating if necessary) the
// transaction.Client bound to conn, so every candidate sharing a base
// socket shares one set of in-flight transactions and one
// HandleMessage dispatch point.
func (a *Agent) transactionClientFor(conn net.PacketConn, sender transaction.Sender) *transaction.Client {
	a.txMu.Lock()
	defer a.txMu.Unlock()
	if c, ok := a.txClients[conn]; ok {
		return c
	}
	c := transaction.NewClient(sender, a.log.Named("transaction"))
	a.txClients[conn] = c
	return c
}

// HandleInbound dispatches a raw inbound packet arriving on conn from
// remote. It is the entry point the socket/worker layer (spec.md §5)
// calls for every received datagram: STUN messages are routed to the
// transaction client (if a response/error to our own request) or to
// the incoming-check handler (if a request); non-STUN datagrams are
// ignored by this layer (media demuxing is out of scope, spec.md §1).
func (a *Agent) HandleInbound(conn net.PacketConn, local, remote net.Addr, data []byte) {
	if !stun.IsMessage(data) {
		return
	}
	m := new(stun.Message)
	m.Raw = append(m.Raw[:0], data...)
	if err := m.Decode(); err != nil {
		return
	}

	if m.Type.Class == stun.SuccessResponseClass || m.Type.Class == stun.ErrorResponseClass {
		a.txMu.Lock()
		client, ok := a.txClients[conn]
		a.txMu.Unlock()
		if ok {
			client.HandleMessage(m, local, remote)
		}
		return
	}
	if m.Type == stun.BindingRequest {
		a.handleIncomingRequest(m, conn, local, remote)
	}
}

// StartConnectivityEstablishment computes the initial pair states of the
// first stream's check list, replays pre-discovered pairs into it and
// starts its PaceMaker. The other streams' lists stay Frozen until
// cross-stream unfreezing reaches them. Repeated calls are a no-op
// (spec.md §8 idempotence).
func (a *Agent) StartConnectivityEstablishment() {
	a.mu.Lock()
	if a.state != AgentWaiting {
		a.mu.Unlock()
		return
	}
	a.state = AgentRunning
	streams := make([]*Stream, len(a.streams))
	copy(streams, a.streams)
	a.mu.Unlock()

	if len(streams) == 0 {
		return
	}
	first := streams[0]
	initializeChecklistStates(first.CheckList())
	a.replayPreDiscovered(first)
	a.startPaceMaker(first)

	a.publish(AgentEvent{Kind: AgentEventStateChanged, State: AgentRunning})
}

// initializeChecklistStates implements spec.md §4.4: group by
// foundation, set the lowest-component-id (ties -> highest priority)
// pair in each group to Waiting.
func initializeChecklistStates(list *CheckList) {
	pairs := list.Pairs()
	byFoundation := make(map[string][]*CandidatePair)
	for _, p := range pairs {
		byFoundation[p.Foundation()] = append(byFoundation[p.Foundation()], p)
	}
	for _, group := range byFoundation {
		sort.Slice(group, func(i, j int) bool {
			if group[i].Local.ComponentID != group[j].Local.ComponentID {
				return group[i].Local.ComponentID < group[j].Local.ComponentID
			}
			return group[i].Priority() > group[j].Priority()
		})
		group[0].setState(Waiting, false)
	}
}

func (a *Agent) startPaceMaker(s *Stream) {
	a.mu.Lock()
	if _, ok := a.paceMakers[s]; ok {
		a.mu.Unlock()
		return
	}
	pm := newPaceMaker(a, s.CheckList())
	a.paceMakers[s] = pm
	active := len(a.paceMakers)
	a.mu.Unlock()

	pm.Start(a.pacePeriod(active))
	a.repaceAll()
}

func (a *Agent) pacePeriod(activeLists int) time.Duration {
	if activeLists < 1 {
		activeLists = 1
	}
	return a.config().Ta * time.Duration(activeLists)
}

func (a *Agent) repaceAll() {
	a.mu.Lock()
	active := len(a.paceMakers)
	pms := make([]*PaceMaker, 0, active)
	for _, pm := range a.paceMakers {
		pms = append(pms, pm)
	}
	a.mu.Unlock()
	period := a.pacePeriod(active)
	for _, pm := range pms {
		pm.Reperiod(period)
	}
}

func (a *Agent) replayPreDiscovered(s *Stream) {
	a.mu.Lock()
	pairs := a.preDiscovered[s]
	delete(a.preDiscovered, s)
	a.mu.Unlock()
	for _, p := range pairs {
		s.CheckList().ScheduleTriggeredCheck(p)
	}
}

// unfreezeSameFoundation implements spec.md §4.5 "foundation
// unfreezing (same stream)".
func (a *Agent) unfreezeSameFoundation(list *CheckList, foundation string) {
	list.UnfreezeFoundation(foundation)
}

// unfreezeCrossStream implements spec.md §4.5 "cross-stream
// unfreezing": every other check list unfreezes any Frozen pair whose
// foundation appears in the succeeding list's valid list; if a
// previously fully-Frozen list becomes non-frozen, its PaceMaker
// starts.
func (a *Agent) unfreezeCrossStream(succeeded *CheckList, foundation string) {
	a.mu.Lock()
	streams := make([]*Stream, len(a.streams))
	copy(streams, a.streams)
	a.mu.Unlock()

	for _, s := range streams {
		list := s.CheckList()
		if list == succeeded {
			continue
		}
		wasFullyFrozen := allFrozen(list)
		list.UnfreezeFoundation(foundation)
		if wasFullyFrozen && !allFrozen(list) {
			a.startPaceMaker(s)
		}
	}
}

func allFrozen(list *CheckList) bool {
	for _, p := range list.Pairs() {
		if p.State() != Frozen {
			return false
		}
	}
	return true
}

// onPairSettled runs the spec.md §4.7 "check-list and timer updates
// after each completion" logic: once every pair in list is terminal,
// arm the grace timer if the stream's valid list doesn't yet cover
// every component, and start PaceMakers for any other still-fully-Frozen
// list.
func (a *Agent) onPairSettled(list *CheckList, _ *CandidatePair) {
	allTerminal := true
	for _, p := range list.Pairs() {
		switch p.State() {
		case Succeeded, Failed:
		default:
			allTerminal = false
		}
	}
	if allTerminal {
		a.nominator.OnListExhausted(list)
		if list.stream.State() != StreamCompleted {
			a.armGraceTimer(list)
		}
		a.mu.Lock()
		streams := make([]*Stream, len(a.streams))
		copy(streams, a.streams)
		a.mu.Unlock()
		for _, s := range streams {
			if s.CheckList() == list {
				continue
			}
			if allFrozen(s.CheckList()) && len(s.CheckList().Pairs()) > 0 {
				initializeChecklistStates(s.CheckList())
				a.startPaceMaker(s)
			}
		}
	}
	list.Recompute()
	a.evaluateAgentState()
}

var graceTimers sync.Map // *CheckList -> bool, per-list idempotent arming

func (a *Agent) armGraceTimer(list *CheckList) {
	if _, loaded := graceTimers.LoadOrStore(list, true); loaded {
		return
	}
	time.AfterFunc(a.config().ListGracePeriod, func() {
		graceTimers.Delete(list)
		if list.stream.State() != StreamCompleted {
			list.stream.markFailed()
			list.Recompute()
			a.publish(AgentEvent{Kind: AgentEventError, Err: NewError(ListTimeout, "check list grace timer expired", nil)})
			a.evaluateAgentState()
		}
	})
}

// nominatorNotifyValidated forwards a freshly-validated pair to the
// active nominator.
func (a *Agent) nominatorNotifyValidated(list *CheckList, pair *CandidatePair) {
	a.nominator.OnPairValidated(list, pair)
}

// nominationConfirmed implements spec.md §4.8's nomination_confirmed:
// mark the pair nominated, add it to the valid list if not already
// present, schedule a triggered check (so USE-CANDIDATE is actually
// sent on the wire if we are controlling and haven't sent it yet), and
// notify the owning component/stream.
func (a *Agent) nominationConfirmed(pair *CandidatePair) {
	if pair.Nominated() {
		return
	}
	a.metrics.IncNominations()
	pair.setNominated()
	pair.Local.component.SetSelected(pair)
	stream := a.streamForComponent(pair.Local.component)
	if a.Controlling() {
		pair.markUseCandidateSent()
		if stream != nil {
			stream.CheckList().ScheduleTriggeredCheck(pair)
		}
	}
	if stream != nil {
		present := false
		for _, v := range stream.ValidPairs() {
			if v.Equal(pair) {
				present = true
				break
			}
		}
		if !present {
			stream.addValidPair(pair)
		}
		stream.onNominated(pair)
	}
	a.publish(AgentEvent{Kind: AgentEventSelectedPair, Pair: pair, Component: pair.Local.component})
}

func (a *Agent) streamForComponent(c *Component) *Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.streams {
		for _, sc := range s.Components() {
			if sc == c {
				return s
			}
		}
	}
	return nil
}

// resolveValidPair implements the spec.md §4.5 success-response
// synthesis: if no local candidate exists at mapped, synthesize a
// peer-reflexive one sharing pair.Local's base, add it to the
// component, and build the valid pair (mapped local, pair's remote),
// reusing an identical existing pair when present.
func (a *Agent) resolveValidPair(list *CheckList, pair *CandidatePair, mapped TransportAddress) *CandidatePair {
	comp := pair.Local.component
	for _, existing := range comp.LocalCandidates() {
		if existing.Addr.Equal(mapped) {
			return a.findOrCreatePair(list, existing, pair.Remote)
		}
	}

	prflxPriority := Priority(candidatePeerReflexiveTypePref, localPreferenceFor(pair.Local), pair.Local.ComponentID)
	synthesized := newReflexiveCandidate(mapped, candidate.PeerReflexive, TransportAddress{}, pair.Local.Base)
	synthesized.Foundation = a.foundations.AssignPeerReflexive()
	synthesized.Priority = prflxPriority
	comp.AddLocal(synthesized)

	return a.findOrCreatePair(list, synthesized, pair.Remote)
}

func (a *Agent) findOrCreatePair(list *CheckList, local *LocalCandidate, remote RemoteCandidate) *CandidatePair {
	for _, existing := range list.Pairs() {
		if existing.Local.Addr.Equal(local.Addr) && existing.Remote.Addr.Equal(remote.Addr) {
			return existing
		}
	}
	np := NewCandidatePair(local, remote, a.Controlling())
	list.AddPair(np)
	return np
}

// evaluateAgentState implements spec.md §4.7's orchestrator-level
// transition: once all lists are non-Running, Completed if at least
// one list Completed (then schedule termination), else Failed.
func (a *Agent) evaluateAgentState() {
	a.mu.Lock()
	if a.state == AgentCompleted || a.state == AgentFailed || a.state == AgentTerminated {
		a.mu.Unlock()
		return
	}
	streams := make([]*Stream, len(a.streams))
	copy(streams, a.streams)
	a.mu.Unlock()

	anyCompleted := false
	allNonRunning := true
	for _, s := range streams {
		switch s.CheckList().State() {
		case ListRunning:
			allNonRunning = false
		case ListCompleted:
			anyCompleted = true
		}
	}
	if !allNonRunning {
		return
	}

	a.mu.Lock()
	if anyCompleted {
		a.state = AgentCompleted
	} else {
		a.state = AgentFailed
	}
	newState := a.state
	a.mu.Unlock()

	a.publish(AgentEvent{Kind: AgentEventStateChanged, State: newState})
	if newState == AgentCompleted {
		a.startKeepAlive()
		a.scheduleTermination()
	}
}

func (a *Agent) scheduleTermination() {
	a.mu.Lock()
	if a.terminationT != nil {
		a.mu.Unlock()
		return
	}
	a.terminationT = time.AfterFunc(a.config().TerminationDelay, a.terminate)
	a.mu.Unlock()
}

// terminate implements spec.md §4.9: release sockets of every
// non-selected candidate, keep selected-pair sockets alive, transition
// to Terminated.
func (a *Agent) terminate() {
	a.mu.Lock()
	streams := make([]*Stream, len(a.streams))
	copy(streams, a.streams)
	a.mu.Unlock()

	for _, s := range streams {
		for _, c := range s.Components() {
			selected := c.Selected()
			for _, lc := range c.LocalCandidates() {
				if selected != nil && selected.Local == lc {
					continue
				}
				_ = lc.free()
			}
		}
		for _, pm := range a.paceMakersFor(s) {
			pm.Stop()
		}
	}

	a.mu.Lock()
	a.state = AgentTerminated
	a.mu.Unlock()
	a.publish(AgentEvent{Kind: AgentEventStateChanged, State: AgentTerminated})
}

func (a *Agent) paceMakersFor(s *Stream) []*PaceMaker {
	a.mu.Lock()
	defer a.mu.Unlock()
	if pm, ok := a.paceMakers[s]; ok {
		return []*PaceMaker{pm}
	}
	return nil
}

// Stop cancels every PaceMaker and pending timer, releasing the agent
// without waiting for the termination delay. Intended for application
// shutdown.
func (a *Agent) Stop() {
	a.mu.Lock()
	pms := make([]*PaceMaker, 0, len(a.paceMakers))
	for _, pm := range a.paceMakers {
		pms = append(pms, pm)
	}
	if a.terminationT != nil {
		a.terminationT.Stop()
	}
	a.mu.Unlock()
	for _, pm := range pms {
		pm.Stop()
	}
	a.stopKeepAlive()
}

func (a *Agent) onStreamEvent(ev StreamEvent) {
	switch ev.Kind {
	case EventStreamCompleted:
		a.metrics.IncListCompleted()
		a.evaluateAgentState()
	case EventStreamFailed:
		a.metrics.IncListFailed()
		a.evaluateAgentState()
	}
}
