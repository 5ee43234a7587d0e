package ice

import (
	"net"
	"sync"
	"time"

	"github.com/gortc/stun"
	"go.uber.org/zap"

	"gortc.io/iceagent/internal/stunattrs"
	"gortc.io/iceagent/internal/transaction"
)

// PaceMaker is the periodic task driving one check list's outgoing
// ordinary/triggered checks (spec.md §4.5, C5). Its period is the
// agent's Ta multiplied by the number of currently active check
// lists (minimum 1); the Agent recomputes and re-arms this whenever a
// list starts or stops.
type PaceMaker struct {
	agent *Agent
	list  *CheckList
	log   *zap.Logger

	mu      sync.Mutex
	ticker  *time.Ticker
	stop    chan struct{}
	stopped bool
}

func newPaceMaker(agent *Agent, list *CheckList) *PaceMaker {
	return &PaceMaker{agent: agent, list: list, log: agent.log.Named("pacemaker").With(zap.String("stream", list.stream.Name))}
}

// Start begins ticking at period until Stop is called.
func (pm *PaceMaker) Start(period time.Duration) {
	pm.mu.Lock()
	if pm.ticker != nil {
		pm.mu.Unlock()
		return
	}
	pm.ticker = time.NewTicker(period)
	pm.stop = make(chan struct{})
	ticker := pm.ticker
	stop := pm.stop
	pm.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				pm.tick()
			case <-stop:
				return
			}
		}
	}()
}

// Reperiod changes the tick interval in place, used when the agent's
// count of active check lists changes.
func (pm *PaceMaker) Reperiod(period time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.ticker != nil {
		pm.ticker.Reset(period)
	}
}

// Stop halts the PaceMaker; safe to call multiple times.
func (pm *PaceMaker) Stop() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.stopped {
		return
	}
	pm.stopped = true
	if pm.ticker != nil {
		pm.ticker.Stop()
	}
	if pm.stop != nil {
		close(pm.stop)
	}
}

func (pm *PaceMaker) tick() {
	pair := pm.list.NextCheck()
	if pair == nil {
		return
	}
	pm.sendCheck(pair)
}

// sendCheck builds and sends a Binding request for pair, per spec.md
// §4.5 step 2-3.
func (pm *PaceMaker) sendCheck(pair *CandidatePair) {
	conn := pair.Local.Conn()
	if conn == nil {
		pair.setState(Failed, false)
		pm.list.Recompute()
		return
	}

	controlling := pm.agent.Controlling()
	tb := pm.agent.TieBreaker()
	priority := Priority(candidatePeerReflexiveTypePref, localPreferenceFor(pair.Local), pair.Local.ComponentID)

	req := stun.New()
	req.Type = stun.BindingRequest
	req.TransactionID = func() stun.TransactionID {
		id, err := transaction.NewTransactionID()
		if err != nil {
			pm.log.Error("failed to generate transaction id", zap.Error(err))
			return stun.TransactionID{}
		}
		return id
	}()
	req.WriteHeader()

	username := usernameFor(pm.agent.RemoteCredentials().Ufrag, pm.agent.LocalCredentials().Ufrag)
	if err := stun.NewUsername(username).AddTo(req); err != nil {
		pm.log.Error("failed to add username", zap.Error(err))
		return
	}
	if err := stunattrs.Priority(priority).AddTo(req); err != nil {
		pm.log.Error("failed to add priority", zap.Error(err))
		return
	}
	if controlling {
		if err := stunattrs.Controlling(tb).AddTo(req); err != nil {
			pm.log.Error("failed to add ice-controlling", zap.Error(err))
			return
		}
		if pair.Nominated() {
			if err := (stunattrs.UseCandidate{}).AddTo(req); err != nil {
				pm.log.Error("failed to add use-candidate", zap.Error(err))
				return
			}
		}
	} else {
		if err := stunattrs.Controlled(tb).AddTo(req); err != nil {
			pm.log.Error("failed to add ice-controlled", zap.Error(err))
			return
		}
	}
	key := []byte(pm.agent.RemoteCredentials().Password)
	req.Add(stun.AttrSoftware, []byte(pm.agent.config().Software))
	if err := stun.NewShortTermIntegrity(string(key)).AddTo(req); err != nil {
		pm.log.Error("failed to add message-integrity", zap.Error(err))
		return
	}
	if err := stun.Fingerprint.AddTo(req); err != nil {
		pm.log.Error("failed to add fingerprint", zap.Error(err))
		return
	}

	remote := pair.Remote.Addr.UDPAddr()
	cfg := transaction.Config{
		InitialRTO:     pm.agent.config().Transaction.InitialRTO,
		MaxRTO:         pm.agent.config().Transaction.MaxRTO,
		MaxRetransmits: pm.agent.config().Transaction.MaxRetransmits,
	}
	sender := connSender{conn: conn}
	client := pm.agent.transactionClientFor(conn, sender)
	sent := time.Now()
	collector := transaction.CollectorFunc(func(id stun.TransactionID, res transaction.Result) {
		pm.handleResult(pair, sent, res)
	})
	if _, err := client.Send(req, remote, cfg, collector); err != nil {
		pm.log.Debug("send failed synchronously", zap.Error(err))
		pair.setState(Failed, false)
		pm.list.Recompute()
		return
	}
	pm.agent.metrics.IncChecksSent()
}

// connSender adapts a net.PacketConn to transaction.Sender.
type connSender struct {
	conn net.PacketConn
}

func (s connSender) WriteTo(b []byte, addr net.Addr) (int, error) {
	return s.conn.WriteTo(b, addr)
}

// handleResult implements spec.md §4.5's response/timeout handling for
// a single transaction belonging to pair.
func (pm *PaceMaker) handleResult(pair *CandidatePair, sentAt time.Time, res transaction.Result) {
	if res.Timeout {
		pm.agent.metrics.IncChecksTimeout()
		pair.setState(Failed, false)
		pm.list.Recompute()
		pm.agent.onPairSettled(pm.list, pair)
		return
	}

	m := res.Message
	if err := m.Decode(); err != nil {
		pair.setState(Failed, false)
		pm.list.Recompute()
		return
	}

	if !pm.agent.verifyResponseIntegrity(m, pm.agent.RemoteCredentials().Ufrag) {
		pm.log.Debug("dropping response with invalid message-integrity", zap.Stringer("remote", pair.Remote.Addr.UDPAddr()))
		return // AuthenticationFailure: silently drop (spec.md §7)
	}

	// Symmetry check: response's source address must equal the pair's
	// remote transport address (spec.md §4.5).
	if res.Remote != nil {
		remoteUDP, ok := res.Remote.(*net.UDPAddr)
		pairRemoteUDP := pair.Remote.Addr.UDPAddr()
		if ok && !sameUDPAddr(remoteUDP, pairRemoteUDP) {
			pair.setState(Failed, false)
			pm.list.Recompute()
			pm.agent.onPairSettled(pm.list, pair)
			pm.agent.publish(AgentEvent{Kind: AgentEventError, Err: NewError(AsymmetricResponse, "response source address does not match pair's remote address", nil)})
			return
		}
	}

	if m.Type.Class == stun.ErrorResponseClass {
		var ecode stun.ErrorCodeAttribute
		if err := ecode.GetFrom(m); err == nil && ecode.Code == stunattrs.RoleConflict {
			pm.agent.metrics.IncRoleConflicts()
			pm.agent.ToggleControlling()
			pm.list.ScheduleTriggeredCheck(pair)
			return
		}
		pm.agent.metrics.IncChecksFailed()
		pair.setState(Failed, false)
		pm.list.Recompute()
		pm.agent.onPairSettled(pm.list, pair)
		return
	}

	// Symmetry check.
	if res.Local != nil {
		localUDP, ok1 := res.Local.(*net.UDPAddr)
		baseUDP := pair.Local.Base.Addr.UDPAddr()
		if ok1 && !sameUDPAddr(localUDP, baseUDP) {
			pair.setState(Failed, false)
			pm.list.Recompute()
			pm.agent.onPairSettled(pm.list, pair)
			return
		}
	}

	var xma stun.XORMappedAddress
	if err := xma.GetFrom(m); err != nil {
		pair.setState(Failed, false)
		pm.list.Recompute()
		return
	}
	mapped := TransportAddress{IP: xma.IP, Port: xma.Port, Transport: pair.Local.Transport}
	if !mapped.Equal(pair.Remote.Addr) && res.Local != nil {
		if udp, ok := res.Local.(*net.UDPAddr); ok && !sameUDPAddr(udp, pair.Local.Base.Addr.UDPAddr()) {
			pair.setState(Failed, false)
			pm.list.Recompute()
			pm.agent.onPairSettled(pm.list, pair)
			return
		}
	}

	rtt := time.Since(sentAt)
	pair.setRTT(rtt)
	pm.agent.metrics.ObserveRTT(rtt.Seconds())
	pm.agent.metrics.IncChecksSucceeded()
	valid := pm.agent.resolveValidPair(pm.list, pair, mapped)

	pair.setState(Succeeded, false)
	pair.Local.component.MarkSucceeded(pair)
	pm.list.stream.addValidPair(valid)

	valid.mu.Lock()
	alreadyUseCandidate := valid.useCandidateReceived
	valid.mu.Unlock()

	pm.agent.unfreezeSameFoundation(pm.list, valid.Foundation())
	pm.agent.unfreezeCrossStream(pm.list, valid.Foundation())

	if pm.agent.Controlling() && pair.useCandidateSent {
		pm.agent.nominationConfirmed(valid)
	} else if !pm.agent.Controlling() && alreadyUseCandidate && !valid.Nominated() {
		pm.agent.nominationConfirmed(valid)
	}

	if sel := pair.Local.component.Selected(); sel != nil && sel.Equal(valid) {
		valid.stampConsentFreshness(time.Now())
	}

	pm.agent.nominatorNotifyValidated(pm.list, valid)
	pm.list.Recompute()
	pm.agent.onPairSettled(pm.list, pair)
}

func sameUDPAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// candidatePeerReflexiveTypePref is the type preference used when
// computing the PRIORITY attribute of our own outgoing checks,
// matching what a peer-reflexive candidate discovered at our address
// would use (spec.md §4.5 step 2).
const candidatePeerReflexiveTypePref = 110

func localPreferenceFor(l *LocalCandidate) int {
	return int(l.Priority>>8) & 0xFFFF
}
