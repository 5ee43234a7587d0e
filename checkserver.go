package ice

import (
	"net"

	"github.com/gortc/stun"
	"go.uber.org/zap"

	"gortc.io/iceagent/candidate"
	"gortc.io/iceagent/internal/stunattrs"
)

// handleIncomingRequest implements spec.md §4.6 (C6): validate
// USERNAME, detect and repair role conflicts, require PRIORITY, notify
// the orchestrator of the check, and reply.
func (a *Agent) handleIncomingRequest(m *stun.Message, conn net.PacketConn, local, remote net.Addr) {
	log := a.log.Named("checkserver")

	var username stun.Username
	if err := username.GetFrom(m); err != nil {
		return // AuthenticationFailure: silently drop (spec.md §7)
	}
	if localUfragFromUsername(string(username)) != a.LocalCredentials().Ufrag {
		return
	}
	if !a.verifyRequestIntegrity(m, a.LocalCredentials().Ufrag) {
		log.Debug("dropping request with invalid message-integrity", zap.Stringer("remote", remote))
		return // AuthenticationFailure: silently drop (spec.md §7)
	}

	var controllingAttr stunattrs.Controlling
	var controlledAttr stunattrs.Controlled
	peerClaimsControlling := controllingAttr.GetFrom(m) == nil
	peerClaimsControlled := controlledAttr.GetFrom(m) == nil

	weAreControlling := a.Controlling()
	conflict := (peerClaimsControlling && weAreControlling) || (peerClaimsControlled && !weAreControlling)
	if conflict {
		var theirTB uint64
		if peerClaimsControlling {
			theirTB = uint64(controllingAttr)
		} else {
			theirTB = uint64(controlledAttr)
		}
		if a.TieBreaker() >= theirTB {
			a.replyRoleConflict(m, conn, remote)
			return
		}
		a.ToggleControlling()
		weAreControlling = a.Controlling()
	}

	var priority stunattrs.Priority
	if err := priority.GetFrom(m); err != nil {
		a.replyError(m, conn, remote, stun.CodeBadRequest)
		return
	}

	useCandidate := stunattrs.IsSet(m)

	localCand := a.findLocalCandidateForArrival(local)
	if localCand == nil {
		log.Debug("no local candidate matches arrival address", zap.Stringer("local", local))
		return
	}

	a.onIncomingCheckReceived(localCand, remote, uint32(priority), useCandidate)

	a.replySuccess(m, conn, remote)
}

func (a *Agent) findLocalCandidateForArrival(local net.Addr) *LocalCandidate {
	udp, ok := local.(*net.UDPAddr)
	if !ok {
		return nil
	}
	a.mu.Lock()
	streams := make([]*Stream, len(a.streams))
	copy(streams, a.streams)
	a.mu.Unlock()
	for _, s := range streams {
		for _, c := range s.Components() {
			for _, lc := range c.LocalCandidates() {
				if base := lc.Base; base != nil {
					if ua := base.Addr.UDPAddr(); ua.IP.Equal(udp.IP) && ua.Port == udp.Port {
						return lc
					}
				}
			}
		}
	}
	return nil
}

// onIncomingCheckReceived implements the orchestrator half of spec.md
// §4.6: synthesize a peer-reflexive remote candidate if unknown,
// build the trigger pair, and either queue it for replay (if checks
// haven't started) or run trigger_check immediately.
func (a *Agent) onIncomingCheckReceived(localCand *LocalCandidate, remoteAddr net.Addr, priority uint32, useCandidate bool) {
	comp := localCand.component
	if comp == nil {
		return
	}
	stream := a.streamForComponent(comp)
	if stream == nil {
		return
	}

	udp, ok := remoteAddr.(*net.UDPAddr)
	if !ok {
		return
	}
	addr := TransportAddress{IP: udp.IP, Port: udp.Port, Transport: localCand.Addr.Transport}

	var remoteCand RemoteCandidate
	found := false
	for _, rc := range comp.RemoteCandidates() {
		if rc.Addr.Equal(addr) {
			remoteCand = rc
			found = true
			break
		}
	}
	if !found {
		remoteCand = RemoteCandidate{Candidate: Candidate{
			Addr:        addr,
			Kind:        candidate.PeerReflexive,
			Priority:    priority,
			Foundation:  a.foundations.AssignPeerReflexive(),
			ComponentID: comp.ID,
		}}
		comp.AddRemote(remoteCand)
	}

	triggerPair := NewCandidatePair(localCand, remoteCand, a.Controlling())

	a.mu.Lock()
	started := a.state != AgentWaiting
	a.mu.Unlock()

	if !started {
		a.mu.Lock()
		a.preDiscovered[stream] = append(a.preDiscovered[stream], triggerPair)
		a.mu.Unlock()
		return
	}

	a.triggerCheck(stream, triggerPair, useCandidate)
}

// triggerCheck implements spec.md §4.6's trigger_check.
func (a *Agent) triggerCheck(stream *Stream, triggerPair *CandidatePair, useCandidateReceived bool) {
	list := stream.CheckList()
	for _, existing := range list.Pairs() {
		if existing.Equal(triggerPair) {
			if useCandidateReceived {
				existing.markUseCandidateReceived()
			}
			if existing.State() == Succeeded && !a.Controlling() && existing.hasUseCandidateReceived() {
				a.nominationConfirmed(existing)
				return
			}
			if existing.State() == InProgress {
				// Best-effort cancellation: superseding via a
				// triggered check is sufficient even if the old
				// transaction's result arrives later (spec.md §5
				// Cancellation).
				existing.setState(Failed, false)
			}
			list.ScheduleTriggeredCheck(existing)
			return
		}
	}

	if useCandidateReceived {
		triggerPair.markUseCandidateReceived()
	}
	list.AddPair(triggerPair)
	list.ScheduleTriggeredCheck(triggerPair)
}

func (a *Agent) replySuccess(req *stun.Message, conn net.PacketConn, remote net.Addr) {
	udp, ok := remote.(*net.UDPAddr)
	if !ok {
		return
	}
	resp := stun.New()
	resp.Type = stun.NewType(stun.MethodBinding, stun.ClassSuccessResponse)
	resp.TransactionID = req.TransactionID
	resp.WriteHeader()
	if err := (&stun.XORMappedAddress{IP: udp.IP, Port: udp.Port}).AddTo(resp); err != nil {
		return
	}
	var username stun.Username
	_ = username.GetFrom(req)
	if err := username.AddTo(resp); err != nil {
		return
	}
	resp.Add(stun.AttrSoftware, []byte(a.config().Software))
	key := []byte(a.LocalCredentials().Password)
	if err := stun.NewShortTermIntegrity(string(key)).AddTo(resp); err != nil {
		return
	}
	if err := stun.Fingerprint.AddTo(resp); err != nil {
		return
	}
	_, _ = conn.WriteTo(resp.Raw, remote)
}

func (a *Agent) replyError(req *stun.Message, conn net.PacketConn, remote net.Addr, code stun.ErrorCode) {
	resp := stun.New()
	resp.Type = stun.NewType(stun.MethodBinding, stun.ClassErrorResponse)
	resp.TransactionID = req.TransactionID
	resp.WriteHeader()
	if err := (&stun.ErrorCodeAttribute{Code: code}).AddTo(resp); err != nil {
		return
	}
	resp.Add(stun.AttrSoftware, []byte(a.config().Software))
	if err := stun.Fingerprint.AddTo(resp); err != nil {
		return
	}
	_, _ = conn.WriteTo(resp.Raw, remote)
}

func (a *Agent) replyRoleConflict(req *stun.Message, conn net.PacketConn, remote net.Addr) {
	resp := stun.New()
	resp.Type = stun.NewType(stun.MethodBinding, stun.ClassErrorResponse)
	resp.TransactionID = req.TransactionID
	resp.WriteHeader()
	if err := (&stun.ErrorCodeAttribute{Code: stunattrs.RoleConflict}).AddTo(resp); err != nil {
		return
	}
	resp.Add(stun.AttrSoftware, []byte(a.config().Software))
	key := []byte(a.LocalCredentials().Password)
	if err := stun.NewShortTermIntegrity(string(key)).AddTo(resp); err != nil {
		return
	}
	if err := stun.Fingerprint.AddTo(resp); err != nil {
		return
	}
	_, _ = conn.WriteTo(resp.Raw, remote)
}
