package ice

import (
	"time"

	"go.uber.org/zap"

	"gortc.io/iceagent/internal/transaction"
)

// KeepAlivePairs returns the pairs of c that should receive periodic
// STUN Binding indications under strategy (spec.md §4.10).
// SelectedAndTcp degenerates to SelectedOnly since this module is
// UDP-only.
func KeepAlivePairs(c *Component, strategy KeepAliveStrategy) []*CandidatePair {
	switch strategy {
	case AllSucceeded:
		return c.SucceededPairs()
	case SelectedOnly, SelectedAndTcp:
		fallthrough
	default:
		if sel := c.Selected(); sel != nil {
			return []*CandidatePair{sel}
		}
		return nil
	}
}

// startKeepAlive arms the agent's periodic keep-alive ticker, unless
// one is already running or the configured interval is non-positive
// (keep-alives disabled). Idempotent, mirroring scheduleTermination.
func (a *Agent) startKeepAlive() {
	interval := a.config().KeepAliveInterval
	if interval <= 0 {
		return
	}
	a.mu.Lock()
	if a.keepAliveStop != nil {
		a.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	a.keepAliveStop = stop
	a.mu.Unlock()
	go a.runKeepAlive(interval, stop)
}

func (a *Agent) runKeepAlive(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.sendKeepAlives()
		case <-stop:
			return
		}
	}
}

func (a *Agent) stopKeepAlive() {
	a.mu.Lock()
	stop := a.keepAliveStop
	a.keepAliveStop = nil
	a.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

// sendKeepAlives emits one STUN Binding indication per pair
// KeepAlivePairs selects, across every stream/component the agent
// owns. Indications reuse the pair's existing (local-base,
// remote-candidate) socket and never register a transaction (spec.md
// §9).
func (a *Agent) sendKeepAlives() {
	a.mu.Lock()
	streams := make([]*Stream, len(a.streams))
	copy(streams, a.streams)
	a.mu.Unlock()

	strategy := a.config().KeepAliveStrategy
	software := a.config().Software
	for _, s := range streams {
		for _, c := range s.Components() {
			for _, pair := range KeepAlivePairs(c, strategy) {
				a.sendKeepAliveIndication(pair, software)
			}
		}
	}
}

func (a *Agent) sendKeepAliveIndication(pair *CandidatePair, software string) {
	conn := pair.Local.Conn()
	if conn == nil {
		return
	}
	msg, err := transaction.BuildBindingIndication(software)
	if err != nil {
		a.log.Debug("failed to build keep-alive indication", zap.Error(err))
		return
	}
	if _, err := conn.WriteTo(msg.Raw, pair.Remote.Addr.UDPAddr()); err != nil {
		a.log.Debug("failed to send keep-alive indication", zap.Stringer("remote", pair.Remote.Addr.UDPAddr()), zap.Error(err))
	}
}
