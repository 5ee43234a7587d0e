// Package transaction implements the retransmitting STUN transactional
// layer described as an external collaborator in spec.md §6.1/§9 (C9):
// building Binding requests/indications/responses, sending a request
// with RFC 5389 retransmission timers, and invoking a Collector on
// success, STUN error, or final timeout.
//
// The spec treats this layer as external to the connectivity-check
// engine; this package is that external layer's concrete
// implementation, built directly on github.com/gortc/stun the way the
// vendored gortc/ice icecontrol.go/priority.go attribute codecs are.
package transaction

import (
	"crypto/rand"
	"net"
	"sync"
	"time"

	"github.com/gortc/stun"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Result is delivered to a Collector when a transaction concludes.
type Result struct {
	Message *stun.Message // nil on Timeout
	RTT     time.Duration
	Timeout bool
	Local   net.Addr // arrival address, filled in by the socket layer on responses
	Remote  net.Addr // response's source address, for the spec.md §4.5 symmetry check
}

// Collector receives the outcome of a single transaction. Called at
// most once per Send.
type Collector interface {
	Collect(id stun.TransactionID, res Result)
}

// CollectorFunc adapts a function to a Collector.
type CollectorFunc func(id stun.TransactionID, res Result)

// Collect implements Collector.
func (f CollectorFunc) Collect(id stun.TransactionID, res Result) { f(id, res) }

// Sender abstracts the socket a transaction is written to, so the
// Client can be unit-tested without a real UDP socket and so one
// Client can multiplex several local sockets (one per base candidate).
type Sender interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// Config bounds one transaction's retransmission schedule. The spec
// (§5 Timeouts) requires this to be configurable per agent.
type Config struct {
	InitialRTO  time.Duration // RFC 5389 default: 500ms; ICE agents commonly use 100-250ms
	MaxRTO      time.Duration
	MaxRetransmits int
}

// DefaultConfig mirrors RFC 8445's recommended Ta-paced retransmission
// schedule for a single check (7 retransmits, doubling, capped).
var DefaultConfig = Config{
	InitialRTO:     250 * time.Millisecond,
	MaxRTO:         1600 * time.Millisecond,
	MaxRetransmits: 7,
}

type pending struct {
	id        stun.TransactionID
	collector Collector
	cancel    chan struct{}
	cancelled bool
	start     time.Time
	mu        sync.Mutex
}

// Client is the retransmitting STUN transactional layer. One Client
// typically serves one PaceMaker/check list, but is safe to share.
type Client struct {
	log    *zap.Logger
	sender Sender

	mu      sync.Mutex
	pending map[stun.TransactionID]*pending
}

// NewClient returns a Client writing datagrams through sender.
func NewClient(sender Sender, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		log:     log,
		sender:  sender,
		pending: make(map[stun.TransactionID]*pending),
	}
}

// NewTransactionID returns a cryptographically random STUN transaction
// ID, as required by RFC 8489 Section 6.
func NewTransactionID() (stun.TransactionID, error) {
	var id stun.TransactionID
	if _, err := rand.Read(id[:]); err != nil {
		return id, errors.Wrap(err, "failed to generate transaction id")
	}
	return id, nil
}

// Send transmits req to remote and schedules retransmission per cfg,
// invoking collector exactly once when the transaction concludes
// (success, STUN error response, or final timeout). Send itself never
// blocks past the first transmission attempt: retransmission runs on
// its own goroutine, matching the "only suspension points" list in
// spec.md §5.
func (c *Client) Send(req *stun.Message, remote net.Addr, cfg Config, collector Collector) (stun.TransactionID, error) {
	raw := req.Raw
	if len(raw) == 0 {
		req.WriteHeader()
		raw = req.Raw
	}
	p := &pending{
		id:        req.TransactionID,
		collector: collector,
		cancel:    make(chan struct{}),
		start:     time.Now(),
	}
	c.mu.Lock()
	c.pending[req.TransactionID] = p
	c.mu.Unlock()

	if _, err := c.sender.WriteTo(raw, remote); err != nil {
		c.mu.Lock()
		delete(c.pending, req.TransactionID)
		c.mu.Unlock()
		return req.TransactionID, err
	}
	go c.retransmit(raw, remote, cfg, p)
	return req.TransactionID, nil
}

func (c *Client) retransmit(raw []byte, remote net.Addr, cfg Config, p *pending) {
	rto := cfg.InitialRTO
	for attempt := 0; attempt < cfg.MaxRetransmits; attempt++ {
		select {
		case <-time.After(rto):
		case <-p.cancel:
			return
		}
		p.mu.Lock()
		cancelled := p.cancelled
		p.mu.Unlock()
		if cancelled {
			return
		}
		if _, err := c.sender.WriteTo(raw, remote); err != nil {
			c.log.Debug("retransmit write failed", zap.Error(err))
		}
		rto *= 2
		if rto > cfg.MaxRTO {
			rto = cfg.MaxRTO
		}
	}
	select {
	case <-time.After(rto):
	case <-p.cancel:
		return
	}
	// Final retransmit window elapsed with no terminal event: timeout.
	c.timeout(p)
}

func (c *Client) timeout(p *pending) {
	c.mu.Lock()
	cur, ok := c.pending[p.id]
	if ok && cur == p {
		delete(c.pending, p.id)
	}
	c.mu.Unlock()
	if !ok || cur != p {
		return
	}
	p.collector.Collect(p.id, Result{Timeout: true, RTT: time.Since(p.start)})
}

// HandleMessage feeds an inbound STUN message (response or indication
// addressed to one of our transaction IDs) into the Client. remote is
// the datagram's source address, carried through so the caller's
// symmetry check (spec.md §4.5) can compare it against the pair's
// remote transport address. Returns true if the message was a response
// matching a pending transaction (and was therefore consumed).
func (c *Client) HandleMessage(m *stun.Message, local, remote net.Addr) bool {
	c.mu.Lock()
	p, ok := c.pending[m.TransactionID]
	if ok {
		delete(c.pending, m.TransactionID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()
	close(p.cancel)
	p.collector.Collect(m.TransactionID, Result{Message: m, RTT: time.Since(p.start), Local: local, Remote: remote})
	return true
}

// BuildBindingIndication returns an encoded STUN Binding indication
// carrying FINGERPRINT and the given SOFTWARE value (spec.md §6.1's
// build_binding_indication). A keep-alive indication is fire-and-forget:
// it is written directly through a Sender, never registered as a
// pending transaction (spec.md §9 "must not create a new transaction").
func BuildBindingIndication(software string) (*stun.Message, error) {
	m := stun.New()
	m.Type = stun.NewType(stun.MethodBinding, stun.ClassIndication)
	id, err := NewTransactionID()
	if err != nil {
		return nil, err
	}
	m.TransactionID = id
	m.WriteHeader()
	if software != "" {
		m.Add(stun.AttrSoftware, []byte(software))
	}
	if err := stun.Fingerprint.AddTo(m); err != nil {
		return nil, errors.Wrap(err, "failed to add fingerprint")
	}
	return m, nil
}

// Cancel aborts a pending transaction without invoking its collector.
// Used when a triggered check supersedes an in-progress ordinary check
// (spec.md §4.5/§5 Cancellation): the response handler must still
// tolerate late arrivals for a cancelled transaction id, which is why
// Cancel removes bookkeeping instead of leaving it for HandleMessage
// to silently drop — a stray late datagram for this id is simply
// reported as unmatched by HandleMessage afterwards.
func (c *Client) Cancel(id stun.TransactionID) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()
	close(p.cancel)
}

// Pending reports the number of in-flight transactions; used by tests
// and by Agent shutdown to wait out drains.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
