// Package socket implements the per-component UDP receive loop and
// worker executor of spec.md §5: a single reader goroutine per
// listening connection dispatches datagrams into a bounded worker pool,
// which demuxes and hands each one to the owning Agent.
package socket

import (
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"gortc.io/iceagent/internal/filter"
)

var packetPool = sync.Pool{
	New: func() interface{} {
		return &packet{buf: make([]byte, maxDatagramSize)}
	},
}

// maxDatagramSize is large enough for any STUN message this agent
// builds or accepts; RFC 8489 does not bound message size but
// practical ICE/STUN deployments stay well under it.
const maxDatagramSize = 2048

func acquirePacket() *packet {
	return packetPool.Get().(*packet)
}

func putPacket(p *packet) {
	p.conn = nil
	p.addr = nil
	p.n = 0
	packetPool.Put(p)
}

type packet struct {
	conn net.PacketConn
	addr net.Addr
	buf  []byte
	n    int
}

// Route dispatches a decoded datagram to an Agent; the socket learns
// which Agent owns a datagram by source address, since every inbound
// packet on a component's socket already passed admission (the Bag of
// §9).
type Route interface {
	// HandleInbound is Agent.HandleInbound's signature.
	HandleInbound(conn net.PacketConn, local, remote net.Addr, data []byte)
}

// Socket owns one net.PacketConn shared by every candidate harvested
// from it, draining it with a bounded worker pool and forwarding
// admitted datagrams to route (spec.md §5, adapted from
// internal/server.Server's worker()/serveConn()/Serve loop).
type Socket struct {
	conn  net.PacketConn
	route Route
	log   *zap.Logger

	// bag is consulted before a datagram reaches route: only sources
	// that completed a successful STUN Binding transaction are
	// admitted on the hot path (spec.md §9). nil disables filtering,
	// e.g. before any check has succeeded yet — STUN requests still
	// need to reach the agent to be answered, so Socket always admits
	// well-formed STUN messages regardless of the Bag and only applies
	// it to everything else.
	bag *filter.Bag

	pool *workerPool

	wg      sync.WaitGroup
	closeCh chan struct{}
	closed  bool
	mu      sync.Mutex
}

// New wraps conn, dispatching inbound datagrams to route through a
// pool of at most workers goroutines. A workers of 0 selects a single
// worker.
func New(conn net.PacketConn, route Route, bag *filter.Bag, workers int, log *zap.Logger) *Socket {
	if log == nil {
		log = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	s := &Socket{
		conn:    conn,
		route:   route,
		bag:     bag,
		log:     log,
		closeCh: make(chan struct{}),
	}
	s.pool = &workerPool{
		WorkerFunc:      s.process,
		MaxWorkersCount: workers,
		Logger:          log.Named("pool"),
	}
	return s
}

// Serve starts the worker pool and reads datagrams until Close. It
// blocks until the read loop exits, so callers run it in its own
// goroutine.
func (s *Socket) Serve() error {
	s.pool.Start()
	defer s.pool.Stop()

	for {
		select {
		case <-s.closeCh:
			return nil
		default:
		}

		pkt := acquirePacket()
		pkt.conn = s.conn
		n, addr, err := s.conn.ReadFrom(pkt.buf)
		if err != nil {
			putPacket(pkt)
			if isClosed(err) {
				return nil
			}
			s.log.Warn("read failed", zap.Error(err))
			return err
		}
		pkt.addr = addr
		pkt.n = n

		for i := 0; i < 7; i++ {
			if s.pool.Serve(pkt) {
				break
			}
			s.log.Warn("worker pool saturated")
			time.Sleep(300 * time.Millisecond)
		}
	}
}

func (s *Socket) process(pkt *packet) error {
	if !s.admit(pkt) {
		return nil
	}
	s.route.HandleInbound(pkt.conn, s.conn.LocalAddr(), pkt.addr, pkt.buf[:pkt.n])
	return nil
}

// admit implements spec.md §9's hot-path admission: STUN requests
// always pass (the agent must be able to answer a peer's first check
// before it has validated anything), everything else needs a prior
// Bag authorization.
func (s *Socket) admit(pkt *packet) bool {
	if s.bag == nil {
		return true
	}
	if looksLikeSTUN(pkt.buf[:pkt.n]) {
		return true
	}
	udp, ok := pkt.addr.(*net.UDPAddr)
	if !ok {
		return false
	}
	return s.bag.Allowed(udp.IP, udp.Port)
}

func looksLikeSTUN(b []byte) bool {
	// First two bits of a STUN message are always zero (RFC 8489 §6).
	return len(b) >= 20 && b[0]&0xC0 == 0
}

// Close stops the read loop and closes the underlying connection.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	s.mu.Unlock()
	return s.conn.Close()
}

func isClosed(err error) bool {
	return strings.HasSuffix(err.Error(), "use of closed network connection")
}
