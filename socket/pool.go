package socket

import (
	"sync"

	"go.uber.org/zap"
)

// workerPool is the bounded worker executor of spec.md §5: a fixed
// number of goroutines drain a shared queue of datagrams, each
// returning to the pool (blocking on the queue channel) once its
// datagram is processed rather than running one goroutine per packet.
type workerPool struct {
	WorkerFunc      func(*packet) error
	MaxWorkersCount int
	Logger          *zap.Logger

	mu      sync.Mutex
	queue   chan *packet
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// Start launches MaxWorkersCount worker goroutines. Safe to call after
// a prior Stop.
func (p *workerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.queue = make(chan *packet, p.MaxWorkersCount)
	p.stop = make(chan struct{})
	n := p.MaxWorkersCount
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
}

func (p *workerPool) runWorker() {
	defer p.wg.Done()
	for {
		select {
		case pkt := <-p.queue:
			if err := p.WorkerFunc(pkt); err != nil && p.Logger != nil {
				p.Logger.Debug("worker func failed", zap.Error(err))
			}
			putPacket(pkt)
		case <-p.stop:
			return
		}
	}
}

// Serve enqueues pkt for processing by a worker. It reports false
// without blocking if the queue is saturated, so the caller (the
// socket's read loop) can apply backpressure instead of growing
// memory unboundedly.
func (p *workerPool) Serve(pkt *packet) bool {
	select {
	case p.queue <- pkt:
		return true
	default:
		return false
	}
}

// Stop halts every worker goroutine and waits for in-flight jobs to
// finish. Safe to call multiple times.
func (p *workerPool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stop)
	p.mu.Unlock()
	p.wg.Wait()
}
