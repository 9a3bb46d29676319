package server

import (
	"net"
	"sync"

	"github.com/rsteinwert/csserver/internal/logger"
)

// worker is one slot in the fixed-size pool: it owns at most one live
// connection at a time, parking on signal between connections. conn is
// guarded by mu so the acceptor's linear scan and the worker's own
// clear-on-exit never race.
type worker struct {
	id     int
	mu     sync.Mutex
	conn   net.Conn
	signal chan struct{}
}

func (w *worker) idle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn == nil
}

// assign hands conn to the worker and wakes it. Caller must have
// confirmed idle() under the pool's scan just before calling this.
func (w *worker) assign(conn net.Conn) {
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	w.signal <- struct{}{}
}

func (w *worker) clear() {
	w.mu.Lock()
	w.conn = nil
	w.mu.Unlock()
}

// Pool is the fixed-size worker pool mandated by the wire protocol's
// concurrency model: N workers, created once at startup, assigned by an
// O(N) linear scan for the first idle slot. This is deliberately not a
// bounded channel of ready-made goroutines — a worker's identity (and
// its slot index) persists across every connection it serves, which is
// what lets the linear scan inspect live occupancy instead of consuming
// from a work queue.
type Pool struct {
	workers []*worker
	handle  func(conn net.Conn, workerID int)
}

// NewPool creates a fixed pool of n workers, each running handle for
// every connection assigned to it until the pool is stopped.
func NewPool(n int, handle func(conn net.Conn, workerID int)) *Pool {
	p := &Pool{
		workers: make([]*worker, n),
		handle:  handle,
	}
	for i := range p.workers {
		p.workers[i] = &worker{id: i, signal: make(chan struct{}, 1)}
		go p.run(p.workers[i])
	}
	return p
}

func (p *Pool) run(w *worker) {
	for range w.signal {
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()

		logger.Debug("worker handling connection", logger.WorkerID(w.id), logger.ConnectionID(conn.RemoteAddr().String()))
		p.handle(conn, w.id)
		w.clear()
	}
}

// Assign scans the pool for the first idle worker and hands it conn. If
// every worker is busy it returns false and leaves conn to the caller —
// the pool never queues beyond its N slots, matching the fixed-size design.
func (p *Pool) Assign(conn net.Conn) bool {
	for _, w := range p.workers {
		if w.idle() {
			w.assign(conn)
			return true
		}
	}
	return false
}

// Size returns the number of worker slots.
func (p *Pool) Size() int {
	return len(p.workers)
}
