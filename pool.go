package sslxray

import (
	"fmt"
	"runtime"

	"github.com/proxycore/sslxray/userdb"
)

// Pool is the thread manager: it owns a fixed set of Workers and the
// attach/detach operations that route connections onto the least-loaded
// one. It never opens listening sockets or forges certificates; that is
// the embedding program's job.
type Pool struct {
	opts    Options
	workers []*Worker
}

// NewPool builds a Pool from opts. Workers are not started until Run.
func NewPool(opts Options) *Pool {
	return &Pool{opts: opts}
}

// Run starts N = 2×runtime.NumCPU() Workers (or Options.NumWorkers, when
// set), preparing each one's optional DNS resolver and user-lookup handle
// before its event loop goroutine is spawned, and blocks until every
// Worker has signalled ready via its one-shot channel close.
//
// If preparing a Worker's resources fails partway through, every
// already-prepared Worker is torn down in reverse order and the error is
// returned; no goroutines are started in that case.
func (p *Pool) Run() error {
	n := p.opts.NumWorkers
	if n <= 0 {
		n = 2 * runtime.NumCPU()
	}

	workers := make([]*Worker, 0, n)
	for i := 0; i < n; i++ {
		w := newWorker(i, p)

		w.dns = p.opts.newDNSResolver()

		if p.opts.UserAuth {
			lookup, err := userdb.Prepare(p.opts.UserDB)
			if err != nil {
				if w.dns != nil {
					w.dns.Close()
				}
				closeWorkerResources(workers)
				return fmt.Errorf("sslxray: prepare worker %d user lookup: %w", i, err)
			}
			w.userLookup = lookup
		}

		workers = append(workers, w)
	}

	p.workers = workers
	for _, w := range p.workers {
		go w.run()
	}
	for _, w := range p.workers {
		<-w.ready
	}
	return nil
}

// closeWorkerResources releases any per-Worker resources prepared so far,
// in reverse order, when Run fails partway through.
func closeWorkerResources(workers []*Worker) {
	for i := len(workers) - 1; i >= 0; i-- {
		w := workers[i]
		if w.userLookup != nil {
			w.userLookup.Close()
		}
		if w.dns != nil {
			w.dns.Close()
		}
	}
}

// Attach selects the least-loaded Worker and binds c to it. It acquires
// at most one Worker mutex at a time, scanning
// Worker 0 first and keeping a running minimum with a strict `<`
// comparison so ties resolve to the lowest index. The connection is not
// yet appended to the winner's conns list. That happens in AddConn,
// once protocol setup has succeeded.
func (p *Pool) Attach(c *Conn) error {
	w, err := p.leastLoaded()
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.load++
	if w.load > w.maxLoad {
		w.maxLoad = w.load
	}
	w.mu.Unlock()

	c.thr = w
	return nil
}

func (p *Pool) leastLoaded() (*Worker, error) {
	if len(p.workers) == 0 {
		return nil, fmt.Errorf("sslxray: pool has no running workers")
	}

	best := p.workers[0]
	best.mu.Lock()
	bestLoad := best.load
	best.mu.Unlock()

	for _, w := range p.workers[1:] {
		w.mu.Lock()
		load := w.load
		w.mu.Unlock()
		if load < bestLoad {
			best, bestLoad = w, load
		}
	}
	return best, nil
}

// AttachChild increments the owning Worker's load for a server-side child
// connection. Children never go through
// least-loaded selection: they always share their parent's Worker, which
// Conn.NewChild already arranges by copying c.thr.
func (p *Pool) AttachChild(c *Conn) {
	w := c.thr
	w.mu.Lock()
	w.load++
	if w.load > w.maxLoad {
		w.maxLoad = w.load
	}
	w.mu.Unlock()
}

// AddConn appends c to its Worker's conns list, once, after protocol
// setup has succeeded, so the timer never observes a half-built
// connection. Idempotent: a second
// call on an already-added connection is a no-op, so callers do not need
// to track whether they already added it.
func (p *Pool) AddConn(c *Conn) {
	w := c.thr
	w.mu.Lock()
	defer w.mu.Unlock()
	if c.addedToThrConns {
		return
	}
	w.conns.prepend(c)
	c.addedToThrConns = true
}

// DetachLocked decrements c's Worker's load and removes c from its conns
// list if present. The caller must already hold c.thr's mutex: the
// locked and self-locking variants are two distinct entry points rather
// than one function branching on a re-entrancy flag.
func (p *Pool) DetachLocked(c *Conn) {
	if c.detached {
		return
	}
	c.detached = true
	// Any children still carried by c gave up their own detach when the
	// parent went away wholesale (idle expiry, read-pump teardown); their
	// load share is released here so the Worker's load keeps matching its
	// live connection count after the parent's removal.
	for child := c.Children; child != nil; child = child.childNext {
		p.DetachChildLocked(child)
	}
	w := c.thr
	w.load--
	if c.addedToThrConns {
		w.conns.remove(c)
		c.addedToThrConns = false
	}
}

// Detach acquires c's Worker mutex itself and then performs DetachLocked.
// Use this from any context that is not already inside the Worker's timer
// tick (which already holds the mutex and must call DetachLocked
// directly).
func (p *Pool) Detach(c *Conn) {
	w := c.thr
	w.mu.Lock()
	p.DetachLocked(c)
	w.mu.Unlock()
}

// DetachChildLocked decrements load only; it never touches the conns
// list, since children are never inserted into it. The caller must
// already hold c.thr's mutex.
func (p *Pool) DetachChildLocked(c *Conn) {
	if c.detached {
		return
	}
	c.detached = true
	c.thr.load--
}

// DetachChild acquires the Worker mutex itself before calling
// DetachChildLocked.
func (p *Pool) DetachChild(c *Conn) {
	w := c.thr
	w.mu.Lock()
	p.DetachChildLocked(c)
	w.mu.Unlock()
}

// Free tears the pool down: it asks every Worker's
// event loop to break, waits for all of them to exit, and then releases
// each Worker's DNS resolver and user-lookup handle in reverse order.
// Loop-breaks are all issued before any join, so Workers can exit in
// parallel rather than serially.
func (p *Pool) Free() {
	for _, w := range p.workers {
		close(w.stopped)
	}
	for _, w := range p.workers {
		<-w.done
	}
	closeWorkerResources(p.workers)
	p.workers = nil
}

// Serve starts the per-connection read pump(s) on c's owning Worker:
// client-to-server bytes drive c.ProtoCtx.ReadCB, and, once c.Dst is set,
// server-to-client bytes are relayed back unmodified. Callers invoke this
// once, after AddConn, to begin driving the connection.
func (p *Pool) Serve(c *Conn) {
	go c.thr.serve(c)
	if c.Dst != nil {
		go c.thr.serveReverse(c)
	}
}
