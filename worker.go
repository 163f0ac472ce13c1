package sslxray

import (
	"errors"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/proxycore/sslxray/dnsresolver"
	"github.com/proxycore/sslxray/logging"
	"github.com/proxycore/sslxray/metrics"
	"github.com/proxycore/sslxray/userdb"
)

// Worker is one connection-handling thread: an event loop (here, a
// control goroutine driving the idle-expiry/stats timer) plus the
// connection list and counters it owns exclusively. Go's scheduler
// multiplexes goroutines onto OS threads for us, so the per-connection
// I/O pump each Worker.serve call runs is itself a goroutine rather than
// a callback dispatched from one literal OS thread. The ownership
// invariant holds exactly the same way: each Conn's pump goroutine is
// the only goroutine that ever calls into that Conn's ProtoCtx, and
// load/conns stay mutex-consistent.
type Worker struct {
	idx  int
	pool *Pool

	mu    sync.Mutex
	conns connList
	load  int

	dns        *dnsresolver.Resolver
	userLookup *userdb.Lookup

	// Stats accumulated between ticks, guarded by mu alongside
	// load/conns so a snapshot always reflects one instant.
	maxLoad       int
	maxFD         int
	timeoutCount  uint64
	statsIdx      uint64
	timedoutConns uint64
	errorsCount   uint64
	setWatermarks uint64
	unsetWatermks uint64

	extIn, extOut atomic.Uint64
	intIn, intOut atomic.Uint64

	ready   chan struct{}
	stopped chan struct{}
	done    chan struct{}
}

func newWorker(idx int, pool *Pool) *Worker {
	return &Worker{
		idx:     idx,
		pool:    pool,
		ready:   make(chan struct{}),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Load returns the current connection+child count attributed to this
// Worker.
func (w *Worker) Load() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.load
}

// DNS returns this Worker's DNS resolver handle, or nil when
// Options.DNSRequired was not set. Exposed so an embedder's accept
// handler can resolve a destination hostname on the same Worker a
// connection is bound to, without reaching into package-private state.
func (w *Worker) DNS() *dnsresolver.Resolver {
	return w.dns
}

// UserLookup returns this Worker's prepared user-lookup handle, or nil
// when Options.UserAuth was not set.
func (w *Worker) UserLookup() *userdb.Lookup {
	return w.userLookup
}

// run is the Worker's event-loop entry point: it installs the periodic
// expiry/stats timer and blocks until the Pool breaks the loop. It
// signals readiness by closing w.ready exactly once, so Pool.Run can
// block on a completion primitive instead of spinning on a flag.
func (w *Worker) run() {
	period := w.pool.opts.ExpiredConnCheckPeriod
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	defer close(w.done)

	close(w.ready)

	for {
		select {
		case <-ticker.C:
			w.timerTick()
		case <-w.stopped:
			return
		}
	}
}

// timerTick is the recurring timer event. It runs entirely under w.mu,
// which is why the expiry path below frees through DetachLocked, never
// Detach: this function must not re-acquire a lock it already holds.
func (w *Worker) timerTick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	timeout := w.pool.opts.ConnIdleTimeout
	statsLog := w.pool.opts.StatsLog
	sinks := w.pool.opts.sinks()

	expired := w.spliceExpiredLocked(now, timeout)
	for e := expired; e != nil; {
		next := e.nextExpired
		if statsLog {
			elapsed := int64(e.IdleFor(now).Seconds())
			if err := sinks.Conn(expiredLine(w.idx, elapsed, e)); err != nil {
				sinks.Err("sslxray: expired conn logging failed: %v", err)
			}
		}
		w.pool.DetachLocked(e)
		e.Close()
		w.timedoutConns++
		e = next
	}

	if !statsLog {
		return
	}
	w.timeoutCount++
	statsPeriod := w.pool.opts.StatsPeriod
	if statsPeriod == 0 {
		statsPeriod = 1
	}
	if w.timeoutCount < statsPeriod {
		return
	}
	w.timeoutCount = 0
	snap := w.emitStatsLocked(now, sinks)
	w.metricsSnapshot(w.pool.opts.Metrics, snap)
}

// spliceExpiredLocked walks conns once, computing elapsed idle time for
// each, and returns the head of a nextExpired-linked chain of everything
// past timeout. Must be called with w.mu held.
func (w *Worker) spliceExpiredLocked(now time.Time, timeout time.Duration) *Conn {
	var expired *Conn
	w.conns.forEach(func(c *Conn) {
		if c.IdleFor(now) > timeout {
			c.nextExpired = expired
			expired = c
		}
	})
	return expired
}

// emitStatsLocked logs IDLE records for currently-live idle connections
// and then the aggregate STATS record, resetting period counters
// afterward and returning the snapshot it emitted. Must be called with
// w.mu held.
func (w *Worker) emitStatsLocked(now time.Time, sinks logging.Sinks) statsSnapshot {
	period := w.pool.opts.ExpiredConnCheckPeriod
	idx := 1
	maxAT, maxCT := time.Duration(0), time.Duration(0)
	maxFD := 0

	w.conns.forEach(func(c *Conn) {
		at := c.IdleFor(now)
		ct := now.Sub(c.CTime)
		if at > maxAT {
			maxAT = at
		}
		if ct > maxCT {
			maxCT = ct
		}
		if c.ChildCount > maxFD {
			maxFD = c.ChildCount
		}

		// Report idle connections only, i.e. ones that have been idle
		// since the last check period.
		if at >= period {
			if err := sinks.Conn(idleLine(w.idx, idx, c, int64(at.Seconds()), int64(ct.Seconds()))); err != nil {
				sinks.Err("sslxray: idle conn logging failed: %v", err)
			}
		}
		if c.Children != nil {
			sinks.Dbg("sslxray: thr=%d conn id=%d span=%s %s", w.idx, c.ID, c.SpanID, dbgChildTree(idx, c))
		}
		idx++
	})

	snap := statsSnapshot{
		thrIdx: w.idx,
		mld:    w.maxLoad,
		mfd:    maxFD,
		mat:    int64(maxAT.Seconds()),
		mct:    int64(maxCT.Seconds()),
		iib:    w.intIn.Load(),
		iob:    w.intOut.Load(),
		eib:    w.extIn.Load(),
		eob:    w.extOut.Load(),
		swm:    w.setWatermarks,
		uwm:    w.unsetWatermks,
		to:     w.timedoutConns,
		err:    w.errorsCount,
		si:     w.statsIdx,
	}
	if err := sinks.Stats(statsLine(snap)); err != nil {
		sinks.Err("sslxray: stats logging failed: %v", err)
	}

	w.statsIdx++
	w.timedoutConns = 0
	w.errorsCount = 0
	w.setWatermarks = 0
	w.unsetWatermks = 0
	w.intIn.Store(0)
	w.intOut.Store(0)
	w.extIn.Store(0)
	w.extOut.Store(0)

	// Do not reset to 0 directly: there may be active conns, so these
	// two are reset to the current live values instead.
	w.maxFD = maxFD
	w.maxLoad = w.load

	return snap
}

// recordError classifies and counts a connection error for the next
// STATS tick's "err" counter and the error-level sink. The log line
// includes c's SpanID so every error a single connection produces over
// its lifetime can be grepped together.
func (w *Worker) recordError(c *Conn, err error) {
	if err == nil {
		return
	}
	label := w.pool.opts.errClassifier().Classify(err)
	w.mu.Lock()
	w.errorsCount++
	w.mu.Unlock()
	w.pool.opts.sinks().Err("sslxray: thr=%d span=%s: %s: %v", w.idx, c.SpanID, label, err)
}

// serve pumps inbound bytes from c.Src through c.ProtoCtx until the
// connection closes or errors. It is the only goroutine that ever
// touches c's protocol state. Reads go straight through c.Src rather than
// through any Worker-owned buffering, so that when ReadCB swaps
// c.ProtoCtx (and, via AutoSSLHandler.commitUpgrade, c.Src itself) the
// very next Read call transparently continues on the new handler/socket.
func (w *Worker) serve(c *Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.Src.Read(buf)
		if n > 0 {
			c.Touch()
			w.extIn.Add(uint64(n))
			if cbErr := c.ProtoCtx.ReadCB(c, buf[:n]); cbErr != nil {
				w.recordError(c, cbErr)
				w.teardown(c)
				return
			}
		}
		if err != nil {
			event := EventEOF
			if !errors.Is(err, io.EOF) {
				w.recordError(c, err)
				event = EventError
			}
			_ = c.ProtoCtx.EventCB(c, event)
			w.teardown(c)
			return
		}
	}
}

// serveReverse pumps bytes from c.Dst back to c.Src: the server-to-client
// half of a passthrough/TLS-terminating session. It is the socket-level
// counterpart to serve's client-to-server half; handler callbacks are not
// involved in this direction, matching PassthroughHandler/
// TLSTerminatingHandler's behavior of relaying the response stream
// unmodified.
func (w *Worker) serveReverse(c *Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.Dst.Read(buf)
		if n > 0 {
			w.intIn.Add(uint64(n))
			if _, werr := c.Src.Write(buf[:n]); werr == nil {
				c.Touch()
				w.extOut.Add(uint64(n))
			} else {
				w.recordError(c, werr)
				w.teardown(c)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.recordError(c, err)
			}
			w.teardown(c)
			return
		}
	}
}

// teardown detaches and frees a connection that ended on its own (read
// error/EOF), as opposed to the timer-driven idle-expiry path, which
// goes through DetachLocked because it already holds w.mu.
func (w *Worker) teardown(c *Conn) {
	w.pool.Detach(c)
	c.Close()
}

func workerLabel(idx int) string {
	return strconv.Itoa(idx)
}

// metricsSnapshot mirrors the stats tick that snap captured onto reg,
// when the Pool was configured with one. Called right after
// emitStatsLocked, so the series reflect the same instant the STATS log
// line did. Must be called with w.mu held.
func (w *Worker) metricsSnapshot(reg *metrics.Registry, snap statsSnapshot) {
	if reg == nil {
		return
	}
	label := workerLabel(w.idx)
	reg.MaxLoad.WithLabelValues(label).Set(float64(snap.mld))
	reg.MaxFD.WithLabelValues(label).Set(float64(snap.mfd))
	reg.MaxInactivity.WithLabelValues(label).Set(float64(snap.mat))
	reg.MaxAge.WithLabelValues(label).Set(float64(snap.mct))
	reg.TimedOutConns.WithLabelValues(label).Add(float64(snap.to))
	reg.Errors.WithLabelValues(label).Add(float64(snap.err))
}
