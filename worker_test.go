package sslxray

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/proxycore/sslxray/metrics"
)

type recordingSink struct {
	connLines  []string
	statsLines []string
	dbgLines   []string
}

func (s *recordingSink) Conn(line string) error  { s.connLines = append(s.connLines, line); return nil }
func (s *recordingSink) Stats(line string) error { s.statsLines = append(s.statsLines, line); return nil }
func (s *recordingSink) Dbg(format string, args ...any) {
	s.dbgLines = append(s.dbgLines, fmt.Sprintf(format, args...))
}
func (s *recordingSink) Err(format string, args ...any) {}

func newTestWorker(t *testing.T, opts Options) *Worker {
	t.Helper()
	pool := &Pool{opts: opts}
	return newWorker(0, pool)
}

// TestTimerTickEmitsStatsOnlyEveryConfiguredPeriod exercises the stats
// cadence directly, without a live ticker: three manual timerTick calls
// with StatsPeriod=3 must produce exactly one STATS line, and a fourth
// call must not yet produce a second one.
func TestTimerTickEmitsStatsOnlyEveryConfiguredPeriod(t *testing.T) {
	sink := &recordingSink{}
	w := newTestWorker(t, Options{
		StatsLog:               true,
		StatsPeriod:            3,
		ConnIdleTimeout:        time.Hour,
		ExpiredConnCheckPeriod: time.Second,
		Sinks:                  sink,
	})

	for i := 0; i < 2; i++ {
		w.timerTick()
		if len(sink.statsLines) != 0 {
			t.Fatalf("tick %d: got %d STATS lines, want 0 before the period elapses", i+1, len(sink.statsLines))
		}
	}
	w.timerTick()
	if len(sink.statsLines) != 1 {
		t.Fatalf("got %d STATS lines after 3 ticks, want 1", len(sink.statsLines))
	}

	w.timerTick()
	w.timerTick()
	w.timerTick()
	if len(sink.statsLines) != 2 {
		t.Fatalf("got %d STATS lines after 6 ticks, want 2", len(sink.statsLines))
	}
	if sink.statsLines[0] == sink.statsLines[1] {
		t.Fatalf("expected the stats sequence index to differentiate successive STATS lines, got identical lines")
	}
}

// TestTimerTickExpiresStaleConnection covers the idle-eviction path at the
// Worker level: a connection whose ATime predates ConnIdleTimeout must be
// logged, detached, and closed on the next tick, and a connection within
// the timeout must survive untouched.
func TestTimerTickExpiresStaleConnection(t *testing.T) {
	sink := &recordingSink{}
	w := newTestWorker(t, Options{
		StatsLog:               true,
		StatsPeriod:            100,
		ConnIdleTimeout:        10 * time.Second,
		ExpiredConnCheckPeriod: time.Second,
		Sinks:                  sink,
	})

	stale := &Conn{ID: 1, thr: w, addedToThrConns: true}
	stale.ATime.Store(time.Now().Add(-time.Minute).Unix())
	fresh := &Conn{ID: 2, thr: w, addedToThrConns: true}
	fresh.Touch()

	w.conns.prepend(fresh)
	w.conns.prepend(stale)
	w.load = 2

	w.timerTick()

	if w.load != 1 {
		t.Fatalf("got load=%d after expiring one of two conns, want 1", w.load)
	}
	if len(sink.connLines) != 1 {
		t.Fatalf("got %d EXPIRED lines, want 1", len(sink.connLines))
	}
	remaining := idsOf(&w.conns)
	if len(remaining) != 1 || remaining[0] != 2 {
		t.Fatalf("got remaining ids %v, want [2]", remaining)
	}
}

// TestEmitStatsLockedResetsWatermarksToLiveValues pins the
// reset-to-current-not-zero behavior: maxLoad must settle to the
// Worker's current live load, not zero, once a stats period elapses.
func TestEmitStatsLockedResetsWatermarksToLiveValues(t *testing.T) {
	sink := &recordingSink{}
	w := newTestWorker(t, Options{ExpiredConnCheckPeriod: time.Second})
	w.load = 2
	w.maxLoad = 5

	w.mu.Lock()
	w.emitStatsLocked(time.Now(), sink)
	w.mu.Unlock()

	if w.maxLoad != 2 {
		t.Fatalf("got maxLoad=%d after stats reset, want 2 (current live load)", w.maxLoad)
	}
	if len(sink.statsLines) != 1 {
		t.Fatalf("got %d STATS lines, want 1", len(sink.statsLines))
	}
}

// TestEmitStatsLockedTracesChildTree checks that the stats walk emits a
// debug line naming each child of a connection that carries them, and
// stays silent for childless connections.
func TestEmitStatsLockedTracesChildTree(t *testing.T) {
	sink := &recordingSink{}
	w := newTestWorker(t, Options{ExpiredConnCheckPeriod: time.Second, Sinks: sink})

	parent := &Conn{ID: 1, thr: w, addedToThrConns: true}
	parent.Touch()
	child := &Conn{ID: 2, thr: w}
	child.Touch()
	parent.Children = child
	parent.ChildCount = 1
	childless := &Conn{ID: 3, thr: w, addedToThrConns: true}
	childless.Touch()

	w.conns.prepend(childless)
	w.conns.prepend(parent)
	w.load = 3

	w.mu.Lock()
	w.emitStatsLocked(time.Now(), sink)
	w.mu.Unlock()

	if len(sink.dbgLines) != 1 {
		t.Fatalf("got %d child-tree debug lines, want 1", len(sink.dbgLines))
	}
	if !strings.Contains(sink.dbgLines[0], "child id=2") {
		t.Fatalf("got debug line %q, want it to name child id=2", sink.dbgLines[0])
	}
}

// TestMetricsSnapshotMirrorsStatsTick checks that the optional Prometheus
// registry reflects the same snapshot the STATS log line carried.
func TestMetricsSnapshotMirrorsStatsTick(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	w := newTestWorker(t, Options{ExpiredConnCheckPeriod: time.Second, Metrics: reg})
	w.load = 3
	w.maxLoad = 5
	w.timedoutConns = 2

	w.mu.Lock()
	snap := w.emitStatsLocked(time.Now(), &recordingSink{})
	w.metricsSnapshot(reg, snap)
	w.mu.Unlock()

	if got := testutil.ToFloat64(reg.MaxLoad.WithLabelValues("0")); got != 5 {
		t.Fatalf("got max-load gauge %v, want 5", got)
	}
	if got := testutil.ToFloat64(reg.TimedOutConns.WithLabelValues("0")); got != 2 {
		t.Fatalf("got timed-out counter %v, want 2", got)
	}
}

// TestRecordErrorIncrementsCounterAndIncludesSpanID checks that
// recordError counts the failure for the next STATS tick and labels the
// error-level log line with the connection's span id.
func TestRecordErrorIncrementsCounterAndIncludesSpanID(t *testing.T) {
	var gotFormat string
	var gotArgs []any
	w := newTestWorker(t, Options{
		Sinks: &captureErrSink{
			record: func(format string, args ...any) {
				gotFormat = format
				gotArgs = args
			},
		},
	})

	c := &Conn{SpanID: "span-123"}
	w.recordError(c, errors.New("boom"))

	if w.errorsCount != 1 {
		t.Fatalf("got errorsCount=%d, want 1", w.errorsCount)
	}
	if len(gotArgs) < 2 || gotArgs[1] != "span-123" {
		t.Fatalf("expected span id span-123 among log args, format=%q args=%v", gotFormat, gotArgs)
	}
}

func TestRecordErrorOnNilErrorIsNoop(t *testing.T) {
	w := newTestWorker(t, Options{Sinks: &recordingSink{}})
	w.recordError(&Conn{}, nil)
	if w.errorsCount != 0 {
		t.Fatalf("got errorsCount=%d, want 0 for a nil error", w.errorsCount)
	}
}

type captureErrSink struct {
	record func(format string, args ...any)
}

func (s *captureErrSink) Conn(line string) error        { return nil }
func (s *captureErrSink) Stats(line string) error       { return nil }
func (s *captureErrSink) Dbg(format string, args ...any) {}
func (s *captureErrSink) Err(format string, args ...any) { s.record(format, args...) }
