package sslxray

import (
	"database/sql"
	"time"

	"github.com/proxycore/sslxray/dnsresolver"
	"github.com/proxycore/sslxray/errclass"
	"github.com/proxycore/sslxray/logging"
	"github.com/proxycore/sslxray/metrics"
)

// Options carries the pool's configuration. It is built and owned
// entirely by the embedding program: this package never parses flags or
// config files.
type Options struct {
	// ConnIdleTimeout is how long a connection may go without activity
	// before the Worker timer evicts it.
	ConnIdleTimeout time.Duration

	// ExpiredConnCheckPeriod is how often each Worker's timer tick runs.
	ExpiredConnCheckPeriod time.Duration

	// StatsPeriod is the number of timer ticks between STATS emissions.
	StatsPeriod uint64

	// StatsLog enables per-connection EXPIRED/IDLE logs and STATS
	// records. When false, the timer still evicts idle connections; it
	// just does not log about it.
	StatsLog bool

	// UserAuth enables a per-Worker prepared user-lookup statement
	// against UserDB.
	UserAuth bool
	UserDB   *sql.DB

	// DNSRequired mirrors opts_has_dns_spec(opts): whether each Worker
	// should be given a DNS resolver handle. DNSServer/DNSTimeout
	// configure it when true.
	DNSRequired bool
	DNSServer   string
	DNSTimeout  time.Duration

	// Sinks receives EXPIRED/IDLE/STATS/debug/error log lines. Defaults
	// to logging.Default (stderr) when nil.
	Sinks logging.Sinks

	// ErrClassifier labels connection errors for the error log and the
	// "errors" stats counter. Defaults to errclass.Default when nil.
	ErrClassifier errclass.Classifier

	// Metrics optionally mirrors each stats tick onto Prometheus
	// collectors. Nil disables metrics entirely (no cost, no series).
	Metrics *metrics.Registry

	// NumWorkers overrides the default of 2×runtime.NumCPU() Workers.
	// Zero means use the default. Exposed mainly for tests that need a
	// small, deterministic worker count.
	NumWorkers int
}

func (o Options) sinks() logging.Sinks {
	if o.Sinks != nil {
		return o.Sinks
	}
	return logging.Default
}

func (o Options) errClassifier() errclass.Classifier {
	if o.ErrClassifier != nil {
		return o.ErrClassifier
	}
	return errclass.Default
}

// newDNSResolver builds the Worker's DNS handle when DNSRequired is set.
func (o Options) newDNSResolver() *dnsresolver.Resolver {
	if !o.DNSRequired {
		return nil
	}
	timeout := o.DNSTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return dnsresolver.New(o.DNSServer, timeout)
}
