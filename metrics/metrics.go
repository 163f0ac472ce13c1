// Package metrics mirrors each Worker's periodic STATS record onto
// github.com/prometheus/client_golang gauges/counters. This is purely
// additive: the line-oriented STATS log record is emitted regardless;
// Registry is nil by default and costs nothing when unused.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds the gauges/counters one Pool updates at each Worker's
// stats tick. Labelled by worker index so a multi-worker pool's series
// stay distinguishable.
type Registry struct {
	MaxLoad       *prometheus.GaugeVec
	MaxFD         *prometheus.GaugeVec
	MaxInactivity *prometheus.GaugeVec
	MaxAge        *prometheus.GaugeVec
	TimedOutConns *prometheus.CounterVec
	Errors        *prometheus.CounterVec
}

// NewRegistry builds a Registry and registers its collectors with reg.
// Pass prometheus.NewRegistry() for an isolated registry in tests, or
// prometheus.DefaultRegisterer in production.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		MaxLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sslxray_worker_max_load",
			Help: "Maximum number of connections observed on this worker since the last stats tick.",
		}, []string{"worker"}),
		MaxFD: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sslxray_worker_max_fd",
			Help: "Highest child-connection count observed across this worker's live connections since the last stats tick.",
		}, []string{"worker"}),
		MaxInactivity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sslxray_worker_max_inactivity_seconds",
			Help: "Longest connection inactivity observed on this worker since the last stats tick.",
		}, []string{"worker"}),
		MaxAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sslxray_worker_max_age_seconds",
			Help: "Oldest connection age observed on this worker since the last stats tick.",
		}, []string{"worker"}),
		TimedOutConns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sslxray_worker_timedout_conns_total",
			Help: "Connections freed by idle-expiry on this worker.",
		}, []string{"worker"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sslxray_worker_errors_total",
			Help: "Errors observed on this worker, added at each stats tick.",
		}, []string{"worker"}),
	}
	reg.MustRegister(r.MaxLoad, r.MaxFD, r.MaxInactivity, r.MaxAge, r.TimedOutConns, r.Errors)
	return r
}
