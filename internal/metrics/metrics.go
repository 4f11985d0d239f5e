package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the autopilot engine. Each
// instance owns its registry so tests can construct them freely without
// duplicate-registration panics.
type Metrics struct {
	Ticks           prometheus.Counter
	Probes          *prometheus.CounterVec
	ProbeDuration   prometheus.Histogram
	Transitions     *prometheus.CounterVec
	CommitConflicts prometheus.Counter
	Notifications   *prometheus.CounterVec
	LastTick        prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopilot_ticks_total",
			Help: "Total number of completed scheduler ticks",
		}),
		Probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_probes_total",
			Help: "Total number of endpoint health probes",
		}, []string{"result"}),
		ProbeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "autopilot_probe_duration_seconds",
			Help:    "Latency of endpoint health probes",
			Buckets: prometheus.DefBuckets,
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_transitions_total",
			Help: "Total number of committed failover transitions",
		}, []string{"type"}),
		CommitConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autopilot_commit_conflicts_total",
			Help: "Tick results discarded because a concurrent edit won",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autopilot_notifications_total",
			Help: "Webhook notifications by outcome",
		}, []string{"result"}),
		LastTick: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autopilot_last_tick_timestamp_seconds",
			Help: "Unix timestamp of the most recent completed tick",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.Ticks,
		m.Probes,
		m.ProbeDuration,
		m.Transitions,
		m.CommitConflicts,
		m.Notifications,
		m.LastTick,
	)

	return m
}

// Handler returns an HTTP handler exposing this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
