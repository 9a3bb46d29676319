// Package metrics wires csserver's connection, worker-pool and command
// counters into a Prometheus registry. Every recording method is
// nil-receiver safe so callers can hold a *Registry obtained from a
// disabled config and call through it unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every csserver Prometheus collector. A nil *Registry
// is valid and every method on it is a no-op, so metrics can be wired
// in unconditionally and disabled purely by passing nil from cmd/csserver.
type Registry struct {
	reg *prometheus.Registry

	connectionsAccepted prometheus.Counter
	connectionsDropped  prometheus.Counter
	connectionsActive   prometheus.Gauge
	workersBusy         prometheus.Gauge
	workersTotal        prometheus.Gauge

	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	getBytes  prometheus.Histogram
	postBytes prometheus.Histogram
}

// NewRegistry builds a fresh collector set registered against its own
// prometheus.Registry, suitable for exposing via pkg/adminhttp.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		connectionsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "csserver_connections_accepted_total",
			Help: "Total TLS connections accepted by the listener.",
		}),
		connectionsDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "csserver_connections_dropped_total",
			Help: "Connections dropped because every worker was busy.",
		}),
		connectionsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "csserver_connections_active",
			Help: "Connections currently assigned to a worker.",
		}),
		workersBusy: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "csserver_workers_busy",
			Help: "Worker-pool slots currently handling a connection.",
		}),
		workersTotal: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "csserver_workers_total",
			Help: "Configured worker-pool size.",
		}),
		commandsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "csserver_commands_total",
			Help: "Commands dispatched, by command name and result code.",
		}, []string{"command", "code"}),
		commandDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "csserver_command_duration_milliseconds",
			Help:    "Time to handle one command end to end.",
			Buckets: []float64{0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"command"}),
		getBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "csserver_get_bytes",
			Help:    "Distribution of bytes returned per GET.",
			Buckets: prometheus.ExponentialBuckets(64, 8, 8),
		}),
		postBytes: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "csserver_post_bytes",
			Help:    "Distribution of bytes accepted per POST.",
			Buckets: prometheus.ExponentialBuckets(64, 8, 8),
		}),
	}

	return r
}

// Gatherer exposes the underlying registry to pkg/adminhttp without
// leaking the concrete prometheus type into callers that only scrape.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

func (r *Registry) ConnectionAccepted() {
	if r == nil {
		return
	}
	r.connectionsAccepted.Inc()
	r.connectionsActive.Inc()
}

func (r *Registry) ConnectionDropped() {
	if r == nil {
		return
	}
	r.connectionsDropped.Inc()
}

func (r *Registry) ConnectionClosed() {
	if r == nil {
		return
	}
	r.connectionsActive.Dec()
}

func (r *Registry) SetWorkerCounts(busy, total int) {
	if r == nil {
		return
	}
	r.workersBusy.Set(float64(busy))
	r.workersTotal.Set(float64(total))
}

func (r *Registry) RecordCommand(command, code string, duration time.Duration) {
	if r == nil {
		return
	}
	r.commandsTotal.WithLabelValues(command, code).Inc()
	r.commandDuration.WithLabelValues(command).Observe(duration.Seconds() * 1000)
}

func (r *Registry) RecordGetBytes(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.getBytes.Observe(float64(n))
}

func (r *Registry) RecordPostBytes(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.postBytes.Observe(float64(n))
}
