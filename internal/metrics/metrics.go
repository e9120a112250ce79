// Package metrics registers the Prometheus collectors that the probe
// engine updates as it runs. Grounded on the prometheus/client_golang
// promauto pattern used throughout jordigilh-kubernaut and
// Kuadrant-dns-operator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the probe engine exposes. A single
// instance is constructed at startup and threaded through the
// components that need to record to it; nothing here is a package
// global, so tests can use an isolated registry.
type Metrics struct {
	ProbesTotal         *prometheus.CounterVec
	ProbeLatencyMs      *prometheus.HistogramVec
	ProbeRetriesTotal   *prometheus.CounterVec
	PoolActiveWorkers   prometheus.Gauge
	PoolQueueDepth      prometheus.Gauge
	PoolWorkerCrashes   prometheus.Counter
	SnapshotWritesTotal prometheus.Counter
	AppendRowsTotal     prometheus.Counter
}

// New registers every collector against reg and returns the bundle.
// Pass prometheus.NewRegistry() in tests to avoid collisions with the
// default global registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ProbesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsecheck_probes_total",
			Help: "Total number of completed probes, by service and resulting status.",
		}, []string{"service", "status"}),

		ProbeLatencyMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulsecheck_probe_latency_ms",
			Help:    "Observed probe latency in milliseconds, by service.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"service"}),

		ProbeRetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsecheck_probe_retries_total",
			Help: "Total number of transport-fault retry attempts, by service.",
		}, []string{"service"}),

		PoolActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulsecheck_pool_active_workers",
			Help: "Number of worker pool goroutines currently executing a probe.",
		}),

		PoolQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulsecheck_pool_queue_depth",
			Help: "Number of probe jobs waiting for a free worker.",
		}),

		PoolWorkerCrashes: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulsecheck_pool_worker_crashes_total",
			Help: "Total number of worker goroutines that terminated abnormally and were replaced.",
		}),

		SnapshotWritesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulsecheck_snapshot_writes_total",
			Help: "Total number of snapshot file writes.",
		}),

		AppendRowsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulsecheck_append_rows_total",
			Help: "Total number of rows appended to the historical CSV log.",
		}),
	}
}
