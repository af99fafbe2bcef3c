// Package metrics holds the Prometheus collectors shared by the validator,
// the batch manager and the web service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "socks5_inspector"

type Metrics struct {
	registry *prometheus.Registry

	ProbesTotal     *prometheus.CounterVec
	ProbeDuration   prometheus.Histogram
	ProbesInFlight  prometheus.Gauge
	ProbeBytes      *prometheus.CounterVec
	BatchesTotal    prometheus.Counter
	PersistFailures prometheus.Counter
	StoredRecords   prometheus.Gauge
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Number of finished proxy probes by status.",
		}, []string{"status"}),
		ProbeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Wall-clock duration of proxy probes.",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 15, 30},
		}),
		ProbesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "probes_in_flight",
			Help:      "Probes currently holding a concurrency slot.",
		}),
		ProbeBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_bytes_total",
			Help:      "Bytes exchanged with proxies during probes.",
		}, []string{"direction"}),
		BatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Number of completed detection batches.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Record store reads or writes that failed after a batch.",
		}),
		StoredRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_records",
			Help:      "Records in the store after the last successful write.",
		}),
	}
	m.registry.MustRegister(
		m.ProbesTotal,
		m.ProbeDuration,
		m.ProbesInFlight,
		m.ProbeBytes,
		m.BatchesTotal,
		m.PersistFailures,
		m.StoredRecords,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
