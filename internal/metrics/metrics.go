// Package metrics exposes Prometheus collectors for the resolution engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "charity"

// Metrics holds the engine's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	resolutions     *prometheus.CounterVec
	resolveDuration prometheus.Histogram
	resolveErrors   prometheus.Counter
	inFlight        prometheus.Gauge
	batchRuns       *prometheus.CounterVec
	treeEntities    *prometheus.CounterVec
}

// New builds and registers the collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	resolutions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "records_total",
			Help:      "Resolved records by final status and method.",
		},
		[]string{"status", "method"},
	)
	resolveDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "duration_seconds",
			Help:      "Time spent resolving one record.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
	resolveErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "errors_total",
			Help:      "Records whose resolution failed and were sent to manual review.",
		},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "in_flight",
			Help:      "Records currently being resolved.",
		},
	)
	batchRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "runs_total",
			Help:      "Batch runs by final batch status.",
		},
		[]string{"status"},
	)
	treeEntities := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ownership",
			Name:      "entities_discovered_total",
			Help:      "Related entities discovered by relation type.",
		},
		[]string{"relation"},
	)

	registry.MustRegister(resolutions, resolveDuration, resolveErrors, inFlight, batchRuns, treeEntities)

	return &Metrics{
		registry:        registry,
		resolutions:     resolutions,
		resolveDuration: resolveDuration,
		resolveErrors:   resolveErrors,
		inFlight:        inFlight,
		batchRuns:       batchRuns,
		treeEntities:    treeEntities,
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartResolve marks one resolution in flight.
func (m *Metrics) StartResolve() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// FinishResolve records the outcome of one resolution. A non-nil err counts
// as a failed record.
func (m *Metrics) FinishResolve(status, method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.resolveDuration.Observe(d.Seconds())
	if err != nil {
		m.resolveErrors.Inc()
	}
	if method == "" {
		method = "none"
	}
	m.resolutions.WithLabelValues(status, method).Inc()
}

// BatchFinished counts a completed batch run.
func (m *Metrics) BatchFinished(status string) {
	if m == nil {
		return
	}
	m.batchRuns.WithLabelValues(status).Inc()
}

// EntityDiscovered counts a newly materialized related record.
func (m *Metrics) EntityDiscovered(relation string) {
	if m == nil {
		return
	}
	m.treeEntities.WithLabelValues(relation).Inc()
}
