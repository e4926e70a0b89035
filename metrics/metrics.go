// Package metrics provides Prometheus metrics for permit-package runs.
//
// Every Metrics value owns its own registry so tests and multiple pipelines
// in one process do not collide on the global default registerer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the permitpack collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	ComponentsTotal *prometheus.CounterVec
	RetrievalsTotal *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitpack_runs_total",
				Help: "Total number of permit-package runs by final status",
			},
			[]string{"status"},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "permitpack_run_duration_seconds",
				Help:    "Wall-clock duration of permit-package runs",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),
		ComponentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitpack_components_total",
				Help: "BOM components processed by match status and sheet origin",
			},
			[]string{"status", "origin"},
		),
		RetrievalsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permitpack_retrievals_total",
				Help: "Network retrieval attempts by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// ObserveComponent records the final match of one component.
func (m *Metrics) ObserveComponent(status, origin string) {
	if m == nil {
		return
	}
	if origin == "" {
		origin = "none"
	}
	m.ComponentsTotal.WithLabelValues(status, origin).Inc()
}

// ObserveRetrieval records the outcome of one retrieval task
// (found, miss, timeout, error, circuit_open).
func (m *Metrics) ObserveRetrieval(outcome string) {
	if m == nil {
		return
	}
	m.RetrievalsTotal.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
