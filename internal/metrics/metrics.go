// Package metrics provides Prometheus metrics for the workflow service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	OperationsTotal  *prometheus.CounterVec
	StageTotal       *prometheus.CounterVec
	EngineRunsTotal  *prometheus.CounterVec
	StreamsActive    prometheus.Gauge
	ErrorsTotal      *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "celadon_requests_total",
				Help: "Total number of HTTP requests by route and status.",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "celadon_request_duration_seconds",
				Help:    "Request processing duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "celadon_workflow_operations_total",
				Help: "Total workflow operations by operation and result.",
			},
			[]string{"operation", "result"},
		),
		StageTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "celadon_stage_transitions_total",
				Help: "Total session stage transitions by target stage.",
			},
			[]string{"stage"},
		),
		EngineRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "celadon_engine_runs_total",
				Help: "Total coding agent runs by mode and status.",
			},
			[]string{"mode", "status"},
		),
		StreamsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "celadon_streams_active",
				Help: "Number of registered, not yet consumed event streams.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "celadon_errors_total",
				Help: "Total errors by module and kind.",
			},
			[]string{"module", "kind"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.OperationsTotal)
	reg.MustRegister(m.StageTotal)
	reg.MustRegister(m.EngineRunsTotal)
	reg.MustRegister(m.StreamsActive)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments the request counter.
func (m *Metrics) RecordRequest(route, status string) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
}

// ObserveDuration records request duration.
func (m *Metrics) ObserveDuration(route string, seconds float64) {
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordOperation increments the workflow operation counter.
func (m *Metrics) RecordOperation(operation, result string) {
	m.OperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordStage increments the stage transition counter.
func (m *Metrics) RecordStage(stage string) {
	m.StageTotal.WithLabelValues(stage).Inc()
}

// RecordEngineRun increments the engine run counter.
func (m *Metrics) RecordEngineRun(mode, status string) {
	m.EngineRunsTotal.WithLabelValues(mode, status).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, kind string) {
	m.ErrorsTotal.WithLabelValues(module, kind).Inc()
}
