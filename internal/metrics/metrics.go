// Package metrics exposes Prometheus metrics for Kestrel.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Training outcomes recorded by TrainingRun.
const (
	OutcomeSuccess      = "success"
	OutcomeInsufficient = "insufficient_data"
	OutcomeRejected     = "rejected"
	OutcomeError        = "error"
	OutcomeBusy         = "in_progress"
)

// Manager owns Kestrel's collectors on a private registry. A nil *Manager
// is valid and records nothing.
type Manager struct {
	registry *prometheus.Registry

	invoicesScored *prometheus.CounterVec
	scoringLatency prometheus.Histogram
	scoringErrors  *prometheus.CounterVec
	findings       *prometheus.CounterVec
	trainingRuns   *prometheus.CounterVec
	modelMAE       prometheus.Gauge
	modelSamples   prometheus.Gauge

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates a manager under the given namespace.
func New(namespace string) *Manager {
	if namespace == "" {
		namespace = "kestrel"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	auto := promauto.With(reg)

	return &Manager{
		registry: reg,
		invoicesScored: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "invoices_total",
			Help:      "Invoices scored, by risk level",
		}, []string{"level"}),
		scoringLatency: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "latency_milliseconds",
			Help:      "Scoring latency in milliseconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
		scoringErrors: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "errors_total",
			Help:      "Scoring failures, by reason",
		}, []string{"reason"}),
		findings: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "findings_total",
			Help:      "Heuristic findings emitted, by type",
		}, []string{"type"}),
		trainingRuns: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "training_runs_total",
			Help:      "Training runs, by outcome",
		}, []string{"outcome"}),
		modelMAE: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "validation_mae",
			Help:      "Cross-validated MAE of the active model",
		}),
		modelSamples: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "training_samples",
			Help:      "Training sample count of the active model",
		}),
		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by route and status",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InvoiceScored records a completed assessment.
func (m *Manager) InvoiceScored(level string, took time.Duration, findingTypes []string) {
	if m == nil {
		return
	}
	m.invoicesScored.WithLabelValues(level).Inc()
	m.scoringLatency.Observe(float64(took.Microseconds()) / 1000)
	for _, t := range findingTypes {
		m.findings.WithLabelValues(t).Inc()
	}
}

// ScoringFailed records a scoring error.
func (m *Manager) ScoringFailed(reason string) {
	if m == nil {
		return
	}
	m.scoringErrors.WithLabelValues(reason).Inc()
}

// TrainingRun records the outcome of a training attempt.
func (m *Manager) TrainingRun(outcome string) {
	if m == nil {
		return
	}
	m.trainingRuns.WithLabelValues(outcome).Inc()
}

// ModelActivated records the metadata of a newly active model.
func (m *Manager) ModelActivated(validationMAE float64, samples int) {
	if m == nil {
		return
	}
	m.modelMAE.Set(validationMAE)
	m.modelSamples.Set(float64(samples))
}

// HTTPRequest records a served request.
func (m *Manager) HTTPRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(took.Seconds())
}
