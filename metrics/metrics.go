// Package metrics exposes the service's Prometheus collectors and the
// /metrics handler. The workflow engine, the LLM gateway, and the event
// bus report through the hook funcs here rather than importing the
// Prometheus client themselves.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration      *prometheus.HistogramVec
	gateFailures       *prometheus.CounterVec
	workflowsCompleted *prometheus.CounterVec
	llmTokens          *prometheus.CounterVec
	cacheRequests      *prometheus.CounterVec
	eventSubscribers   prometheus.Gauge
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "draftloop",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of one pipeline stage execution.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		gateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "draftloop",
			Name:      "gate_failures_total",
			Help:      "Quality gate failures by stage.",
		}, []string{"stage"}),
		workflowsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "draftloop",
			Name:      "workflows_completed_total",
			Help:      "Workflows reaching a terminal state, by outcome.",
		}, []string{"outcome"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "draftloop",
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed per model capability.",
		}, []string{"capability"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "draftloop",
			Name:      "cache_requests_total",
			Help:      "Cache lookups by result (hit or miss).",
		}, []string{"result"}),
		eventSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "draftloop",
			Name:      "event_subscribers",
			Help:      "Currently connected event subscribers.",
		}),
	}

	m.registry.MustRegister(
		m.stageDuration,
		m.gateFailures,
		m.workflowsCompleted,
		m.llmTokens,
		m.cacheRequests,
		m.eventSubscribers,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStageDuration records one stage execution.
func (m *Metrics) ObserveStageDuration(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// CountGateFailure records one quality gate failure.
func (m *Metrics) CountGateFailure(stage string) {
	m.gateFailures.WithLabelValues(stage).Inc()
}

// CountWorkflowCompleted records a workflow terminal transition.
func (m *Metrics) CountWorkflowCompleted(outcome string) {
	m.workflowsCompleted.WithLabelValues(outcome).Inc()
}

// CountTokens records model token consumption.
func (m *Metrics) CountTokens(capability string, tokens int) {
	m.llmTokens.WithLabelValues(capability).Add(float64(tokens))
}

// CountCacheRequest records one cache lookup result.
func (m *Metrics) CountCacheRequest(hit bool) {
	if hit {
		m.cacheRequests.WithLabelValues("hit").Inc()
	} else {
		m.cacheRequests.WithLabelValues("miss").Inc()
	}
}

// SetEventSubscribers tracks the subscriber gauge.
func (m *Metrics) SetEventSubscribers(n int) {
	m.eventSubscribers.Set(float64(n))
}
