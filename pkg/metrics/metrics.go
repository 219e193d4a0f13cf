// Package metrics holds the Prometheus collectors for billing and provisioning decisions.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	webhookEvents *prometheus.CounterVec
	gateDecisions *prometheus.CounterVec
	bindings      *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crewdesk",
			Name:      "webhook_events_total",
			Help:      "Payment processor events by type and outcome.",
		}, []string{"type", "outcome"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crewdesk",
			Name:      "gate_decisions_total",
			Help:      "Subscription access gate decisions.",
		}, []string{"decision"}),
		bindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crewdesk",
			Name:      "ownership_bindings_total",
			Help:      "Workspace ownership reconciliation results by signal.",
		}, []string{"signal"}),
	}
	m.registry.MustRegister(
		m.webhookEvents,
		m.gateDecisions,
		m.bindings,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// WebhookEvent counts a processed processor event.
func (m *Metrics) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// GateDecision counts an access gate decision.
func (m *Metrics) GateDecision(decision string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(decision).Inc()
}

// Binding counts an ownership reconciliation result.
func (m *Metrics) Binding(signal string) {
	if m == nil {
		return
	}
	m.bindings.WithLabelValues(signal).Inc()
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
