// Package metrics holds the Prometheus collectors for webhook ingestion,
// delivery tracking, assignment and outbound sends. A nil *Metrics is valid
// and records nothing, so components work without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wadesk"

type Metrics struct {
	registry *prometheus.Registry

	webhookRequests  *prometheus.CounterVec
	messagesIngested *prometheus.CounterVec
	statusesApplied  *prometheus.CounterVec
	reactionsApplied *prometheus.CounterVec
	assignments      *prometheus.CounterVec
	outboundSends    *prometheus.CounterVec
	transcodes       *prometheus.CounterVec
	eventSubscribers prometheus.Gauge
}

// New registers every collector on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		webhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Provider webhook deliveries by result.",
		}, []string{"result"}),
		messagesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Inbound messages by content type and outcome.",
		}, []string{"type", "result"}),
		statusesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_statuses_total",
			Help:      "Delivery receipts by status and outcome.",
		}, []string{"status", "result"}),
		reactionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reactions_total",
			Help:      "Reactions folded into messages by direction and outcome.",
		}, []string{"direction", "result"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_total",
			Help:      "Automatic assignment attempts by result.",
		}, []string{"result"}),
		outboundSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_sends_total",
			Help:      "Provider send calls by kind and result.",
		}, []string{"kind", "result"}),
		transcodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_transcodes_total",
			Help:      "Voice note transcodes by result.",
		}, []string{"result"}),
		eventSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Live UI event subscriptions.",
		}),
	}
	reg.MustRegister(
		m.webhookRequests,
		m.messagesIngested,
		m.statusesApplied,
		m.reactionsApplied,
		m.assignments,
		m.outboundSends,
		m.transcodes,
		m.eventSubscribers,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) WebhookRequest(result string) {
	if m == nil {
		return
	}
	m.webhookRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) MessageIngested(contentType, result string) {
	if m == nil {
		return
	}
	m.messagesIngested.WithLabelValues(contentType, result).Inc()
}

func (m *Metrics) StatusApplied(status, result string) {
	if m == nil {
		return
	}
	m.statusesApplied.WithLabelValues(status, result).Inc()
}

func (m *Metrics) ReactionApplied(direction, result string) {
	if m == nil {
		return
	}
	m.reactionsApplied.WithLabelValues(direction, result).Inc()
}

func (m *Metrics) Assignment(result string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(result).Inc()
}

func (m *Metrics) OutboundSend(kind, result string) {
	if m == nil {
		return
	}
	m.outboundSends.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Transcode(result string) {
	if m == nil {
		return
	}
	m.transcodes.WithLabelValues(result).Inc()
}

func (m *Metrics) SubscriberDelta(delta float64) {
	if m == nil {
		return
	}
	m.eventSubscribers.Add(delta)
}
