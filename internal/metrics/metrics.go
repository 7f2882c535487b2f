// Package metrics provides Prometheus metrics for the chat client core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	MutationsTotal   *prometheus.CounterVec
	StreamEvents     *prometheus.CounterVec
	ExchangesTotal   *prometheus.CounterVec
	ExchangeDuration prometheus.Histogram
	ResyncsTotal     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_mutations_total",
				Help: "Optimistic mutations by entity kind, operation and outcome.",
			},
			[]string{"kind", "op", "outcome"},
		),
		StreamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_stream_events_total",
				Help: "Decoded stream events by type.",
			},
			[]string{"type"},
		),
		ExchangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_exchanges_total",
				Help: "Completed send exchanges by outcome.",
			},
			[]string{"outcome"},
		),
		ExchangeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chat_exchange_duration_seconds",
				Help:    "Duration of a send exchange from user input to idle.",
				Buckets: prometheus.DefBuckets,
			},
		),
		ResyncsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_resyncs_total",
				Help: "Authoritative collection refetches by collection.",
			},
			[]string{"collection"},
		),
		registry: reg,
	}

	reg.MustRegister(m.MutationsTotal)
	reg.MustRegister(m.StreamEvents)
	reg.MustRegister(m.ExchangesTotal)
	reg.MustRegister(m.ExchangeDuration)
	reg.MustRegister(m.ResyncsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordMutation increments the mutation counter.
func (m *Metrics) RecordMutation(kind, op, outcome string) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(kind, op, outcome).Inc()
}

// RecordStreamEvent increments the stream event counter.
func (m *Metrics) RecordStreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.StreamEvents.WithLabelValues(eventType).Inc()
}

// RecordExchange increments the exchange counter and observes its duration.
func (m *Metrics) RecordExchange(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ExchangesTotal.WithLabelValues(outcome).Inc()
	m.ExchangeDuration.Observe(seconds)
}

// RecordResync increments the resync counter.
func (m *Metrics) RecordResync(collection string) {
	if m == nil {
		return
	}
	m.ResyncsTotal.WithLabelValues(collection).Inc()
}
