// Package metrics exposes the daemon's Prometheus collectors. Every helper
// is safe to call on a nil *Metrics so components can run without them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "connect"

// Metrics groups the collectors registered on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	Dispatches       *prometheus.CounterVec
	FencedFetches    *prometheus.CounterVec
	PushEvents       *prometheus.CounterVec
	ReplayBatches    prometheus.Counter
	QueueDepth       prometheus.Gauge
	BackendRequests  *prometheus.CounterVec
	OutboxDeliveries *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_dispatches_total",
			Help:      "State actions applied, by action.",
		}, []string{"action"}),
		FencedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_fenced_fetches_total",
			Help:      "Fetched snapshots discarded because a newer generation was issued.",
		}, []string{"key"}),
		PushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_messages_total",
			Help:      "Push messages by outcome (applied, queued, replayed, dropped, failed).",
		}, []string{"outcome"}),
		ReplayBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_batches_total",
			Help:      "Foreground replays started.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replay_queue_depth",
			Help:      "Push messages waiting in the durable replay queue.",
		}),
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Backend API calls by endpoint and result.",
		}, []string{"endpoint", "result"}),
		OutboxDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_deliveries_total",
			Help:      "Outgoing chat messages by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.Dispatches,
		m.FencedFetches,
		m.PushEvents,
		m.ReplayBatches,
		m.QueueDepth,
		m.BackendRequests,
		m.OutboxDeliveries,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Dispatched(action string) {
	if m != nil {
		m.Dispatches.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) Fenced(key string) {
	if m != nil {
		m.FencedFetches.WithLabelValues(key).Inc()
	}
}

func (m *Metrics) Push(outcome string) {
	if m != nil {
		m.PushEvents.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ReplayStarted(depth int) {
	if m != nil {
		m.ReplayBatches.Inc()
		m.QueueDepth.Set(float64(depth))
	}
}

func (m *Metrics) SetQueueDepth(depth int64) {
	if m != nil {
		m.QueueDepth.Set(float64(depth))
	}
}

func (m *Metrics) Backend(endpoint, result string) {
	if m != nil {
		m.BackendRequests.WithLabelValues(endpoint, result).Inc()
	}
}

func (m *Metrics) Outbox(result string) {
	if m != nil {
		m.OutboxDeliveries.WithLabelValues(result).Inc()
	}
}
