// Package metrics exposes relay activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/Tyrowin/chatrelay/internal/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatrelay"

// Metrics implements relay.Recorder and tracks hub gauges. Each instance owns
// its registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Connections        prometheus.Gauge
	OnlineUsers        prometheus.Gauge
	Rooms              prometheus.Gauge
	PresenceBroadcasts prometheus.Counter
	PresenceRecipients prometheus.Counter
	MessagesDispatched *prometheus.CounterVec
	MessageTargets     prometheus.Histogram
	PersistFailures    prometheus.Counter
	DroppedClients     prometheus.Counter
	RateLimited        prometheus.Counter
	InvalidFrames      prometheus.Counter
}

var _ relay.Recorder = (*Metrics)(nil)

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users with at least one joined connection.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member connection.",
		}),
		PresenceBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_broadcasts_total",
			Help:      "Online user snapshots broadcast to all joined connections.",
		}),
		PresenceRecipients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_frames_total",
			Help:      "Online user frames handed to connections.",
		}),
		MessagesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dispatched_total",
			Help:      "Messages dispatched, by delivery mode.",
		}, []string{"mode"}),
		MessageTargets: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_targets",
			Help:      "Connections targeted per dispatched message.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16},
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Messages the store failed to save.",
		}),
		DroppedClients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_clients_total",
			Help:      "Connections closed because their send buffer was full.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_frames_total",
			Help:      "Inbound frames discarded by the rate limiter.",
		}),
		InvalidFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_frames_total",
			Help:      "Inbound frames rejected as malformed or invalid.",
		}),
	}

	m.registry.MustRegister(
		m.Connections,
		m.OnlineUsers,
		m.Rooms,
		m.PresenceBroadcasts,
		m.PresenceRecipients,
		m.MessagesDispatched,
		m.MessageTargets,
		m.PersistFailures,
		m.DroppedClients,
		m.RateLimited,
		m.InvalidFrames,
	)
	return m
}

func (m *Metrics) PresenceBroadcast(recipients int) {
	m.PresenceBroadcasts.Inc()
	m.PresenceRecipients.Add(float64(recipients))
}

func (m *Metrics) MessageDispatched(mode relay.DeliveryMode, targets int) {
	m.MessagesDispatched.WithLabelValues(string(mode)).Inc()
	m.MessageTargets.Observe(float64(targets))
}

func (m *Metrics) PersistFailed() {
	m.PersistFailures.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
