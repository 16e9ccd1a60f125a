package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Event names recorded on the events counter.
const (
	EventPeerConnected    = "peer_connected"
	EventPeerDisconnected = "peer_disconnected"
	EventHandshakeFailure = "handshake_failure"
	EventOriginRejected   = "origin_rejected"
	EventDuplicatePeer    = "duplicate_peer"
	EventMessageRouted    = "message_routed"
	EventMessageDelivered = "message_delivered"
	EventDeliveryFailure  = "delivery_failure"
	EventMalformedMessage = "malformed_message"
	EventRateLimited      = "rate_limited"
	EventQueueOverflow    = "queue_overflow"
	EventPanicRecovered   = "panic_recovered"
)

const namespace = "aero_ws_peer_relay"

// Metrics holds the relay's Prometheus collectors on a private registry.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
	peers    prometheus.Gauge
	queued   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Relay events grouped by kind.",
		}, []string{"event"}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Number of currently registered peers.",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_messages",
			Help:      "Outbound messages waiting in peer queues.",
		}),
	}
	m.registry.MustRegister(m.events, m.peers, m.queued)
	return m
}

func (m *Metrics) Inc(event string) {
	m.Add(event, 1)
}

func (m *Metrics) Add(event string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.events.WithLabelValues(event).Add(float64(n))
}

// Get returns the current value of an event counter.
func (m *Metrics) Get(event string) uint64 {
	if m == nil {
		return 0
	}
	var out dto.Metric
	if err := m.events.WithLabelValues(event).Write(&out); err != nil {
		return 0
	}
	return uint64(out.GetCounter().GetValue())
}

func (m *Metrics) SetPeers(n int) {
	if m == nil {
		return
	}
	m.peers.Set(float64(n))
}

// AddQueued adjusts the queued message gauge by delta.
func (m *Metrics) AddQueued(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.queued.Add(float64(delta))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
