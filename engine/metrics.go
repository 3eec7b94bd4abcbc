package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for connection engines.
// A nil *Metrics records nothing.
type Metrics struct {
	handshakes        *prometheus.CounterVec
	transportOpens    *prometheus.CounterVec
	reconnects        *prometheus.CounterVec
	heartbeatTimeouts *prometheus.CounterVec
	framesReceived    *prometheus.CounterVec
	framesSent        *prometheus.CounterVec
	retryDelay        *prometheus.GaugeVec
	state             *prometheus.GaugeVec
}

// NewMetrics registers the engine collectors with registry.
// A nil registry uses prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sioclient",
			Subsystem: "engine",
			Name:      "handshakes_total",
			Help:      "Handshake attempts by result",
		}, []string{"uri", "result"}),

		transportOpens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sioclient",
			Subsystem: "engine",
			Name:      "transport_opens_total",
			Help:      "WebSocket open attempts by result",
		}, []string{"uri", "result"}),

		reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sioclient",
			Subsystem: "engine",
			Name:      "reconnects_total",
			Help:      "Connections lost and re-initiated",
		}, []string{"uri"}),

		heartbeatTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sioclient",
			Subsystem: "engine",
			Name:      "heartbeat_timeouts_total",
			Help:      "Peers declared unreachable by the heartbeat monitor",
		}, []string{"uri"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sioclient",
			Subsystem: "engine",
			Name:      "frames_received_total",
			Help:      "Decoded inbound frames by type",
		}, []string{"uri", "type"}),

		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sioclient",
			Subsystem: "engine",
			Name:      "frames_sent_total",
			Help:      "Outbound frames by type",
		}, []string{"uri", "type"}),

		retryDelay: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sioclient",
			Subsystem: "engine",
			Name:      "reconnect_delay_seconds",
			Help:      "Delay before the pending reconnection attempt",
		}, []string{"uri"}),

		state: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sioclient",
			Subsystem: "engine",
			Name:      "connection_state",
			Help:      "Current lifecycle state (0 disconnected .. 4 reconnect_wait)",
		}, []string{"uri"}),
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *Metrics) recordHandshake(uri string, err error) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(uri, resultLabel(err)).Inc()
}

func (m *Metrics) recordTransportOpen(uri string, err error) {
	if m == nil {
		return
	}
	m.transportOpens.WithLabelValues(uri, resultLabel(err)).Inc()
}

func (m *Metrics) recordReconnect(uri string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(uri).Inc()
}

func (m *Metrics) recordHeartbeatTimeout(uri string) {
	if m == nil {
		return
	}
	m.heartbeatTimeouts.WithLabelValues(uri).Inc()
}

func (m *Metrics) recordFrameReceived(uri string, ft FrameType) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(uri, ft.String()).Inc()
}

func (m *Metrics) recordFrameSent(uri string, ft FrameType) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(uri, ft.String()).Inc()
}

func (m *Metrics) setRetryDelay(uri string, seconds float64) {
	if m == nil {
		return
	}
	m.retryDelay.WithLabelValues(uri).Set(seconds)
}

func (m *Metrics) setState(uri string, s State) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(uri).Set(float64(s))
}
