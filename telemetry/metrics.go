package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "realtime"

// PromMetrics implements the realtime.Metrics interface using Prometheus.
type PromMetrics struct {
	connections          prometheus.Counter
	disconnects          prometheus.Counter
	reconnectAttempts    prometheus.Counter
	channelAuths         prometheus.Counter
	subscriptionFailures prometheus.Counter
	decodeErrors         prometheus.Counter
	listenerErrors       prometheus.Counter
	droppedEvents        prometheus.Counter
	connStatus           prometheus.Gauge
}

// NewMetrics creates and registers standard client metrics.
// If registry is nil, it uses the global default registry.
func NewMetrics(registry prometheus.Registerer, labels map[string]string) *PromMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &PromMetrics{
		connections:          counter("connections_total", "Total number of successful WebSocket connections established."),
		disconnects:          counter("disconnects_total", "Total number of established connections that were lost or closed."),
		reconnectAttempts:    counter("reconnect_attempts_total", "Total number of scheduled reconnect attempts."),
		channelAuths:         counter("channel_auths_total", "Total number of channel authorization requests."),
		subscriptionFailures: counter("subscription_failures_total", "Total number of rejected channel subscriptions."),
		decodeErrors:         counter("decode_errors_total", "Total number of inbound frames dropped as malformed."),
		listenerErrors:       counter("listener_errors_total", "Total number of listener panics recovered."),
		droppedEvents:        counter("dropped_events_total", "Total number of events dropped for inactive channels."),
		connStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "connection_status",
			Help:        "Current status of the connection (1 = connected, 0 = disconnected).",
			ConstLabels: labels,
		}),
	}

	registry.MustRegister(
		m.connections,
		m.disconnects,
		m.reconnectAttempts,
		m.channelAuths,
		m.subscriptionFailures,
		m.decodeErrors,
		m.listenerErrors,
		m.droppedEvents,
		m.connStatus,
	)

	return m
}

func (m *PromMetrics) IncConnections()          { m.connections.Inc() }
func (m *PromMetrics) IncDisconnects()          { m.disconnects.Inc() }
func (m *PromMetrics) IncReconnectAttempts()    { m.reconnectAttempts.Inc() }
func (m *PromMetrics) IncChannelAuths()         { m.channelAuths.Inc() }
func (m *PromMetrics) IncSubscriptionFailures() { m.subscriptionFailures.Inc() }
func (m *PromMetrics) IncDecodeErrors()         { m.decodeErrors.Inc() }
func (m *PromMetrics) IncListenerErrors()       { m.listenerErrors.Inc() }
func (m *PromMetrics) IncDroppedEvents()        { m.droppedEvents.Inc() }

func (m *PromMetrics) SetConnectionStatus(status float64) {
	m.connStatus.Set(status)
}
