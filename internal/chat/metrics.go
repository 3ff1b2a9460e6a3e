package chat

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the relay collectors. They count whether or not they are registered.
type Metrics struct {
	connections    prometheus.Gauge
	framesReceived *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tutorchat",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorchat",
			Name:      "frames_received_total",
			Help:      "Inbound frames by type.",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorchat",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped without routing.",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tutorchat",
			Name:      "deliveries_total",
			Help:      "Outbound frame deliveries by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.connections, m.framesReceived, m.framesDropped, m.deliveries}
}

// frameType bounds label cardinality for client chosen types.
func frameType(t string) string {
	switch t {
	case TypeJoin, TypeLeave, TypeChat:
		return t
	}
	return "other"
}
