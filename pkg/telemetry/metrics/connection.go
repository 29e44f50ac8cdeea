package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ConnectionMetrics tracks client connections and CONNECT tunnels.
type ConnectionMetrics struct {
	active          prometheus.Gauge
	total           prometheus.Counter
	tunnelsTotal    *prometheus.CounterVec
	handshakeErrors prometheus.Counter
}

// NewConnectionMetrics creates and registers connection metrics.
func NewConnectionMetrics(namespace string, registry *prometheus.Registry) *ConnectionMetrics {
	cm := &ConnectionMetrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of client connections currently open",
		}),
		total: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted client connections",
		}),
		tunnelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tunnels_total",
			Help:      "Total number of CONNECT tunnels by mode",
		}, []string{"mode"}),
		handshakeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tls_handshake_errors_total",
			Help:      "Total number of failed client TLS handshakes",
		}),
	}

	registry.MustRegister(cm.active, cm.total, cm.tunnelsTotal, cm.handshakeErrors)
	return cm
}

// RecordOpened increments the active and total connection counts.
func (cm *ConnectionMetrics) RecordOpened() {
	cm.active.Inc()
	cm.total.Inc()
}

// RecordClosed decrements the active connection count.
func (cm *ConnectionMetrics) RecordClosed() {
	cm.active.Dec()
}
