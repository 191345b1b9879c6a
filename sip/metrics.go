package sip

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects transport metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	datagramsReceived *prometheus.CounterVec
	datagramsSent     *prometheus.CounterVec
	datagramsDropped  *prometheus.CounterVec
	sendErrors        *prometheus.CounterVec
	stunExchanges     *prometheus.CounterVec
	connsActive       prometheus.Gauge
	connsClosed       *prometheus.CounterVec
}

// NewMetrics creates transport metrics and registers them with the registerer.
// If reg is nil, metrics are registered with [prometheus.DefaultRegisterer].
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	const ns, sub = "sipedge", "transport"
	return &Metrics{
		datagramsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "datagrams_received_total",
			Help:      "Number of received datagrams by kind.",
		}, []string{"kind"}),
		datagramsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "datagrams_sent_total",
			Help:      "Number of sent datagrams by kind.",
		}, []string{"kind"}),
		datagramsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "datagrams_dropped_total",
			Help:      "Number of dropped inbound datagrams by reason.",
		}, []string{"reason"}),
		sendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "send_errors_total",
			Help:      "Number of failed sends by reason.",
		}, []string{"reason"}),
		stunExchanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "stun_exchanges_total",
			Help:      "Number of finished STUN binding exchanges by result.",
		}, []string{"result"}),
		connsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "connections_active",
			Help:      "Number of tracked peer connections.",
		}),
		connsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "connections_closed_total",
			Help:      "Number of closed peer connections by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) datagramReceived(kind string) {
	if m == nil {
		return
	}
	m.datagramsReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) datagramSent(kind string) {
	if m == nil {
		return
	}
	m.datagramsSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) datagramDropped(reason string) {
	if m == nil {
		return
	}
	m.datagramsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) sendFailed(reason string) {
	if m == nil {
		return
	}
	m.sendErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) stunFinished(result string) {
	if m == nil {
		return
	}
	m.stunExchanges.WithLabelValues(result).Inc()
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connsActive.Inc()
}

func (m *Metrics) connClosed(reason error) {
	if m == nil {
		return
	}
	m.connsActive.Dec()
	m.connsClosed.WithLabelValues(reason.Error()).Inc()
}
