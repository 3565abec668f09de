package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

type routerMetrics struct {
	activeClients  prometheus.Gauge
	channels       prometheus.Gauge
	frames         *prometheus.CounterVec
	protocolErrors prometheus.Counter
	dropped        *prometheus.CounterVec
	injections     *prometheus.CounterVec
}

// newRouterMetrics registers collectors on reg. A nil registerer disables
// metrics; every recorder method is nil-safe.
func newRouterMetrics(reg prometheus.Registerer) *routerMetrics {
	if reg == nil {
		return nil
	}

	m := &routerMetrics{
		activeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scopechat_clients_active",
			Help: "Currently registered clients.",
		}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scopechat_channels",
			Help: "Live channels, including the default channel.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scopechat_frames_total",
			Help: "Decoded frames dispatched by the router.",
		}, []string{"type"}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scopechat_protocol_errors_total",
			Help: "Connections closed because of malformed frames.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scopechat_dropped_total",
			Help: "Requests or deliveries dropped, by reason.",
		}, []string{"reason"}),
		injections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scopechat_injections_total",
			Help: "Code injections by outcome.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.activeClients,
		m.channels,
		m.frames,
		m.protocolErrors,
		m.dropped,
		m.injections,
	)
	return m
}

func (m *routerMetrics) clientRegistered() {
	if m == nil {
		return
	}
	m.activeClients.Inc()
}

func (m *routerMetrics) clientRemoved() {
	if m == nil {
		return
	}
	m.activeClients.Dec()
}

func (m *routerMetrics) channelCreated() {
	if m == nil {
		return
	}
	m.channels.Inc()
}

func (m *routerMetrics) recordFrame(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}

func (m *routerMetrics) recordProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

func (m *routerMetrics) recordDrop(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dropped.WithLabelValues(reason).Add(float64(n))
}

func (m *routerMetrics) recordInjection(result string) {
	if m == nil {
		return
	}
	m.injections.WithLabelValues(result).Inc()
}
