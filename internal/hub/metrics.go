package hub

import "github.com/prometheus/client_golang/prometheus"

type hubMetrics struct {
	activeSessions  prometheus.Gauge
	sessionTotal    prometheus.Counter
	sessionDuration prometheus.Histogram
	relays          *prometheus.CounterVec
	frameErrors     *prometheus.CounterVec
	broadcasts      *prometheus.CounterVec
}

func newHubMetrics(reg prometheus.Registerer) *hubMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &hubMetrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signal_hub_sessions_active",
			Help: "Current number of registered sessions.",
		}),
		sessionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signal_hub_sessions_total",
			Help: "Total number of sessions registered since start.",
		}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signal_hub_session_duration_seconds",
			Help:    "How long sessions stayed registered.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		relays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_hub_relay_total",
			Help: "Directed relays grouped by event and outcome.",
		}, []string{"event", "outcome"}),
		frameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_hub_frame_errors_total",
			Help: "Inbound frames rejected before dispatch.",
		}, []string{"reason"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_hub_broadcast_total",
			Help: "Presence events fanned out, one per recipient.",
		}, []string{"event"}),
	}

	reg.MustRegister(
		m.activeSessions,
		m.sessionTotal,
		m.sessionDuration,
		m.relays,
		m.frameErrors,
		m.broadcasts,
	)
	return m
}
