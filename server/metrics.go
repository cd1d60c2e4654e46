package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the interview server.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	SessionsStarted prometheus.Counter
	ConnectionsOpen prometheus.Gauge
	UnitsTotal      *prometheus.CounterVec
	UnitDuration    prometheus.Histogram
	AudioBytesTotal *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "viva"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration. Websocket routes cover the whole connection.",
			Buckets:   []float64{0.005, 0.05, 0.25, 1, 5, 30, 300},
		}, []string{"route"}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Interview sessions created.",
		}),
		ConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open interview websocket connections.",
		}),
		UnitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_units_total",
			Help:      "Audio units by outcome (reply, skipped or an error code).",
		}, []string{"outcome"}),
		UnitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_unit_duration_seconds",
			Help:      "Time from receiving an audio unit to having its reply.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		AudioBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Audio bytes received from candidates and sent back.",
		}, []string{"direction"}),
	}
	m.registry.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.SessionsStarted,
		m.ConnectionsOpen,
		m.UnitsTotal,
		m.UnitDuration,
		m.AudioBytesTotal,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) observeUnit(outcome string, d time.Duration, in, out int) {
	m.UnitsTotal.WithLabelValues(outcome).Inc()
	m.UnitDuration.Observe(d.Seconds())
	m.AudioBytesTotal.WithLabelValues("in").Add(float64(in))
	m.AudioBytesTotal.WithLabelValues("out").Add(float64(out))
}
