package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the server. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	spotlightEvents  *prometheus.CounterVec
	spotlightActive  prometheus.Gauge
	connectedClients prometheus.Gauge
	jobsProcessed    *prometheus.CounterVec
}

// New registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	spotlightEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spotlight_events_total",
		Help: "Spotlight store events by kind; expired marks removals by countdown",
	}, []string{"kind", "expired"})

	spotlightActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spotlight_sessions_active",
		Help: "Classrooms with a running spotlight session",
	})

	connectedClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connected_clients",
		Help: "Open WebSocket connections on this instance",
	})

	jobsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_jobs_total",
		Help: "Background jobs processed by type and outcome",
	}, []string{"type", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, spotlightEvents, spotlightActive, connectedClients, jobsProcessed, goroutines)

	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		spotlightEvents:  spotlightEvents,
		spotlightActive:  spotlightActive,
		connectedClients: connectedClients,
		jobsProcessed:    jobsProcessed,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// SpotlightEvent counts one spotlight store event.
func (m *Metrics) SpotlightEvent(kind string, expired bool) {
	if m == nil {
		return
	}
	m.spotlightEvents.WithLabelValues(kind, strconv.FormatBool(expired)).Inc()
}

// SetSpotlightSessions sets the number of running spotlight sessions.
func (m *Metrics) SetSpotlightSessions(n int) {
	if m == nil {
		return
	}
	m.spotlightActive.Set(float64(n))
}

// SetConnectedClients sets the number of open WebSocket connections.
func (m *Metrics) SetConnectedClients(n int) {
	if m == nil {
		return
	}
	m.connectedClients.Set(float64(n))
}

// JobProcessed counts a background job outcome ("ok", "retry", "failed").
func (m *Metrics) JobProcessed(jobType, outcome string) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(jobType, outcome).Inc()
}
