package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the notification pipeline
type Metrics struct {
	// Push pipeline metrics
	PushesReceived     prometheus.Counter
	PushesAccepted     prometheus.Counter
	PushesDropped      *prometheus.CounterVec
	FeedbackEmitted    *prometheus.CounterVec
	FeedbackSuppressed *prometheus.CounterVec

	// Transport metrics
	ConnectsTotal     prometheus.Counter
	ReconnectAttempts prometheus.Counter
	ReconnectFailures prometheus.Counter
	ConnectionStatus  prometheus.Gauge

	// Store metrics
	StoreSize   prometheus.Gauge
	UnreadCount prometheus.Gauge

	// Gateway metrics
	GatewayRequests  *prometheus.CounterVec
	GatewayFallbacks *prometheus.CounterVec

	// Relay HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers all Prometheus metrics. A nil registry falls
// back to the process default; passing a private one keeps tests
// independent of global state and is what Handler serves.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	if reg != nil {
		registerer = reg
	}

	m := &Metrics{
		registry: reg,
		PushesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pushes_received_total",
				Help:      "Total number of push notifications received over the socket",
			},
		),
		PushesAccepted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pushes_accepted_total",
				Help:      "Total number of pushes that passed the dedup/staleness filter",
			},
		),
		PushesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pushes_dropped_total",
				Help:      "Total number of pushes dropped by the filter",
			},
			[]string{"reason"},
		),
		FeedbackEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feedback_emitted_total",
				Help:      "Total number of feedback signals emitted",
			},
			[]string{"channel"},
		),
		FeedbackSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feedback_suppressed_total",
				Help:      "Total number of feedback signals suppressed by a gate",
			},
			[]string{"channel", "gate"},
		),
		ConnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connects_total",
				Help:      "Total number of successful socket connections",
			},
		),
		ReconnectAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnect_attempts_total",
				Help:      "Total number of reconnection attempts",
			},
		),
		ReconnectFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnect_failures_total",
				Help:      "Total number of exhausted reconnection cycles",
			},
		),
		ConnectionStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_status",
				Help:      "Current connection status (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed)",
			},
		),
		StoreSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_records",
				Help:      "Number of notification records currently in the store",
			},
		),
		UnreadCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_unread",
				Help:      "Number of unread notification records in the store",
			},
		),
		GatewayRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_requests_total",
				Help:      "Total number of gateway candidate-endpoint attempts",
			},
			[]string{"operation", "outcome"},
		),
		GatewayFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_fallbacks_total",
				Help:      "Total number of mutations degraded to local success",
			},
			[]string{"operation"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
	}

	registerer.MustRegister(
		m.PushesReceived,
		m.PushesAccepted,
		m.PushesDropped,
		m.FeedbackEmitted,
		m.FeedbackSuppressed,
		m.ConnectsTotal,
		m.ReconnectAttempts,
		m.ReconnectFailures,
		m.ConnectionStatus,
		m.StoreSize,
		m.UnreadCount,
		m.GatewayRequests,
		m.GatewayFallbacks,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

// NewNop returns metrics bound to a throwaway registry, for tests
func NewNop() *Metrics {
	return New("test", prometheus.NewRegistry())
}

// Handler returns the scrape handler for the registry the metrics live on
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMetricsMiddleware returns middleware that collects HTTP metrics
func (m *Metrics) HTTPMetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack forwards to the underlying writer so WebSocket upgrades still work
// through the metrics middleware.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
