package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics holds the Prometheus collectors for the HTTP layer.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	responseSize    *prometheus.HistogramVec
	inFlight        prometheus.Gauge
}

// NewHTTPMetrics creates the HTTP metric collectors and registers them with
// the given registerer.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		responseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8),
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		}),
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration, m.responseSize, m.inFlight)
	return m
}

// Middleware returns an HTTP middleware that records request metrics. Paths
// are normalized before being used as label values so per-resource IDs do not
// explode the label cardinality.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		route := NormalizePath(r.URL.Path)
		status := strconv.Itoa(rw.statusCode)

		m.requestsTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.responseSize.WithLabelValues(r.Method, route).Observe(float64(rw.size))
	})
}

// NormalizePath collapses resource IDs in known routes into placeholders,
// e.g. /payments/pay_123/confirm becomes /payments/{id}/confirm. Unknown
// paths are returned unchanged.
func NormalizePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 2 && parts[0] == "payments" && parts[1] == "intents":
		return "/payments/intents"
	case len(parts) == 2 && parts[0] == "payments":
		return "/payments/{id}"
	case len(parts) == 3 && parts[0] == "payments":
		switch parts[2] {
		case "confirm", "cancel", "refund":
			return "/payments/{id}/" + parts[2]
		}
	case len(parts) == 3 && parts[0] == "bookings" && parts[2] == "payments":
		return "/bookings/{id}/payments"
	}

	return path
}
