// Package metrics holds the HTTP-surface Prometheus collectors. Gateway
// collectors live next to the dispatcher in internal/ailink.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgate_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmgate_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"method", "endpoint"},
	)

	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgate_health_checks_total",
			Help: "Health check executions",
		},
		[]string{"check", "status"},
	)

	ServerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "llmgate_server_start_time_seconds",
		Help: "Unix time the HTTP server started",
	})
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HealthChecksTotal)
	prometheus.MustRegister(ServerStartTime)
}

// RecordHTTPRequest records one served request. endpoint is the route
// pattern, not the raw path, to bound label cardinality.
func RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecksTotal.WithLabelValues(checkName, status).Inc()
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(t time.Time) {
	ServerStartTime.Set(float64(t.Unix()))
}
