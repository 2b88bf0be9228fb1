package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgate_errors_total",
			Help: "Error responses by envelope code",
		},
		[]string{"code", "http_status"},
	)

	PanicsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "llmgate_panics_total",
		Help: "Recovered handler panics",
	})

	ErrorsByEndpoint = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgate_errors_by_endpoint_total",
			Help: "Error responses by route",
		},
		[]string{"endpoint", "code"},
	)
)

func init() {
	prometheus.MustRegister(ErrorsTotal)
	prometheus.MustRegister(PanicsTotal)
	prometheus.MustRegister(ErrorsByEndpoint)
}

// RecordError records an error with code and status
func RecordError(errorCode string, httpStatus int) {
	ErrorsTotal.WithLabelValues(errorCode, strconv.Itoa(httpStatus)).Inc()
}

// RecordPanic records a panic recovery
func RecordPanic() {
	PanicsTotal.Inc()
}

// RecordErrorByEndpoint records an error by endpoint
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	ErrorsByEndpoint.WithLabelValues(endpoint, errorCode).Inc()
}
