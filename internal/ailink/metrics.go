package ailink

import "github.com/prometheus/client_golang/prometheus"

var (
	// GatewayCalls counts provider calls by endpoint, tier and outcome
	// ("success" or an ErrorKind).
	GatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmgate_gateway_calls_total",
			Help: "Provider calls issued by the gateway",
		},
		[]string{"endpoint", "tier", "outcome"},
	)

	// GatewayCallDuration tracks provider call latency.
	GatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmgate_gateway_call_duration_seconds",
			Help:    "Provider call latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"tier"},
	)

	// GatewayExhausted counts generate calls that ran out of attempts.
	GatewayExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "llmgate_gateway_exhausted_total",
		Help: "Generate calls that exhausted the attempt budget",
	})

	// GatewayMode is 0 in PRIMARY and 1 in FALLBACK.
	GatewayMode = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "llmgate_gateway_mode",
		Help: "Dispatcher mode (0 primary, 1 fallback)",
	})

	// GatewayFallbackQuotaUsed tracks requests counted in the current fallback window.
	GatewayFallbackQuotaUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "llmgate_gateway_fallback_quota_used",
		Help: "Fallback requests counted in the current quota window",
	})
)

func init() {
	prometheus.MustRegister(GatewayCalls)
	prometheus.MustRegister(GatewayCallDuration)
	prometheus.MustRegister(GatewayExhausted)
	prometheus.MustRegister(GatewayMode)
	prometheus.MustRegister(GatewayFallbackQuotaUsed)
}

func observeState(mode Mode, quota QuotaWindow) {
	GatewayMode.Set(float64(mode))
	GatewayFallbackQuotaUsed.Set(float64(quota.Count))
}
