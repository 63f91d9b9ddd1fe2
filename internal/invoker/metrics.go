package invoker

import "github.com/prometheus/client_golang/prometheus"

var (
	invokerAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "govgate",
		Subsystem: "invoker",
		Name:      "attempts_total",
		Help:      "Model provider attempts by provider and outcome.",
	}, []string{"provider", "outcome"}) // outcome: "success", "transient_error", "fatal_error", "credential_error"

	invokerFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "govgate",
		Subsystem: "invoker",
		Name:      "fallbacks_total",
		Help:      "Requests that fell back from a configured endpoint to the default provider.",
	})

	invokerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "govgate",
		Subsystem: "invoker",
		Name:      "call_duration_seconds",
		Help:      "Model provider call latency in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(invokerAttempts, invokerFallbacks, invokerLatency)
}
