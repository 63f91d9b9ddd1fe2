package ratelimit

import "github.com/prometheus/client_golang/prometheus"

var (
	rlDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "govgate",
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limit admission checks by outcome.",
	}, []string{"outcome"}) // "allowed", "limited", "unavailable"

	rlStoreErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "govgate",
		Subsystem: "ratelimit",
		Name:      "store_errors_total",
		Help:      "Counter store failures. Each one denies the request.",
	})

	rlSweptWindows = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "govgate",
		Subsystem: "ratelimit",
		Name:      "swept_windows_total",
		Help:      "Expired in-process windows removed by the sweeper.",
	})
)

func init() {
	prometheus.MustRegister(rlDecisions, rlStoreErrors, rlSweptWindows)
}
