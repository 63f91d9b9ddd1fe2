package gateway

import "github.com/prometheus/client_golang/prometheus"

var (
	gwDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "govgate",
		Subsystem: "gateway",
		Name:      "decisions_total",
		Help:      "Admission decisions by decision and the stage that produced them.",
	}, []string{"decision", "stage"})

	gwLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "govgate",
		Subsystem: "gateway",
		Name:      "request_duration_seconds",
		Help:      "End-to-end pipeline latency in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	gwStageLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "govgate",
		Subsystem: "gateway",
		Name:      "stage_duration_seconds",
		Help:      "Per-stage latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"stage"})

	gwLogWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "govgate",
		Subsystem: "gateway",
		Name:      "log_write_failures_total",
		Help:      "Decision log entries that could not be written.",
	})

	gwAutoLocks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "govgate",
		Subsystem: "gateway",
		Name:      "auto_locks_total",
		Help:      "Systems locked by the pipeline because of a critical risk tier.",
	})

	gwRefusals = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "govgate",
		Subsystem: "gateway",
		Name:      "output_refusals_total",
		Help:      "Model replies replaced with the refusal message.",
	})

	gwPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "govgate",
		Subsystem: "gateway",
		Name:      "pipeline_panics_total",
		Help:      "Pipeline panics recovered and turned into internal errors.",
	})
)

func init() {
	prometheus.MustRegister(gwDecisions, gwLatency, gwStageLatency, gwLogWriteFailures, gwAutoLocks, gwRefusals, gwPanics)
}
