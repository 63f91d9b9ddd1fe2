package escalation

import "github.com/prometheus/client_golang/prometheus"

var (
	escalationWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "govgate",
		Subsystem: "escalation",
		Name:      "writes_total",
		Help:      "Escalation writes by kind and outcome.",
	}, []string{"kind", "outcome"}) // kind: "review_item", "incident"; outcome: "created", "deduped", "failed"

	escalationPublishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "govgate",
		Subsystem: "escalation",
		Name:      "publish_errors_total",
		Help:      "Escalation events that could not be published to the bus.",
	})
)

func init() {
	prometheus.MustRegister(escalationWrites, escalationPublishErrors)
}
