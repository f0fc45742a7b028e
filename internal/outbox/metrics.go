package outbox

import "github.com/prometheus/client_golang/prometheus"

// Per-topic counters share the "topic" label so dashboards can join them.
var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Draft events published to Kafka.",
	}, []string{"topic"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Draft events whose batch failed to publish.",
	}, []string{"topic"})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Draft events parked in outbox_dlq after a failed publish.",
	}, []string{"topic"})

	schemaLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "outbox",
		Name:      "schema_lookups_total",
		Help:      "Schema id resolutions by result (cached, registered, unregistered, error).",
	}, []string{"result"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "worklog",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Wall time of a non-empty dispatch cycle.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, dlqCounter, schemaLookups, batchDuration)
}

func countByTopic(counter *prometheus.CounterVec, messages []Message) {
	perTopic := make(map[string]int, 2)
	for _, msg := range messages {
		perTopic[msg.Topic]++
	}
	for topic, n := range perTopic {
		counter.WithLabelValues(topic).Add(float64(n))
	}
}
