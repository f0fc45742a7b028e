package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	auditedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "audit",
		Name:      "events_recorded_total",
		Help:      "Draft events committed after the handler accepted them.",
	}, []string{"event_type"})

	rejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "audit",
		Name:      "events_rejected_total",
		Help:      "Records dropped before reaching the handler or refused by it, by stage.",
	}, []string{"topic", "stage"})

	deliveryLag = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "worklog",
		Subsystem: "audit",
		Name:      "delivery_lag_seconds",
		Help:      "Time from Kafka append to audit commit.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(auditedCounter, rejectedCounter, deliveryLag)
}

// Rejection stages.
const (
	stageDecode  = "decode"
	stagePayload = "payload"
	stageHandler = "handler"
)

func recordAudited(msg Message, now time.Time) {
	auditedCounter.WithLabelValues(msg.EventType).Inc()
	if msg.Timestamp.IsZero() {
		return
	}
	if lag := now.Sub(msg.Timestamp); lag >= 0 {
		deliveryLag.WithLabelValues(msg.Topic).Observe(lag.Seconds())
	}
}

func recordRejected(topic, stage string) {
	rejectedCounter.WithLabelValues(topic, stage).Inc()
}
