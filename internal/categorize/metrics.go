package categorize

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "categorize",
		Name:      "blocks_total",
		Help:      "Blocks processed by the categorization engine, by outcome.",
	}, []string{"outcome"})
	retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "categorize",
		Name:      "retries_total",
		Help:      "Reasoning service retries, by kind (transient backoff or strict prompt).",
	}, []string{"kind"})
	classifyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "worklog",
		Subsystem: "categorize",
		Name:      "block_duration_seconds",
		Help:      "Time spent classifying one block including retries.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, retriesTotal, classifyLatency)
}
