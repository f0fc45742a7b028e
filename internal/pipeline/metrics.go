package pipeline

import "github.com/prometheus/client_golang/prometheus"

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Collection runs by outcome.",
	}, []string{"outcome"})
	fetchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "pipeline",
		Name:      "source_fetch_failures_total",
		Help:      "Source fetches that failed, by source.",
	}, []string{"source"})
	fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "worklog",
		Subsystem: "pipeline",
		Name:      "source_fetch_duration_seconds",
		Help:      "Duration of source fetches.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"source"})
)

func init() {
	prometheus.MustRegister(runsTotal, fetchFailures, fetchDuration)
}
