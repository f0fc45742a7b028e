package normalize

import "github.com/prometheus/client_golang/prometheus"

var normalizedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "worklog",
	Subsystem: "normalize",
	Name:      "payloads_total",
	Help:      "Raw payloads normalized, by source and outcome.",
}, []string{"source", "outcome"})

func init() {
	prometheus.MustRegister(normalizedTotal)
}
