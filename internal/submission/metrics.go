package submission

import "github.com/prometheus/client_golang/prometheus"

var (
	entriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "submission",
		Name:      "entries_total",
		Help:      "Entries processed by submission passes, by outcome.",
	}, []string{"outcome"})
	ledgerHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "submission",
		Name:      "ledger_hits_total",
		Help:      "Entries found already logged in the idempotence ledger.",
	})
	reconciledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "submission",
		Name:      "reconciled_total",
		Help:      "Pending ledger keys resolved by looking up the ticketing system.",
	})
	approvalViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "submission",
		Name:      "approval_violations_total",
		Help:      "Submission attempts refused because the draft was not approved.",
	})
	passDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "worklog",
		Subsystem: "submission",
		Name:      "pass_duration_seconds",
		Help:      "Duration of submission passes.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(entriesTotal, ledgerHits, reconciledTotal, approvalViolations, passDuration)
}
