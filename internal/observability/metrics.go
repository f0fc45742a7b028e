// Package observability holds process-wide watermark gauges.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	draftPersistedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "worklog",
		Subsystem: "drafts",
		Name:      "last_draft_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent draft persisted for review.",
	})
	draftSubmittedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "worklog",
		Subsystem: "drafts",
		Name:      "last_draft_submitted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent draft that reached submitted.",
	})
	draftTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "drafts",
		Name:      "transitions_total",
		Help:      "Committed draft state changes, by target state.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(draftPersistedGauge, draftSubmittedGauge, draftTransitions)
}

// RecordDraftPersisted updates the persistence watermark gauge.
func RecordDraftPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	draftPersistedGauge.Set(float64(ts.Unix()))
}

// RecordDraftSubmitted updates the submitted watermark gauge.
func RecordDraftSubmitted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	draftSubmittedGauge.Set(float64(ts.Unix()))
}

// RecordTransition counts a committed state change.
func RecordTransition(state string) {
	draftTransitions.WithLabelValues(state).Inc()
}
