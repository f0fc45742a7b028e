package outbox

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

type dlqOutcome string

const (
	outcomeRequeued    dlqOutcome = "requeued"
	outcomeRescheduled dlqOutcome = "rescheduled"
	outcomeQuarantined dlqOutcome = "quarantined"
)

var (
	dlqOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "dlq",
		Name:      "entries_total",
		Help:      "DLQ entries handled by the manager, by outcome.",
	}, []string{"topic", "event_type", "outcome"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "worklog",
		Subsystem: "dlq",
		Name:      "backlog",
		Help:      "DLQ entries still eligible for replay.",
	})

	dlqQuarantinedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "worklog",
		Subsystem: "dlq",
		Name:      "quarantined",
		Help:      "DLQ entries parked for manual inspection.",
	})
)

func init() {
	prometheus.MustRegister(dlqOutcomes, dlqBacklogGauge, dlqQuarantinedGauge)
}

func recordDLQOutcome(entry dlqEntry, outcome dlqOutcome) {
	dlqOutcomes.WithLabelValues(entry.Topic, entry.EventType, string(outcome)).Inc()
}

// refreshDLQGauges recounts the table. A failed count leaves the previous
// values in place.
func refreshDLQGauges(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) {
	var backlog, quarantined int
	err := pool.QueryRow(ctx, `SELECT
            COUNT(*) FILTER (WHERE quarantined_at IS NULL),
            COUNT(*) FILTER (WHERE quarantined_at IS NOT NULL)
          FROM outbox_dlq`).Scan(&backlog, &quarantined)
	if err != nil {
		logger.Warn("dlq gauge refresh failed", slog.Any("error", err))
		return
	}
	dlqBacklogGauge.Set(float64(backlog))
	dlqQuarantinedGauge.Set(float64(quarantined))
}
