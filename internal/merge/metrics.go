package merge

import (
	"github.com/prometheus/client_golang/prometheus"

	"example.com/worklog/internal/domain"
)

var (
	recordsMergedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "merge",
		Name:      "records_total",
		Help:      "Activity records consumed by the merge engine, by source.",
	}, []string{"source"})
	blocksProducedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "worklog",
		Subsystem: "merge",
		Name:      "blocks_total",
		Help:      "Unified activity blocks produced by the merge engine.",
	})
	blockMembers = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "worklog",
		Subsystem: "merge",
		Name:      "block_members",
		Help:      "Number of activity records folded into each block.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
	})
)

func init() {
	prometheus.MustRegister(recordsMergedTotal, blocksProducedTotal, blockMembers)
}

func recordMerge(records []domain.ActivityRecord, blocks []domain.Block) {
	for _, r := range records {
		recordsMergedTotal.WithLabelValues(string(r.Source)).Inc()
	}
	blocksProducedTotal.Add(float64(len(blocks)))
	for _, b := range blocks {
		blockMembers.Observe(float64(len(b.Members)))
	}
}
