package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineDecodeSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "decode_skipped_total",
		Help:      "Count of logs skipped because they could not be decoded.",
	}, []string{"pool", "kind"})

	pipelineEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "events_total",
		Help:      "Count of decoded events by name.",
	}, []string{"pool", "event"})

	pipelineCommitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "commit_total",
		Help:      "Count of batch commits.",
	}, []string{"pool", "status"})

	pipelineCommitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "commit_duration_seconds",
		Help:      "Duration of batch commits.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"pool", "status"})

	pipelineCommitSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "commit_size",
		Help:      "Number of events per committed batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"pool"})

	pipelineRollbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "rollback_total",
		Help:      "Count of reorg rollbacks.",
	}, []string{"pool", "status"})

	pipelineCheckpointBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "checkpoint_block",
		Help:      "Block number of the last durable checkpoint.",
	}, []string{"pool"})

	pipelineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "state",
		Help:      "Current coordinator state, 1 for the active state.",
	}, []string{"pool", "state"})
)

// Pipeline tracks metrics for the coordinator.
type Pipeline struct {
	pool string
}

// NewPipeline constructs a Pipeline collector labelled with the pool address.
func NewPipeline(pool string) *Pipeline {
	if pool == "" {
		pool = "unknown"
	}
	return &Pipeline{pool: pool}
}

// ObserveDecodeSkip counts a skipped log by decode failure kind.
func (m *Pipeline) ObserveDecodeSkip(kind string) {
	if m == nil {
		return
	}
	pipelineDecodeSkippedTotal.WithLabelValues(m.pool, kind).Inc()
}

// ObserveEvent counts a decoded event.
func (m *Pipeline) ObserveEvent(name string) {
	if m == nil {
		return
	}
	pipelineEventsTotal.WithLabelValues(m.pool, name).Inc()
}

// ObserveCommit records a commit attempt outcome, duration and size.
func (m *Pipeline) ObserveCommit(err error, events int, started time.Time) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	pipelineCommitTotal.WithLabelValues(m.pool, status).Inc()
	pipelineCommitDuration.WithLabelValues(m.pool, status).Observe(time.Since(started).Seconds())
	if err == nil {
		pipelineCommitSize.WithLabelValues(m.pool).Observe(float64(events))
	}
}

// ObserveRollback records a rollback outcome.
func (m *Pipeline) ObserveRollback(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	pipelineRollbackTotal.WithLabelValues(m.pool, status).Inc()
}

// SetCheckpoint publishes the durable checkpoint block.
func (m *Pipeline) SetCheckpoint(block uint64) {
	if m == nil {
		return
	}
	pipelineCheckpointBlock.WithLabelValues(m.pool).Set(float64(block))
}

// SetState marks state as the active coordinator state.
func (m *Pipeline) SetState(previous, current string) {
	if m == nil {
		return
	}
	if previous != "" {
		pipelineState.WithLabelValues(m.pool, previous).Set(0)
	}
	pipelineState.WithLabelValues(m.pool, current).Set(1)
}
