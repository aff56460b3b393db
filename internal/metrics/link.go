package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pool_indexer"

var (
	linkLogsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain_link",
		Name:      "logs_total",
		Help:      "Count of logs forwarded by the chain link.",
	}, []string{"pool", "source"})

	linkReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain_link",
		Name:      "reconnects_total",
		Help:      "Count of chain link session restarts.",
	}, []string{"pool", "reason"})

	linkReorgsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain_link",
		Name:      "reorgs_total",
		Help:      "Count of reorgs detected by the chain link.",
	}, []string{"pool", "source"})

	linkRPCTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain_link",
		Name:      "rpc_operations_total",
		Help:      "Count of node RPC operations.",
	}, []string{"pool", "operation", "status"})

	linkRPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "chain_link",
		Name:      "rpc_operation_duration_seconds",
		Help:      "Duration of node RPC operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"pool", "operation", "status"})
)

// Link tracks metrics for the chain link.
type Link struct {
	pool string
}

// NewLink constructs a Link collector labelled with the pool address.
func NewLink(pool string) *Link {
	if pool == "" {
		pool = "unknown"
	}
	return &Link{pool: pool}
}

// ObserveLog counts a forwarded log. Source is "backfill" or "live".
func (m *Link) ObserveLog(source string) {
	if m == nil {
		return
	}
	linkLogsTotal.WithLabelValues(m.pool, source).Inc()
}

// ObserveReconnect counts a session restart.
func (m *Link) ObserveReconnect(reason string) {
	if m == nil {
		return
	}
	linkReconnectsTotal.WithLabelValues(m.pool, reason).Inc()
}

// ObserveReorg counts a detected reorg. Source is "reconcile" or "removed".
func (m *Link) ObserveReorg(source string) {
	if m == nil {
		return
	}
	linkReorgsTotal.WithLabelValues(m.pool, source).Inc()
}

// ObserveRPC records a single RPC call outcome and duration.
func (m *Link) ObserveRPC(operation string, err error, started time.Time) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	linkRPCTotal.WithLabelValues(m.pool, operation, status).Inc()
	linkRPCDuration.WithLabelValues(m.pool, operation, status).Observe(time.Since(started).Seconds())
}
