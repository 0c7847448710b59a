package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SyncPasses counts completed sync passes per chain and category.
	SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poolsync_sync_passes_total",
		Help: "Completed sync passes by chain and category.",
	}, []string{"chain", "category"})

	// SyncFailures counts failed sync passes per chain and category.
	SyncFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poolsync_sync_failures_total",
		Help: "Failed sync passes by chain and category.",
	}, []string{"chain", "category"})

	// RowsUpserted counts rows written per chain and table.
	RowsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "poolsync_rows_upserted_total",
		Help: "Rows upserted by chain and table.",
	}, []string{"chain", "table"})

	// SubgraphLagBlocks records the last observed subgraph lag per chain.
	SubgraphLagBlocks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "poolsync_subgraph_lag_blocks",
		Help: "Blocks the subgraph trails the chain head, per chain.",
	}, []string{"chain"})

	// SyncDuration observes sync pass durations per chain and category.
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "poolsync_sync_duration_seconds",
		Help:    "Duration of a sync pass by chain and category.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"chain", "category"})
)

// Handler exposes the default registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
