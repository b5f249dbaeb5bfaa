package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Collection metrics
	CollectionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shardwave_collections_total",
			Help: "Total number of collections hosted locally",
		},
	)

	ShardsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shardwave_shards_total",
			Help: "Total number of shards by collection",
		},
		[]string{"collection"},
	)

	SegmentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shardwave_segments_total",
			Help: "Total number of segments by collection and kind (appendable/proxy)",
		},
		[]string{"collection", "kind"},
	)

	PointsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shardwave_points_total",
			Help: "Total number of live points by collection",
		},
		[]string{"collection"},
	)

	// Write path metrics
	UpsertRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardwave_upsert_requests_total",
			Help: "Total number of upsert requests by collection and status",
		},
		[]string{"collection", "status"},
	)

	UpsertDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shardwave_upsert_duration_seconds",
			Help:    "Upsert request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	DeleteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardwave_delete_requests_total",
			Help: "Total number of delete requests by collection and status",
		},
		[]string{"collection", "status"},
	)

	// Search/query path metrics
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardwave_search_requests_total",
			Help: "Total number of vector search requests by collection and status",
		},
		[]string{"collection", "status"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shardwave_search_duration_seconds",
			Help:    "Vector search latency in seconds, from planned query to merged result",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	QueryPrefetchDepth = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shardwave_query_prefetch_depth",
			Help:    "Depth of the prefetch/rescore tree a planned query compiled to",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8},
		},
		[]string{"collection"},
	)

	HnswVisitedNodes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shardwave_hnsw_visited_nodes",
			Help:    "Number of graph nodes visited per HNSW search",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	// Segment optimizer metrics
	SegmentOptimizeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shardwave_segment_optimize_duration_seconds",
			Help:    "Time taken to merge and rebuild a segment's HNSW graph in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SegmentsOptimizedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shardwave_segments_optimized_total",
			Help: "Total number of segments successfully optimized",
		},
	)

	SegmentsQuarantinedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shardwave_segments_quarantined_total",
			Help: "Total number of segments quarantined after a failed load or optimize",
		},
	)

	// Resharding metrics, one label series per stage (spec.md §4.6)
	ReshardingActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shardwave_resharding_active",
			Help: "Resharding operations currently in progress by collection and stage",
		},
		[]string{"collection", "stage"},
	)

	ReshardingAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardwave_resharding_attempts_total",
			Help: "Total resharding attempts by collection and outcome (finished/retried/failed)",
		},
		[]string{"collection", "outcome"},
	)

	ReshardingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shardwave_resharding_duration_seconds",
			Help:    "Time taken for a resharding operation to reach WriteHashRingCommitted in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800},
		},
	)

	// Cardinality estimation metrics (pkg/shard)
	CardinalityEstimatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardwave_cardinality_estimates_total",
			Help: "Total number of indexed cardinality estimates served instead of a full scan",
		},
		[]string{"collection"},
	)

	// FilteredSearchBranchTotal counts which of spec.md §4.1's five
	// strategy-selection branches a vector search took: "exact" (request
	// forces a plain scan), "no_filter_small" (unfiltered, point count
	// below full_scan_threshold), "plain_scan" (filtered, cardinality.max
	// below threshold), "hnsw_walk" (filtered, cardinality.min above
	// threshold, or an unindexed/has-id-only filter), and the ambiguous
	// zone's sample-check outcomes "sample_check_plain_scan" /
	// "sample_check_hnsw_walk".
	FilteredSearchBranchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shardwave_filtered_search_branch_total",
			Help: "Total number of vector searches by HNSW strategy-selection branch taken",
		},
		[]string{"collection", "branch"},
	)
)

func init() {
	prometheus.MustRegister(CollectionsTotal)
	prometheus.MustRegister(ShardsTotal)
	prometheus.MustRegister(SegmentsTotal)
	prometheus.MustRegister(PointsTotal)

	prometheus.MustRegister(UpsertRequestsTotal)
	prometheus.MustRegister(UpsertDuration)
	prometheus.MustRegister(DeleteRequestsTotal)

	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(QueryPrefetchDepth)
	prometheus.MustRegister(HnswVisitedNodes)

	prometheus.MustRegister(SegmentOptimizeDuration)
	prometheus.MustRegister(SegmentsOptimizedTotal)
	prometheus.MustRegister(SegmentsQuarantinedTotal)

	prometheus.MustRegister(ReshardingActive)
	prometheus.MustRegister(ReshardingAttemptsTotal)
	prometheus.MustRegister(ReshardingDuration)

	prometheus.MustRegister(CardinalityEstimatesTotal)
	prometheus.MustRegister(FilteredSearchBranchTotal)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
