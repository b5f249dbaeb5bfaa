/*
Package metrics provides Prometheus metrics collection and exposition for
shardwave.

Metrics are registered at package init and exposed over HTTP for scraping,
covering four areas: collection/shard/segment inventory, the write path,
the search/query path, and resharding progress.

# Metrics Catalog

Inventory:

	shardwave_collections_total            gauge
	shardwave_shards_total{collection}      gauge
	shardwave_segments_total{collection,kind}  gauge, kind=appendable|proxy
	shardwave_points_total{collection}      gauge

Write path:

	shardwave_upsert_requests_total{collection,status}  counter
	shardwave_upsert_duration_seconds{collection}        histogram
	shardwave_delete_requests_total{collection,status}   counter

Search/query path:

	shardwave_search_requests_total{collection,status}  counter
	shardwave_search_duration_seconds{collection}        histogram
	shardwave_query_prefetch_depth{collection}           histogram
	shardwave_hnsw_visited_nodes                         histogram
	shardwave_cardinality_estimates_total{collection}    counter
	shardwave_filtered_search_branch_total{collection,branch}  counter,
	    branch=exact|no_filter_small|plain_scan|hnsw_walk|
	           sample_check_plain_scan|sample_check_hnsw_walk

Segment optimizer:

	shardwave_segment_optimize_duration_seconds  histogram
	shardwave_segments_optimized_total           counter
	shardwave_segments_quarantined_total         counter

Resharding (spec.md §4.6's three stages):

	shardwave_resharding_active{collection,stage}        gauge
	shardwave_resharding_attempts_total{collection,outcome}  counter
	shardwave_resharding_duration_seconds                 histogram

# Usage

	timer := metrics.NewTimer()
	err := shard.Upsert(ctx, version, points)
	timer.ObserveDurationVec(metrics.UpsertDuration, collectionName)
	if err != nil {
		metrics.UpsertRequestsTotal.WithLabelValues(collectionName, "error").Inc()
	} else {
		metrics.UpsertRequestsTotal.WithLabelValues(collectionName, "ok").Inc()
	}

Collector polls a Registry of locally hosted collections every 15 seconds
to refresh the inventory gauges; the rest of this package's counters and
histograms are updated inline at each call site instead.
*/
package metrics
