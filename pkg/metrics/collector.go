package metrics

import (
	"time"

	"github.com/shardwave/shardwave/pkg/query"
)

// CollectionStats is the subset of *collection.Collection's surface the
// collector polls. Expressed structurally instead of importing
// pkg/collection directly, so pkg/collection (and anything downstream of
// it, like pkg/shard and pkg/reshard) is free to import this package back
// for the request-scoped counters below without an import cycle.
type CollectionStats interface {
	Name() string
	ShardCount() int
	SegmentKindCounts() (appendable, proxy int)
	Count(filter *query.Filter, exact bool, shardKey string) (int, error)
}

// Registry is whatever owns the locally hosted collections, so the
// collector can poll without importing the dispatch layer that assembles
// them (avoiding an import cycle with the package that wires HTTP/gRPC
// handlers on top of pkg/collection).
type Registry interface {
	Collections() []CollectionStats
}

// Collector periodically samples every registered collection's shard,
// segment and point counts into the package's gauges, mirroring the
// pattern pkg/metrics originally used to poll a cluster manager.
type Collector struct {
	registry Registry
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector over registry.
func NewCollector(registry Registry) *Collector {
	return &Collector{
		registry: registry,
		stopCh:   make(chan struct{}),
	}
}

// Start collects metrics once immediately and then every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	collections := c.registry.Collections()
	CollectionsTotal.Set(float64(len(collections)))

	for _, col := range collections {
		name := col.Name()
		ShardsTotal.WithLabelValues(name).Set(float64(col.ShardCount()))

		appendable, proxy := col.SegmentKindCounts()
		SegmentsTotal.WithLabelValues(name, "appendable").Set(float64(appendable))
		SegmentsTotal.WithLabelValues(name, "proxy").Set(float64(proxy))

		if n, err := col.Count(nil, true, ""); err == nil {
			PointsTotal.WithLabelValues(name).Set(float64(n))
		}
	}
}
