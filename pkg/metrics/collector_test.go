package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shardwave/shardwave/pkg/collection"
	"github.com/shardwave/shardwave/pkg/kvstore"
	"github.com/shardwave/shardwave/pkg/model"
	"github.com/shardwave/shardwave/pkg/segment"
	"github.com/shardwave/shardwave/pkg/shard"
)

type fakeRegistry []*collection.Collection

func (r fakeRegistry) Collections() []CollectionStats {
	out := make([]CollectionStats, len(r))
	for i, c := range r {
		out[i] = c
	}
	return out
}

func newTestCollection(t *testing.T) *collection.Collection {
	t.Helper()
	cfg := model.CollectionConfig{
		Name: "widgets",
		Vectors: map[model.VectorName]model.VectorParams{
			"default": {Size: 4, Distance: model.DistanceCosine},
		},
		Hnsw: model.HnswConfig{M: 8, EfConstruct: 32, Ef: 32},
	}
	col := collection.New(cfg)
	s := shard.New("widgets", 0, cfg)
	s.AddSegment(segment.New(0, cfg, kvstore.NewMemStore()))
	col.AddShard(0, s)
	return col
}

func TestCollectorCollectSetsGauges(t *testing.T) {
	col := newTestCollection(t)
	if err := col.Upsert(context.Background(), 1, []model.PointStruct{
		{ID: model.NumID(1)}, {ID: model.NumID(2)},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	c := NewCollector(fakeRegistry{col})
	c.collect()

	if got := testutil.ToFloat64(CollectionsTotal); got != 1 {
		t.Errorf("CollectionsTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ShardsTotal.WithLabelValues("widgets")); got != 1 {
		t.Errorf("ShardsTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(PointsTotal.WithLabelValues("widgets")); got != 2 {
		t.Errorf("PointsTotal = %v, want 2", got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	col := newTestCollection(t)
	c := NewCollector(fakeRegistry{col})
	c.Start()
	c.Stop()
}
