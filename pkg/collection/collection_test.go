package collection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardwave/shardwave/pkg/apierrors"
	"github.com/shardwave/shardwave/pkg/events"
	"github.com/shardwave/shardwave/pkg/hashring"
	"github.com/shardwave/shardwave/pkg/kvstore"
	"github.com/shardwave/shardwave/pkg/metrics"
	"github.com/shardwave/shardwave/pkg/model"
	"github.com/shardwave/shardwave/pkg/payload"
	"github.com/shardwave/shardwave/pkg/query"
	"github.com/shardwave/shardwave/pkg/reshard"
	"github.com/shardwave/shardwave/pkg/segment"
	"github.com/shardwave/shardwave/pkg/shard"
)

func testConfig() model.CollectionConfig {
	return model.CollectionConfig{
		Name: "widgets",
		Vectors: map[model.VectorName]model.VectorParams{
			"default": {Size: 4, Distance: model.DistanceCosine},
		},
		Hnsw: model.HnswConfig{M: 8, EfConstruct: 32, Ef: 32},
	}
}

func newTestShard(id uint32) *shard.Shard {
	s := shard.New("widgets", id, testConfig())
	s.AddSegment(segment.New(uint64(id), testConfig(), kvstore.NewMemStore()))
	return s
}

func newTestCollection(n int) *Collection {
	c := New(testConfig())
	for i := 0; i < n; i++ {
		c.AddShard(hashring.ShardID(i), newTestShard(uint32(i)))
	}
	return c
}

func TestCollectionUpsertAndRetrieveRoutesAcrossShards(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(4)

	var points []model.PointStruct
	for i := uint64(1); i <= 20; i++ {
		points = append(points, model.PointStruct{ID: model.NumID(i), Payload: model.Payload{"n": float64(i)}})
	}
	require.NoError(t, c.Upsert(ctx, 1, points))

	out, err := c.Retrieve(ctx, []model.PointID{model.NumID(5), model.NumID(17)}, true, false)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, float64(5), out[model.NumID(5).Key()].Payload["n"])
}

func TestCollectionDeleteRemovesPoint(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(2)
	require.NoError(t, c.Upsert(ctx, 1, []model.PointStruct{{ID: model.NumID(1)}}))
	require.NoError(t, c.Delete(ctx, 2, []model.PointID{model.NumID(1)}))

	out, err := c.Retrieve(ctx, []model.PointID{model.NumID(1)}, false, false)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCollectionShardKeyRoutesToAssignedShardsOnly(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(3)
	c.AssignShardKey("tenant-a", []hashring.ShardID{0})

	require.NoError(t, c.CreateFieldIndex("city", payload.FieldKeyword))
	require.NoError(t, c.DeleteByFilter(ctx, 1, query.Filter{FieldPath: "city", FieldTokens: []string{"berlin"}}, "tenant-a"))

	n, err := c.Count(nil, true, "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCollectionQueryScattersAndMerges(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(2)
	require.NoError(t, c.Upsert(ctx, 1, []model.PointStruct{
		{ID: model.NumID(1), Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: model.DenseVector{1, 0, 0, 0}}}},
		{ID: model.NumID(2), Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: model.DenseVector{0, 1, 0, 0}}}},
	}))

	pq := query.PlannedQuery{
		Searches: []query.SearchRequest{{VectorName: "default", Query: model.DenseVector{1, 0, 0, 0}, Top: 10, Ef: 32}},
		RootPlans: []query.MergePlan{
			{Sources: []query.Source{{Kind: query.SourceSearchIdx, Idx: 0}}},
		},
	}
	out, err := c.Query(ctx, pq, time.Second, "")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotEmpty(t, out[0])
}

func TestCollectionStartReshardMigratesPointsAndPrunesDonor(t *testing.T) {
	ctx := context.Background()
	c := New(testConfig())
	donorID := hashring.ShardID(0)
	targetID := hashring.ShardID(1)
	c.AddShard(donorID, newTestShard(0))

	var points []model.PointStruct
	for i := uint64(1); i <= 50; i++ {
		points = append(points, model.PointStruct{ID: model.NumID(i)})
	}
	require.NoError(t, c.Upsert(ctx, 1, points))

	targetShard := newTestShard(1)
	c.mu.Lock()
	c.shards[targetID] = targetShard
	c.mu.Unlock()
	c.ring.AddResharding(targetID)

	var finished bool
	ok := c.StartReshard(ctx, reshard.Key{PeerID: 1, ShardID: targetID}, donorID, 10, func() { finished = true }, nil)
	require.True(t, ok)
	assert.True(t, finished)

	n, err := c.Count(nil, true, "")
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}

func TestCollectionPublishesLifecycleAndReshardEvents(t *testing.T) {
	ctx := context.Background()
	c := New(testConfig())
	sub := c.Events().Subscribe()
	defer c.Events().Unsubscribe(sub)

	donorID := hashring.ShardID(0)
	targetID := hashring.ShardID(1)
	c.AddShard(donorID, newTestShard(0))

	c.mu.Lock()
	c.shards[targetID] = newTestShard(1)
	c.mu.Unlock()
	c.ring.AddResharding(targetID)

	ok := c.StartReshard(ctx, reshard.Key{PeerID: 1, ShardID: targetID}, donorID, 10, nil, nil)
	require.True(t, ok)

	var seen []events.EventType
	deadline := time.After(time.Second)
	for len(seen) < 6 {
		select {
		case ev := <-sub:
			seen = append(seen, ev.Type)
		case <-deadline:
			t.Fatalf("timed out waiting for events, saw %v", seen)
		}
	}
	assert.Contains(t, seen, events.EventCollectionCreated)
	assert.Contains(t, seen, events.EventShardAdded)
	assert.Contains(t, seen, events.EventReshardStarted)
	assert.Contains(t, seen, events.EventReshardFinished)
}

func TestCollectionUpsertReportsInconsistentShardFailureOnPartialWrite(t *testing.T) {
	ctx := context.Background()
	c := New(testConfig())

	goodID := hashring.ShardID(0)
	badCfg := testConfig()
	delete(badCfg.Vectors, "default")
	badShard := shard.New("widgets", 1, badCfg)
	badShard.AddSegment(segment.New(1, badCfg, kvstore.NewMemStore()))

	c.AddShard(goodID, newTestShard(0))
	c.AddReshardingShard(hashring.ShardID(1), badShard)

	err := c.Upsert(ctx, 1, []model.PointStruct{{
		ID:      model.NumID(1),
		Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: model.DenseVector{1, 0, 0, 0}}},
	}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierrors.ErrInconsistentShardFailure))
}

// TestCollectionStartReshardReportsShardHealth is spec.md §2's
// "shard-degradation reporting" half of the health checker: a resharding
// attempt that can't even find its target shard marks that shard unhealthy
// in pkg/metrics' component registry, and a later successful attempt
// clears it again.
func TestCollectionStartReshardReportsShardHealth(t *testing.T) {
	ctx := context.Background()
	c := New(testConfig())
	donorID := hashring.ShardID(0)
	missingTargetID := hashring.ShardID(9)
	c.AddShard(donorID, newTestShard(0))

	ok := c.StartReshard(ctx, reshard.Key{PeerID: 1, ShardID: missingTargetID}, donorID, 1, nil, nil)
	assert.False(t, ok)

	health := metrics.GetHealth()
	assert.Contains(t, health.Components["shard:9"], "unhealthy")

	targetID := hashring.ShardID(1)
	c.mu.Lock()
	c.shards[targetID] = newTestShard(1)
	c.mu.Unlock()
	c.ring.AddResharding(targetID)
	require.NoError(t, c.Upsert(ctx, 1, []model.PointStruct{{ID: model.NumID(1)}}))

	ok = c.StartReshard(ctx, reshard.Key{PeerID: 1, ShardID: targetID}, donorID, 10, nil, nil)
	require.True(t, ok)

	health = metrics.GetHealth()
	assert.Equal(t, "healthy", health.Components["shard:1"])
	assert.Equal(t, "healthy", health.Components["shard:0"])
}
