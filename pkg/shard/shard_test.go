package shard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardwave/shardwave/pkg/kvstore"
	"github.com/shardwave/shardwave/pkg/model"
	"github.com/shardwave/shardwave/pkg/payload"
	"github.com/shardwave/shardwave/pkg/query"
	"github.com/shardwave/shardwave/pkg/segment"
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

func newTestShard() *Shard {
	s := New("widgets", 1, testConfig())
	s.AddSegment(segment.New(1, testConfig(), kvstore.NewMemStore()))
	return s
}

func TestShardUpsertAndRetrieve(t *testing.T) {
	ctx := context.Background()
	s := newTestShard()
	err := s.Upsert(ctx, 1, []model.PointStruct{
		{ID: model.NumID(1), Payload: model.Payload{"city": "berlin"}},
	})
	require.NoError(t, err)

	out, err := s.Retrieve(ctx, []model.PointID{model.NumID(1)}, true, false)
	require.NoError(t, err)
	p, ok := out[model.NumID(1).Key()]
	require.True(t, ok)
	assert.Equal(t, "berlin", p.Payload["city"])
}

func TestShardDeleteByExplicitIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestShard()
	require.NoError(t, s.Upsert(ctx, 1, []model.PointStruct{{ID: model.NumID(1)}}))
	require.NoError(t, s.Delete(ctx, 2, DeleteRequest{IDs: []model.PointID{model.NumID(1)}}))

	out, err := s.Retrieve(ctx, []model.PointID{model.NumID(1)}, false, false)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestShardCreateFieldIndexAndDeleteByFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestShard()
	require.NoError(t, s.CreateFieldIndex("city", payload.FieldKeyword))
	require.NoError(t, s.Upsert(ctx, 1, []model.PointStruct{
		{ID: model.NumID(1), Payload: model.Payload{"city": "berlin"}},
		{ID: model.NumID(2), Payload: model.Payload{"city": "paris"}},
	}))

	n, err := s.Count(&query.Filter{FieldPath: "city", FieldTokens: []string{"kw:berlin"}}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Delete(ctx, 2, DeleteRequest{Filter: &query.Filter{FieldPath: "city", FieldTokens: []string{"kw:berlin"}}}))

	n, err = s.Count(nil, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestShardDoSearchFindsNearest(t *testing.T) {
	ctx := context.Background()
	s := newTestShard()
	vecs := []model.DenseVector{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	for i, v := range vecs {
		require.NoError(t, s.Upsert(ctx, uint64(i+1), []model.PointStruct{{
			ID:      model.NumID(uint64(i + 1)),
			Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: v}},
		}}))
	}

	results, err := s.DoSearch(ctx, []query.SearchRequest{
		{VectorName: "default", Query: model.DenseVector{1, 0, 0, 0}, Top: 1, Ef: 32},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0], 1)
	assert.Equal(t, model.NumID(1), results[0][0].ID)
}

func TestShardDoScrollOrdersByPayloadField(t *testing.T) {
	ctx := context.Background()
	s := newTestShard()
	require.NoError(t, s.Upsert(ctx, 1, []model.PointStruct{
		{ID: model.NumID(1), Payload: model.Payload{"rank": float64(3)}},
		{ID: model.NumID(2), Payload: model.Payload{"rank": float64(1)}},
		{ID: model.NumID(3), Payload: model.Payload{"rank": float64(2)}},
	}))

	results, err := s.DoScroll(ctx, []query.ScrollRequest{
		{OrderBy: &query.OrderBy{Field: "rank", Ascending: true}, WithPayload: true},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0], 3)
	assert.Equal(t, model.NumID(2), results[0][0].ID)
	assert.Equal(t, model.NumID(1), results[0][2].ID)
}

func TestShardQueryFusesSearchAndScroll(t *testing.T) {
	ctx := context.Background()
	s := newTestShard()
	require.NoError(t, s.Upsert(ctx, 1, []model.PointStruct{
		{ID: model.NumID(1), Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: model.DenseVector{1, 0, 0, 0}}}},
	}))

	pq := query.PlannedQuery{
		Searches: []query.SearchRequest{{VectorName: "default", Query: model.DenseVector{1, 0, 0, 0}, Top: 10, Ef: 32}},
		RootPlans: []query.MergePlan{
			{Sources: []query.Source{{Kind: query.SourceSearchIdx, Idx: 0}}},
		},
	}
	out, err := s.Query(ctx, pq, time.Second)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0], 1)
	assert.Equal(t, model.NumID(1), out[0][0][0].ID)
}

func TestShardDoSearchRecommendAveragesPositiveAndNegative(t *testing.T) {
	ctx := context.Background()
	s := newTestShard()
	vecs := []model.DenseVector{{1, 0, 0, 0}, {0, 1, 0, 0}, {-1, 0, 0, 0}}
	for i, v := range vecs {
		require.NoError(t, s.Upsert(ctx, uint64(i+1), []model.PointStruct{{
			ID:      model.NumID(uint64(i + 1)),
			Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: v}},
		}}))
	}

	results, err := s.DoSearch(ctx, []query.SearchRequest{
		{
			VectorName: "default",
			Kind:       query.QueryRecommend,
			Positive:   []model.DenseVector{{1, 0, 0, 0}},
			Negative:   []model.DenseVector{{-1, 0, 0, 0}},
			Top:        1, Ef: 32,
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0], 1)
	assert.Equal(t, model.NumID(1), results[0][0].ID)
}

func TestShardDoSearchDiscoverFindsTarget(t *testing.T) {
	ctx := context.Background()
	s := newTestShard()
	vecs := []model.DenseVector{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	for i, v := range vecs {
		require.NoError(t, s.Upsert(ctx, uint64(i+1), []model.PointStruct{{
			ID:      model.NumID(uint64(i + 1)),
			Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: v}},
		}}))
	}

	results, err := s.DoSearch(ctx, []query.SearchRequest{
		{
			VectorName: "default",
			Kind:       query.QueryDiscover,
			Query:      model.DenseVector{1, 0, 0, 0},
			Pairs: []query.Pair{{
				Positive: model.DenseVector{1, 0, 0, 0},
				Negative: model.DenseVector{0, 1, 0, 0},
			}},
			Top: 1, Ef: 32,
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0], 1)
	assert.Equal(t, model.NumID(1), results[0][0].ID)
}

func TestShardDoSearchFilteredUsesPlainScanBelowThreshold(t *testing.T) {
	ctx := context.Background()
	cfg := model.CollectionConfig{
		Name: "widgets",
		Vectors: map[model.VectorName]model.VectorParams{
			"default": {Size: 4, Distance: model.DistanceCosine},
		},
		Hnsw: model.HnswConfig{M: 8, EfConstruct: 32, Ef: 32, FullScanThresholdKB: 1},
	}
	s := New("widgets", 1, cfg)
	s.AddSegment(segment.New(1, cfg, kvstore.NewMemStore()))
	require.NoError(t, s.CreateFieldIndex("city", payload.FieldKeyword))

	vecs := []model.DenseVector{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	cities := []string{"berlin", "berlin", "paris"}
	for i, v := range vecs {
		require.NoError(t, s.Upsert(ctx, uint64(i+1), []model.PointStruct{{
			ID:      model.NumID(uint64(i + 1)),
			Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: v}},
			Payload: model.Payload{"city": cities[i]},
		}}))
	}

	// cardinality.max for city=berlin is 2, well below the ~64-point
	// threshold a 1KB full_scan_threshold gives a 4-dim float32 vector,
	// so this takes spec.md §4.1's plain-scan branch.
	results, err := s.DoSearch(ctx, []query.SearchRequest{
		{
			VectorName: "default",
			Query:      model.DenseVector{0, 1, 0, 0},
			Top:        1, Ef: 32,
			Filter: &query.Filter{FieldPath: "city", FieldTokens: []string{"kw:berlin"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0], 1)
	assert.Equal(t, model.NumID(2), results[0][0].ID)
}

func thresholdedConfig() model.CollectionConfig {
	return model.CollectionConfig{
		Name: "widgets",
		Vectors: map[model.VectorName]model.VectorParams{
			"default": {Size: 4, Distance: model.DistanceCosine},
		},
		// 1KB / (4 dims * 4 bytes) = 64-point full-scan threshold.
		Hnsw: model.HnswConfig{M: 8, EfConstruct: 32, Ef: 32, FullScanThresholdKB: 1},
	}
}

func TestShardSearchStrategyExactForcesPlainScan(t *testing.T) {
	ctx := context.Background()
	cfg := thresholdedConfig()
	s := New("widgets", 1, cfg)
	s.AddSegment(segment.New(1, cfg, kvstore.NewMemStore()))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Upsert(ctx, uint64(i+1), []model.PointStruct{{
			ID:      model.NumID(uint64(i + 1)),
			Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: model.DenseVector{1, 0, 0, 0}}},
		}}))
	}

	label, plainScan, candidates, err := s.searchStrategy(query.SearchRequest{
		VectorName: "default",
		Query:      model.DenseVector{1, 0, 0, 0},
		Top:        3,
		Exact:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, "exact", label)
	assert.True(t, plainScan)
	assert.Len(t, candidates, 3)
}

func TestShardSearchStrategyNoFilterSmallPlainScan(t *testing.T) {
	ctx := context.Background()
	cfg := thresholdedConfig()
	s := New("widgets", 1, cfg)
	s.AddSegment(segment.New(1, cfg, kvstore.NewMemStore()))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Upsert(ctx, uint64(i+1), []model.PointStruct{{
			ID:      model.NumID(uint64(i + 1)),
			Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: model.DenseVector{1, 0, 0, 0}}},
		}}))
	}

	// 3 live points is well below the 64-point threshold, so an
	// unfiltered search takes spec.md §4.1's "no filter and few points"
	// plain-scan branch instead of walking the (barely built) graph.
	label, plainScan, candidates, err := s.searchStrategy(query.SearchRequest{
		VectorName: "default",
		Query:      model.DenseVector{1, 0, 0, 0},
		Top:        3,
	})
	require.NoError(t, err)
	assert.Equal(t, "no_filter_small", label)
	assert.True(t, plainScan)
	assert.Len(t, candidates, 3)
}

func TestShardSearchStrategyFilteredHighCardinalityWalksGraph(t *testing.T) {
	ctx := context.Background()
	cfg := thresholdedConfig()
	s := New("widgets", 1, cfg)
	s.AddSegment(segment.New(1, cfg, kvstore.NewMemStore()))
	require.NoError(t, s.CreateFieldIndex("tag", payload.FieldKeyword))
	for i := 0; i < 100; i++ {
		require.NoError(t, s.Upsert(ctx, uint64(i+1), []model.PointStruct{{
			ID:      model.NumID(uint64(i + 1)),
			Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: model.DenseVector{1, 0, 0, 0}}},
			Payload: model.Payload{"tag": "x"},
		}}))
	}

	// 100 points carry tag=x, well above the 64-point threshold, so
	// cardinality.min clears it and the HNSW-walk branch is taken.
	label, plainScan, _, err := s.searchStrategy(query.SearchRequest{
		VectorName: "default",
		Query:      model.DenseVector{1, 0, 0, 0},
		Top:        5,
		Filter:     &query.Filter{FieldPath: "tag", FieldTokens: []string{"kw:x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hnsw_walk", label)
	assert.False(t, plainScan)
}

func TestShardSearchStrategySampleCheckAmbiguousZone(t *testing.T) {
	ctx := context.Background()
	cfg := thresholdedConfig()
	s := New("widgets", 1, cfg)
	s.AddSegment(segment.New(1, cfg, kvstore.NewMemStore()))
	require.NoError(t, s.CreateFieldIndex("tag", payload.FieldKeyword))

	// Two disjoint 70-point groups: each single-token posting list (70)
	// clears the 64-point threshold so the low-cardinality plain-scan
	// branch doesn't apply, but the multi-token AND's cardinality.min is
	// 0 by spec.md §4.1's formula, so the high-cardinality HNSW-walk
	// branch doesn't apply either — landing in the ambiguous zone that
	// resolves via sample check.
	id := 1
	for _, tag := range []string{"a", "b"} {
		for i := 0; i < 70; i++ {
			require.NoError(t, s.Upsert(ctx, uint64(id), []model.PointStruct{{
				ID:      model.NumID(uint64(id)),
				Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: model.DenseVector{1, 0, 0, 0}}},
				Payload: model.Payload{"tag": tag},
			}}))
			id++
		}
	}

	label, plainScan, candidates, err := s.searchStrategy(query.SearchRequest{
		VectorName: "default",
		Query:      model.DenseVector{1, 0, 0, 0},
		Top:        5,
		Filter:     &query.Filter{FieldPath: "tag", FieldTokens: []string{"kw:a", "kw:b"}},
	})
	require.NoError(t, err)
	assert.Contains(t, label, "sample_check")
	// No point carries both tag=a and tag=b, so the AND intersection (and
	// thus the sample's estimated absolute match count) is zero.
	assert.True(t, plainScan)
	assert.Len(t, candidates, 0)
}

func TestShardReceivePointAppliesMigratedPoint(t *testing.T) {
	ctx := context.Background()
	s := newTestShard()
	require.NoError(t, s.ReceivePoint(ctx, 5, model.PointStruct{ID: model.NumID(9), Payload: model.Payload{"migrated": true}}))

	out, err := s.Retrieve(ctx, []model.PointID{model.NumID(9)}, true, false)
	require.NoError(t, err)
	assert.Equal(t, true, out[model.NumID(9).Key()].Payload["migrated"])
}
