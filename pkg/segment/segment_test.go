package segment

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardwave/shardwave/pkg/apierrors"
	"github.com/shardwave/shardwave/pkg/hnsw"
	"github.com/shardwave/shardwave/pkg/kvstore"
	"github.com/shardwave/shardwave/pkg/model"
	"github.com/shardwave/shardwave/pkg/payload"
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

func newTestSegment() *Segment {
	return New(1, testConfig(), kvstore.NewMemStore())
}

func TestUpsertAndRetrieve(t *testing.T) {
	s := newTestSegment()
	ctx := context.Background()
	id := model.NumID(1)
	ok, err := s.UpsertPoint(ctx, 1, model.PointStruct{
		ID: id,
		Vectors: model.NamedVectors{
			"default": {Kind: model.VectorKindDense, Dense: model.DenseVector{1, 0, 0, 0}},
		},
		Payload: model.Payload{"city": "berlin"},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	v, found := s.GetVector(id, "default")
	require.True(t, found)
	assert.Equal(t, model.VectorKindDense, v.Kind)

	p, found := s.GetPayload(id)
	require.True(t, found)
	assert.Equal(t, "berlin", p["city"])
}

func TestVersionGatingDiscardsOlderWrite(t *testing.T) {
	s := newTestSegment()
	ctx := context.Background()
	id := model.NumID(1)
	ok, err := s.UpsertPoint(ctx, 5, model.PointStruct{ID: id, Payload: model.Payload{"v": "new"}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UpsertPoint(ctx, 3, model.PointStruct{ID: id, Payload: model.Payload{"v": "stale"}})
	require.NoError(t, err)
	assert.False(t, ok)

	p, _ := s.GetPayload(id)
	assert.Equal(t, "new", p["v"])
}

func TestDeletePointHidesFromIteration(t *testing.T) {
	s := newTestSegment()
	ctx := context.Background()
	id := model.NumID(1)
	_, err := s.UpsertPoint(ctx, 1, model.PointStruct{ID: id})
	require.NoError(t, err)

	require.NoError(t, s.DeletePoint(ctx, 2, id))

	var seen []model.PointID
	s.IterPoints(func(p model.PointID) { seen = append(seen, p) })
	assert.Empty(t, seen)
}

func TestSetPayloadMergesByDefault(t *testing.T) {
	s := newTestSegment()
	ctx := context.Background()
	id := model.NumID(1)
	_, err := s.UpsertPoint(ctx, 1, model.PointStruct{ID: id, Payload: model.Payload{"a": "1"}})
	require.NoError(t, err)

	require.NoError(t, s.SetPayload(ctx, 2, id, model.Payload{"b": "2"}, false))
	p, _ := s.GetPayload(id)
	assert.Equal(t, "1", p["a"])
	assert.Equal(t, "2", p["b"])
}

func TestDeletePayloadRemovesKeys(t *testing.T) {
	s := newTestSegment()
	ctx := context.Background()
	id := model.NumID(1)
	_, err := s.UpsertPoint(ctx, 1, model.PointStruct{ID: id, Payload: model.Payload{"a": "1", "b": "2"}})
	require.NoError(t, err)

	require.NoError(t, s.DeletePayload(ctx, 2, id, []string{"a"}))
	p, _ := s.GetPayload(id)
	_, ok := p["a"]
	assert.False(t, ok)
	assert.Equal(t, "2", p["b"])
}

func TestCreateFieldIndexAndReadFiltered(t *testing.T) {
	s := newTestSegment()
	ctx := context.Background()
	for i, city := range []string{"berlin", "paris", "berlin"} {
		_, err := s.UpsertPoint(ctx, uint64(i+1), model.PointStruct{
			ID:      model.NumID(uint64(i + 1)),
			Payload: model.Payload{"city": city},
		})
		require.NoError(t, err)
	}
	require.NoError(t, s.CreateFieldIndex("city", payload.FieldKeyword))

	fi, ok := s.schema.Field("city")
	require.True(t, ok)
	ids := fi.MatchKeyword("berlin")
	assert.Len(t, ids, 2)
}

// TestSealFreezesFieldIndexWithIdenticalFilterResults is spec.md §8's
// round-trip property exercised through a real query path: ReadFiltered
// and EstimateCardinality must return identical results once Seal converts
// the segment's field indices to their immutable compressed form.
func TestSealFreezesFieldIndexWithIdenticalFilterResults(t *testing.T) {
	s := newTestSegment()
	ctx := context.Background()
	for i, city := range []string{"berlin", "paris", "berlin", "berlin"} {
		_, err := s.UpsertPoint(ctx, uint64(i+1), model.PointStruct{
			ID:      model.NumID(uint64(i + 1)),
			Payload: model.Payload{"city": city},
		})
		require.NoError(t, err)
	}
	require.NoError(t, s.CreateFieldIndex("city", payload.FieldKeyword))

	before, err := s.ReadFiltered("city", []string{"kw:berlin"})
	require.NoError(t, err)
	cardBefore, ok := s.EstimateCardinality("city", []string{"kw:berlin"})
	require.True(t, ok)

	assert.False(t, s.Sealed())
	s.Seal()
	assert.True(t, s.Sealed())

	after, err := s.ReadFiltered("city", []string{"kw:berlin"})
	require.NoError(t, err)
	cardAfter, ok := s.EstimateCardinality("city", []string{"kw:berlin"})
	require.True(t, ok)

	assert.ElementsMatch(t, before, after)
	assert.Equal(t, cardBefore, cardAfter)

	fi, ok := s.schema.Field("city")
	require.True(t, ok)
	assert.True(t, fi.Frozen())

	// Further writes to a sealed field index are rejected.
	err = fi.Index(model.InternalID(99), model.Payload{"city": "rome"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrPreconditionFailed)

	// Seal is idempotent.
	s.Seal()
	assert.True(t, s.Sealed())
}

func TestSearchFindsNearest(t *testing.T) {
	s := newTestSegment()
	ctx := context.Background()
	vecs := []model.DenseVector{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	for i, v := range vecs {
		_, err := s.UpsertPoint(ctx, uint64(i+1), model.PointStruct{
			ID:      model.NumID(uint64(i + 1)),
			Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: v}},
		})
		require.NoError(t, err)
	}
	results, err := s.Search("default", model.DenseVector{1, 0, 0, 0}, 1, 32, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.NumID(1), results[0].ID)
}

func TestSearchDiscoverFindsTarget(t *testing.T) {
	s := newTestSegment()
	ctx := context.Background()
	vecs := []model.DenseVector{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	for i, v := range vecs {
		_, err := s.UpsertPoint(ctx, uint64(i+1), model.PointStruct{
			ID:      model.NumID(uint64(i + 1)),
			Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: v}},
		})
		require.NoError(t, err)
	}
	results, err := s.SearchDiscover("default", model.DenseVector{1, 0, 0, 0}, []hnsw.Pair{{
		Positive: model.DenseVector{1, 0, 0, 0},
		Negative: model.DenseVector{0, 1, 0, 0},
	}}, 1, 32, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.NumID(1), results[0].ID)
}

func TestSearchContextRanksByPositiveSide(t *testing.T) {
	s := newTestSegment()
	ctx := context.Background()
	vecs := []model.DenseVector{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	for i, v := range vecs {
		_, err := s.UpsertPoint(ctx, uint64(i+1), model.PointStruct{
			ID:      model.NumID(uint64(i + 1)),
			Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: v}},
		})
		require.NoError(t, err)
	}
	results, err := s.SearchContext("default", []hnsw.Pair{
		{Positive: model.DenseVector{1, 0, 0, 0}, Negative: model.DenseVector{0, 1, 0, 0}},
		{Positive: model.DenseVector{1, 0, 0, 0}, Negative: model.DenseVector{0, 0, 1, 0}},
	}, 3, 32, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, model.NumID(1), results[0].ID)
}

func TestScoreFilteredScoresExactlyGivenIDs(t *testing.T) {
	s := newTestSegment()
	ctx := context.Background()
	vecs := []model.DenseVector{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	for i, v := range vecs {
		_, err := s.UpsertPoint(ctx, uint64(i+1), model.PointStruct{
			ID:      model.NumID(uint64(i + 1)),
			Vectors: model.NamedVectors{"default": {Kind: model.VectorKindDense, Dense: v}},
		})
		require.NoError(t, err)
	}

	results, err := s.ScoreFiltered("default", model.DenseVector{0, 1, 0, 0},
		[]model.PointID{model.NumID(2), model.NumID(3)}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, model.NumID(2), results[0].ID)
}

func TestFlushAndLoadManifest(t *testing.T) {
	s := newTestSegment()
	ctx := context.Background()
	_, err := s.UpsertPoint(ctx, 7, model.PointStruct{ID: model.NumID(1)})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "seg-1")
	require.NoError(t, s.Flush(dir))

	maxVersion, pointCount, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), maxVersion)
	assert.Equal(t, 1, pointCount)
}
