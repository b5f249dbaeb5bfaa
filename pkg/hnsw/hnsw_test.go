package hnsw

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardwave/shardwave/pkg/model"
)

type memScorer struct {
	vectors map[model.InternalID]model.DenseVector
}

func newMemScorer() *memScorer {
	return &memScorer{vectors: make(map[model.InternalID]model.DenseVector)}
}

func (m *memScorer) put(id model.InternalID, v model.DenseVector) { m.vectors[id] = v }

func (m *memScorer) Score(id model.InternalID, query model.DenseVector) (float32, bool) {
	v, ok := m.vectors[id]
	if !ok {
		return 0, false
	}
	return model.DistanceEuclid.RankScore(v, query), true
}

func (m *memScorer) Vector(id model.InternalID) (model.DenseVector, bool) {
	v, ok := m.vectors[id]
	return v, ok
}

func randomVectors(n, dim int, seed int64) []model.DenseVector {
	r := rand.New(rand.NewSource(seed))
	out := make([]model.DenseVector, n)
	for i := range out {
		v := make(model.DenseVector, dim)
		for j := range v {
			v[j] = r.Float32()
		}
		out[i] = v
	}
	return out
}

func buildTestGraph(t *testing.T, n int) (*Graph, *memScorer, []model.InternalID) {
	t.Helper()
	scorer := newMemScorer()
	vecs := randomVectors(n, 8, 42)
	ids := make([]model.InternalID, n)
	for i, v := range vecs {
		ids[i] = model.InternalID(i)
		scorer.put(model.InternalID(i), v)
	}
	g, err := Build(context.Background(), Config{M: 8, EfConstruct: 32, Ef: 32}, scorer, ids, func(id model.InternalID) (model.DenseVector, bool) {
		return scorer.Vector(id)
	}, BuildOpts{Debug: true, MaxWorkers: 4, Seed: 1}, nil)
	require.NoError(t, err)
	return g, scorer, ids
}

func TestGraphBuildAndSearchFindsExactMatch(t *testing.T) {
	g, scorer, _ := buildTestGraph(t, 200)
	query, _ := scorer.Vector(50)
	results, visited := g.Search(query, 5, 64, nil, nil)
	require.NotEmpty(t, results)
	assert.Equal(t, model.InternalID(50), results[0])
	assert.Greater(t, visited, 0)
}

func TestGraphSearchRespectsFilter(t *testing.T) {
	g, scorer, _ := buildTestGraph(t, 200)
	query, _ := scorer.Vector(50)
	allowed := map[model.InternalID]bool{10: true, 20: true, 30: true}
	results, _ := g.Search(query, 3, 128, func(id model.InternalID) bool { return allowed[id] }, nil)
	for _, id := range results {
		assert.True(t, allowed[id])
	}
}

func TestGraphSearchSkipsDeleted(t *testing.T) {
	g, scorer, _ := buildTestGraph(t, 200)
	query, _ := scorer.Vector(50)
	deleted := map[model.InternalID]bool{50: true}
	results, _ := g.Search(query, 5, 64, nil, func(id model.InternalID) bool { return deleted[id] })
	for _, id := range results {
		assert.NotEqual(t, model.InternalID(50), id)
	}
}

func TestGraphLenMatchesInsertedCount(t *testing.T) {
	g, _, ids := buildTestGraph(t, 50)
	assert.Equal(t, len(ids), g.Len())
}

func TestBuildCancellation(t *testing.T) {
	scorer := newMemScorer()
	vecs := randomVectors(500, 4, 1)
	ids := make([]model.InternalID, 500)
	for i, v := range vecs {
		ids[i] = model.InternalID(i)
		scorer.put(model.InternalID(i), v)
	}
	calls := 0
	stop := func() bool {
		calls++
		return calls > 5
	}
	_, err := Build(context.Background(), Config{M: 8}, scorer, ids, func(id model.InternalID) (model.DenseVector, bool) {
		return scorer.Vector(id)
	}, BuildOpts{Debug: true, MaxWorkers: 1, Seed: 2}, stop)
	assert.Error(t, err)
}

func TestBlockMaxSize(t *testing.T) {
	assert.Equal(t, 4000, BlockMaxSize(1000, 1))
	assert.Equal(t, 2000, BlockMaxSize(1000, 2))
}

func TestFilteredGraphsBuildAndSearch(t *testing.T) {
	scorer := newMemScorer()
	vecs := randomVectors(100, 4, 7)
	var blockIDs []model.InternalID
	for i, v := range vecs {
		scorer.put(model.InternalID(i), v)
		if i%5 == 0 {
			blockIDs = append(blockIDs, model.InternalID(i))
		}
	}
	fg := NewFilteredGraphs(Config{M: 8, PayloadM: 4}, scorer)
	err := fg.BuildBlock(context.Background(), "tag:a", blockIDs, func(id model.InternalID) (model.DenseVector, bool) {
		return scorer.Vector(id)
	}, BuildOpts{Debug: true, MaxWorkers: 2, Seed: 3})
	require.NoError(t, err)

	block, ok := fg.Block("tag:a")
	require.True(t, ok)
	assert.Equal(t, len(blockIDs), block.Len())

	fg.DropBlock("tag:a")
	_, ok = fg.Block("tag:a")
	assert.False(t, ok)
}
