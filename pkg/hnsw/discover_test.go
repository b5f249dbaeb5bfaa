package hnsw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardwave/shardwave/pkg/model"
)

func TestContextSearchPrefersPositiveSide(t *testing.T) {
	g, scorer, _ := buildTestGraph(t, 200)
	// A point identical to the positive example should score at least as
	// well under the context objective as one identical to the negative.
	posVec, _ := scorer.Vector(10)
	negVec, _ := scorer.Vector(190)
	pairs := []Pair{{Positive: posVec, Negative: negVec}}

	results := g.ContextSearch(pairs, 10, 64, nil, nil)
	require.NotEmpty(t, results)

	posScore, ok := g.ScoreContext(model.InternalID(10), pairs)
	require.True(t, ok)
	negScore, ok := g.ScoreContext(model.InternalID(190), pairs)
	require.True(t, ok)
	assert.GreaterOrEqual(t, posScore, negScore)
}

func TestContextSearchEmptyPairsIsUnconstrained(t *testing.T) {
	g, _, _ := buildTestGraph(t, 100)
	results := g.ContextSearch(nil, 5, 64, nil, nil)
	assert.Len(t, results, 5)
}

func TestDiscoverySearchFindsTargetAmongConsistentCandidates(t *testing.T) {
	g, scorer, _ := buildTestGraph(t, 200)
	target, _ := scorer.Vector(50)
	posVec, _ := scorer.Vector(50)
	negVec, _ := scorer.Vector(150)
	pairs := []Pair{{Positive: posVec, Negative: negVec}}

	results := g.DiscoverySearch(target, pairs, 5, 64, nil, nil)
	require.NotEmpty(t, results)
	assert.Equal(t, model.InternalID(50), results[0])
}

func TestDiscoverySearchRespectsFilterAndDeleted(t *testing.T) {
	g, scorer, _ := buildTestGraph(t, 200)
	target, _ := scorer.Vector(50)
	pairs := []Pair{{Positive: target, Negative: target}}
	allowed := map[model.InternalID]bool{10: true, 20: true, 30: true}
	deleted := map[model.InternalID]bool{20: true}

	results := g.DiscoverySearch(target, pairs, 3, 64,
		func(id model.InternalID) bool { return allowed[id] },
		func(id model.InternalID) bool { return deleted[id] })
	for _, id := range results {
		assert.True(t, allowed[id])
		assert.NotEqual(t, model.InternalID(20), id)
	}
}

func TestDiscoverySearchEmptyGraphReturnsNil(t *testing.T) {
	scorer := newMemScorer()
	g := New(Config{M: 8}, scorer, 1)
	results := g.DiscoverySearch(model.DenseVector{1, 0}, nil, 5, 32, nil, nil)
	assert.Empty(t, results)
}
