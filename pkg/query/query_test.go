package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardwave/shardwave/pkg/apierrors"
	"github.com/shardwave/shardwave/pkg/model"
)

type fakeExecutor struct {
	searchResults [][]ScoredPoint
	scrollResults [][]ScoredPoint
	payloads      map[string]model.Payload
}

func (f *fakeExecutor) DoSearch(ctx context.Context, batch []SearchRequest) ([][]ScoredPoint, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	return f.searchResults, nil
}

func (f *fakeExecutor) DoScroll(ctx context.Context, batch []ScrollRequest) ([][]ScoredPoint, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	return f.scrollResults, nil
}

func (f *fakeExecutor) Retrieve(ctx context.Context, ids []model.PointID, withPayload, withVector bool) (map[string]ScoredPoint, error) {
	out := make(map[string]ScoredPoint)
	for _, id := range ids {
		p := ScoredPoint{ID: id}
		if withPayload {
			p.Payload = f.payloads[id.Key()]
		}
		out[id.Key()] = p
	}
	return out, nil
}

func TestRRFScoreOrdersByFusedScore(t *testing.T) {
	a := model.NumID(1)
	b := model.NumID(2)
	c := model.NumID(3)
	sources := [][]ScoredPoint{
		{{ID: b}, {ID: a}, {ID: c}},
		{{ID: b}, {ID: a}},
	}
	fused := rrfScore(sources)
	require.Len(t, fused, 3)
	// b is rank 0 in both sources: strictly higher fused score than a or c.
	assert.Equal(t, b, fused[0].ID)
	assert.Equal(t, c, fused[2].ID)
}

func TestExecutePassThroughAtDepthZero(t *testing.T) {
	ex := &fakeExecutor{
		searchResults: [][]ScoredPoint{{{ID: model.NumID(1), Score: 0.9}}},
	}
	pq := PlannedQuery{
		Searches: []SearchRequest{{VectorName: "default", Top: 10}},
		RootPlans: []MergePlan{
			{Sources: []Source{{Kind: SourceSearchIdx, Idx: 0}}},
		},
	}
	out, err := Execute(context.Background(), ex, pq, time.Second)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0], 1)
	assert.Equal(t, model.NumID(1), out[0][0][0].ID)
}

func TestExecuteFusionRescoresAndFills(t *testing.T) {
	id := model.NumID(5)
	ex := &fakeExecutor{
		searchResults: [][]ScoredPoint{{{ID: id}}},
		scrollResults: [][]ScoredPoint{{{ID: id}}},
		payloads:      map[string]model.Payload{id.Key(): {"city": "berlin"}},
	}
	limit := 10
	pq := PlannedQuery{
		Searches: []SearchRequest{{VectorName: "default", Top: 10}},
		Scrolls:  []ScrollRequest{{Limit: 10}},
		RootPlans: []MergePlan{
			{
				Sources: []Source{
					{Kind: SourceSearchIdx, Idx: 0},
					{Kind: SourceScrollIdx, Idx: 0},
				},
				RescoreParams: &RescoreParams{
					Query:       ScoringQuery{Kind: ScoringFusion},
					Limit:       limit,
					WithPayload: true,
				},
			},
		},
	}
	out, err := Execute(context.Background(), ex, pq, time.Second)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0], 1)
	require.Len(t, out[0][0], 1)
	assert.Equal(t, "berlin", out[0][0][0].Payload["city"])
}

func TestExecuteZeroTimeoutFailsFast(t *testing.T) {
	ex := &fakeExecutor{}
	_, err := Execute(context.Background(), ex, PlannedQuery{}, 0)
	require.Error(t, err)
}

// blockingExecutor's DoSearch waits on ctx, so cancelling the caller's
// context during dispatch exercises Execute's Cancelled translation.
type blockingExecutor struct{ fakeExecutor }

func (b *blockingExecutor) DoSearch(ctx context.Context, batch []SearchRequest) ([][]ScoredPoint, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestExecuteReturnsCancelledWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := &blockingExecutor{}
	_, err := Execute(ctx, ex, PlannedQuery{Searches: []SearchRequest{{Top: 1}}}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apierrors.ErrCancelled))
}

func TestFilterWithSourceIDsUnionsIDs(t *testing.T) {
	sources := [][]ScoredPoint{
		{{ID: model.NumID(1)}},
		{{ID: model.NumID(2)}},
	}
	f := filterWithSourceIDs(sources)
	assert.Len(t, f.HasIDs, 2)
}

func TestAverageVectorRecommendFormula(t *testing.T) {
	// query = avg_pos + avg_pos - avg_neg (spec.md §9's open question,
	// confirmed verbatim against the original implementation's doc comment).
	positive := []model.DenseVector{{1, 0}, {3, 0}} // avg = {2, 0}
	negative := []model.DenseVector{{0, 4}}          // avg = {0, 4}
	got := AverageVectorRecommend(positive, negative)
	assert.Equal(t, model.DenseVector{4, -4}, got)
}

func TestAverageVectorRecommendNoNegativeIsJustAveragePositive(t *testing.T) {
	positive := []model.DenseVector{{1, 1}, {3, 3}}
	got := AverageVectorRecommend(positive, nil)
	assert.Equal(t, model.DenseVector{2, 2}, got)
}
