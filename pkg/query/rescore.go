package query

import (
	"context"
	"sort"
	"time"

	"github.com/shardwave/shardwave/pkg/apierrors"
	"github.com/shardwave/shardwave/pkg/model"
)

// rrfK is the Reciprocal Rank Fusion constant spec.md §4.5 fixes by
// convention.
const rrfK = 60

// rescore applies one MergePlan's rescore stage (spec.md §4.5): RRF
// fusion, a single order-by scroll, or a single vector-rescore search.
func rescore(ctx context.Context, ex Executor, sources [][]ScoredPoint, params RescoreParams, timeout time.Duration) ([]ScoredPoint, error) {
	switch params.Query.Kind {
	case ScoringFusion:
		fused := rrfScore(sources)
		if params.ScoreThreshold != nil {
			fused = takeWhileAtLeast(fused, *params.ScoreThreshold)
		}
		if params.Limit > 0 && len(fused) > params.Limit {
			fused = fused[:params.Limit]
		}
		return fillWithPayloadOrVectors(ctx, ex, fused, params.WithPayload, params.WithVector)

	case ScoringOrderBy:
		filter := filterWithSourceIDs(sources)
		req := ScrollRequest{
			Limit:       params.Limit,
			Filter:      &filter,
			OrderBy:     &params.Query.OrderBy,
			WithPayload: params.WithPayload,
			WithVector:  params.WithVector,
		}
		results, err := ex.DoScroll(ctx, []ScrollRequest{req})
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, apierrors.ServiceErrorf("rescoring with order-by query didn't return the expected batch of results")
		}
		return results[0], nil

	case ScoringVector:
		filter := filterWithSourceIDs(sources)
		req := SearchRequest{
			VectorName:  params.Query.VectorName,
			Query:       params.Query.Vector,
			Top:         params.Limit,
			Filter:      &filter,
			WithPayload: params.WithPayload,
			WithVector:  params.WithVector,
		}
		results, err := ex.DoSearch(ctx, []SearchRequest{req})
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, apierrors.ServiceErrorf("rescoring with a vector query didn't return the expected batch of results")
		}
		return results[0], nil

	default:
		return nil, apierrors.ValidationErrorf("unknown scoring query kind %d", params.Query.Kind)
	}
}

// rrfScore implements spec.md §4.5's Reciprocal Rank Fusion: each id's
// score is the sum, over every source list it appears in, of
// 1/(k + rank), ranks counted from 1 within that source's own order.
func rrfScore(sources [][]ScoredPoint) []ScoredPoint {
	scores := make(map[string]float32)
	repr := make(map[string]ScoredPoint)
	for _, source := range sources {
		for rank, p := range source {
			key := p.ID.Key()
			scores[key] += 1.0 / float32(rrfK+rank+1)
			if _, ok := repr[key]; !ok {
				repr[key] = p
			}
		}
	}
	out := make([]ScoredPoint, 0, len(scores))
	for key, score := range scores {
		p := repr[key]
		p.Score = score
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID.Key() < out[j].ID.Key()
	})
	return out
}

func takeWhileAtLeast(points []ScoredPoint, threshold float32) []ScoredPoint {
	i := 0
	for i < len(points) && points[i].Score >= threshold {
		i++
	}
	return points[:i]
}

// filterWithSourceIDs builds the has-id filter rescore stages use to
// restrict their single follow-up search/scroll to exactly the union of
// the prefetched sources' ids.
func filterWithSourceIDs(sources [][]ScoredPoint) Filter {
	ids := make(map[string]bool)
	for _, source := range sources {
		for _, p := range source {
			ids[p.ID.Key()] = true
		}
	}
	return Filter{HasIDs: ids}
}

// fillWithPayloadOrVectors fetches payload/vector for the given results in
// one batch, once the final top-limit is known, dropping any id deleted
// between search and fill (spec.md §4.5).
func fillWithPayloadOrVectors(ctx context.Context, ex Executor, points []ScoredPoint, withPayload, withVector bool) ([]ScoredPoint, error) {
	if !withPayload && !withVector {
		return points, nil
	}
	ids := make([]model.PointID, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	records, err := ex.Retrieve(ctx, ids, withPayload, withVector)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredPoint, 0, len(points))
	for _, p := range points {
		rec, ok := records[p.ID.Key()]
		if !ok {
			continue
		}
		p.Payload = rec.Payload
		p.Vector = rec.Vector
		out = append(out, p)
	}
	return out, nil
}
