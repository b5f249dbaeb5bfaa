package query

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shardwave/shardwave/pkg/apierrors"
	"github.com/shardwave/shardwave/pkg/model"
)

// Executor is what a local shard (pkg/shard) exposes for this package to
// drive: the flat search/scroll batches, plus a deferred payload/vector
// retrieve by id (spec.md §4.5).
type Executor interface {
	DoSearch(ctx context.Context, batch []SearchRequest) ([][]ScoredPoint, error)
	DoScroll(ctx context.Context, batch []ScrollRequest) ([][]ScoredPoint, error)
	Retrieve(ctx context.Context, ids []model.PointID, withPayload, withVector bool) (map[string]ScoredPoint, error)
}

type prefetchHolder struct {
	search []([]ScoredPoint)
	scroll []([]ScoredPoint)
}

func (h *prefetchHolder) get(src Source) ([]ScoredPoint, error) {
	switch src.Kind {
	case SourceSearchIdx:
		if src.Idx < 0 || src.Idx >= len(h.search) {
			return nil, apierrors.ServiceErrorf("expected a prefetched search source to exist at index %d", src.Idx)
		}
		return h.search[src.Idx], nil
	case SourceScrollIdx:
		if src.Idx < 0 || src.Idx >= len(h.scroll) {
			return nil, apierrors.ServiceErrorf("expected a prefetched scroll source to exist at index %d", src.Idx)
		}
		return h.scroll[src.Idx], nil
	default:
		return nil, apierrors.ServiceErrorf("get is only valid for flat sources")
	}
}

// Execute runs a PlannedQuery against ex: the search and scroll batches
// fire concurrently, then each root plan is traversed depth-first and
// rescored. timeout is decrement-propagated — each downstream call
// receives what's left of the budget after the time already spent
// (spec.md §5).
func Execute(ctx context.Context, ex Executor, pq PlannedQuery, timeout time.Duration) ([]ShardQueryResponse, error) {
	start := time.Now()
	if timeout <= 0 {
		return nil, apierrors.Timeoutf("planned query budget exhausted before dispatch")
	}

	var searchResults, scrollResults [][]ScoredPoint
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		searchResults, err = ex.DoSearch(gctx, pq.Searches)
		return err
	})
	g.Go(func() error {
		var err error
		scrollResults, err = ex.DoScroll(gctx, pq.Scrolls)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() == context.Canceled {
			return nil, apierrors.Cancelledf("query cancelled during search/scroll dispatch")
		}
		return nil, err
	}

	holder := &prefetchHolder{search: searchResults, scroll: scrollResults}

	remaining := timeout - time.Since(start)
	if remaining <= 0 {
		return nil, apierrors.Timeoutf("planned query budget exhausted after prefetch")
	}

	out := make([]ShardQueryResponse, len(pq.RootPlans))
	eg, egctx := errgroup.WithContext(ctx)
	for i, plan := range pq.RootPlans {
		i, plan := i, plan
		eg.Go(func() error {
			resp, err := recursePrefetch(egctx, ex, plan, holder, remaining, 0)
			if err != nil {
				return err
			}
			out[i] = resp
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		if ctx.Err() == context.Canceled {
			return nil, apierrors.Cancelledf("query cancelled during prefetch dispatch")
		}
		return nil, err
	}
	return out, nil
}

func recursePrefetch(ctx context.Context, ex Executor, plan MergePlan, holder *prefetchHolder, timeout time.Duration, depth int) (ShardQueryResponse, error) {
	sources := make([][]ScoredPoint, 0, len(plan.Sources))
	for _, src := range plan.Sources {
		switch src.Kind {
		case SourcePrefetch:
			merged, err := recursePrefetch(ctx, ex, *src.Prefetch, holder, timeout, depth+1)
			if err != nil {
				return nil, err
			}
			sources = append(sources, merged...)
		default:
			s, err := holder.get(src)
			if err != nil {
				return nil, err
			}
			sources = append(sources, s)
		}
	}

	if plan.RescoreParams == nil {
		// Only depth 0 may pass sources through unmodified.
		if depth > 0 {
			return nil, apierrors.ServiceErrorf("nested merge plan at depth %d has no rescore stage", depth)
		}
		return ShardQueryResponse(sources), nil
	}

	rescored, err := rescore(ctx, ex, sources, *plan.RescoreParams, timeout)
	if err != nil {
		return nil, err
	}
	return ShardQueryResponse{rescored}, nil
}
