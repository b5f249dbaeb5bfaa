package hnsw

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/shardwave/shardwave/pkg/model"
)

// WarmupSize is the number of points built single-threaded before the
// remainder is inserted in parallel, avoiding disconnected components
// (spec.md §4.2). Debug builds use WarmupSizeDebug.
const WarmupSize = 256

// WarmupSizeDebug is the warm-up size used when BuildOpts.Debug is set.
const WarmupSizeDebug = 32

// BuildOpts configures a Build call.
type BuildOpts struct {
	Debug       bool
	MaxWorkers  int
	Seed        int64
	Deleted     func(model.InternalID) bool
}

// Build constructs a graph over every (id, vector) pair ids/vectors
// provides, building the first WarmupSize points single-threaded and the
// remainder across a worker pool (spec.md §4.2 "Build"). stop, if non-nil,
// is polled between inserts and aborts the build with context.Canceled
// once it returns true, matching "each insert checks a shared stop flag
// and returns an abort error."
func Build(ctx context.Context, cfg Config, scorer Scorer, ids []model.InternalID, vectors func(model.InternalID) (model.DenseVector, bool), opts BuildOpts, stop func() bool) (*Graph, error) {
	g := New(cfg, scorer, opts.Seed)

	warmup := WarmupSize
	if opts.Debug {
		warmup = WarmupSizeDebug
	}
	if warmup > len(ids) {
		warmup = len(ids)
	}

	for _, id := range ids[:warmup] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if stop != nil && stop() {
			return nil, context.Canceled
		}
		v, ok := vectors(id)
		if !ok {
			continue
		}
		g.Insert(id, v, opts.Deleted)
	}

	remaining := ids[warmup:]
	if len(remaining) == 0 {
		return g, nil
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for _, id := range remaining {
		id := id
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			if stop != nil && stop() {
				return context.Canceled
			}
			v, ok := vectors(id)
			if !ok {
				return nil
			}
			g.Insert(id, v, opts.Deleted)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return g, nil
}
