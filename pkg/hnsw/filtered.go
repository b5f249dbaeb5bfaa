package hnsw

import (
	"context"

	"github.com/shardwave/shardwave/pkg/model"
)

// BlockMaxSize bounds a filtered sub-graph's point count to limit
// percolation cost (spec.md §4.2: "total_points / avg_links_at_layer_0 · 4").
func BlockMaxSize(totalPoints int, avgLinksAtLayer0 float64) int {
	if avgLinksAtLayer0 <= 0 {
		avgLinksAtLayer0 = 1
	}
	return int(float64(totalPoints) / avgLinksAtLayer0 * 4)
}

// FilteredGraphs holds the secondary per-block sub-graphs spec.md §4.2
// describes: one small HNSW graph per (field, value) block whose
// cardinality exceeds the full-scan threshold, built with payload_m as
// the fan-out so their presence doesn't dilute the main graph's own
// adjacency budget.
type FilteredGraphs struct {
	cfg    Config
	scorer Scorer
	blocks map[string]*Graph
}

// NewFilteredGraphs returns an empty filtered sub-graph set, using
// payloadM (falling back to the main graph's m when unset) as the
// sub-graph fan-out. PayloadM0 is not read: layer 0 capacity follows the
// sub-graph's m the same way it does in the main graph.
func NewFilteredGraphs(cfg Config, scorer Scorer) *FilteredGraphs {
	sub := cfg
	if cfg.PayloadM > 0 {
		sub.M = cfg.PayloadM
	}
	return &FilteredGraphs{cfg: sub, scorer: scorer, blocks: make(map[string]*Graph)}
}

// BuildBlock constructs (or replaces) the sub-graph for blockKey over ids,
// bounded to maxSize entries (spec.md §4.2's block-size bound; callers
// truncate ids themselves since the bound depends on corpus-wide stats
// this package doesn't track).
func (f *FilteredGraphs) BuildBlock(ctx context.Context, blockKey string, ids []model.InternalID, vectors func(model.InternalID) (model.DenseVector, bool), opts BuildOpts) error {
	g, err := Build(ctx, f.cfg, f.scorer, ids, vectors, opts, nil)
	if err != nil {
		return err
	}
	f.blocks[blockKey] = g
	return nil
}

// Block returns the sub-graph for blockKey, if built.
func (f *FilteredGraphs) Block(blockKey string) (*Graph, bool) {
	g, ok := f.blocks[blockKey]
	return g, ok
}

// DropBlock removes a previously built sub-graph, e.g. when its field
// index is dropped (DeleteFieldIndex).
func (f *FilteredGraphs) DropBlock(blockKey string) {
	delete(f.blocks, blockKey)
}
