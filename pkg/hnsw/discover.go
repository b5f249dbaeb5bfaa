package hnsw

import "github.com/shardwave/shardwave/pkg/model"

// DiscoveryEntryPointCount is the width of the stage-1 context search that
// seeds stage 2 of a discovery search (spec.md §4.2: "First run a Context
// search to pick DISCOVERY_ENTRY_POINT_COUNT = 10 entry points").
const DiscoveryEntryPointCount = 10

// Pair is one (positive, negative) example used by context and discovery
// search to steer results toward the positive side of the pair and away
// from the negative side, without requiring a single target vector.
type Pair struct {
	Positive model.DenseVector
	Negative model.DenseVector
}

// contextScoreFn scores a point by how consistently it sits on the
// positive side of every pair: each pair contributes 0 when the point is
// closer to its positive than its negative example, and the (negative)
// gap otherwise, so a point violating more pairs, or violating them more
// severely, scores lower.
func (g *Graph) contextScoreFn(pairs []Pair) scoreFn {
	return func(id model.InternalID) (float32, bool) {
		if len(pairs) == 0 {
			return 0, true
		}
		var total float32
		found := false
		for _, p := range pairs {
			posScore, ok1 := g.score(id, p.Positive)
			negScore, ok2 := g.score(id, p.Negative)
			if !ok1 || !ok2 {
				continue
			}
			found = true
			if d := posScore - negScore; d < 0 {
				total += d
			}
		}
		return total, found
	}
}

// discoveryScoreFn scales the context score by 1e6 and adds the target
// similarity to it, so the context score dominates: points that violate
// fewer (or less severely violate) context pairs outrank points that
// violate more, with the target similarity breaking ties among
// equally-consistent points.
func (g *Graph) discoveryScoreFn(target model.DenseVector, pairs []Pair) scoreFn {
	ctxFn := g.contextScoreFn(pairs)
	return func(id model.InternalID) (float32, bool) {
		ctx, ok := ctxFn(id)
		if !ok {
			return 0, false
		}
		ts, ok := g.score(id, target)
		if !ok {
			return 0, false
		}
		return ctx*1e6 + ts, true
	}
}

// ScoreContext exposes contextScoreFn for a single id, so callers that
// already have a candidate id (e.g. a Context query's final result rows)
// can report the same score the search used to rank it.
func (g *Graph) ScoreContext(id model.InternalID, pairs []Pair) (float32, bool) {
	return g.contextScoreFn(pairs)(id)
}

// ContextSearch ranks points purely by contextScoreFn (spec.md §4.2's
// first stage, also usable standalone as the Context query variant of
// spec.md §6).
func (g *Graph) ContextSearch(pairs []Pair, top, ef int, filter func(model.InternalID) bool, deleted func(model.InternalID) bool) []model.InternalID {
	return g.searchWithScoreFn(g.contextScoreFn(pairs), top, ef, filter, deleted, nil)
}

// DiscoverySearch implements spec.md §4.2's two-stage discovery objective:
// a Context search over pairs picks DiscoveryEntryPointCount entry points,
// then the full discovery score (context score plus target similarity) is
// searched outward from each of those entries.
func (g *Graph) DiscoverySearch(target model.DenseVector, pairs []Pair, top, ef int, filter func(model.InternalID) bool, deleted func(model.InternalID) bool) []model.InternalID {
	entries := g.searchWithScoreFn(g.contextScoreFn(pairs), DiscoveryEntryPointCount, DiscoveryEntryPointCount, nil, deleted, nil)
	if len(entries) == 0 {
		return nil
	}
	return g.searchWithScoreFn(g.discoveryScoreFn(target, pairs), top, ef, filter, deleted, entries)
}

// searchWithScoreFn mirrors Search's multi-layer-descend-then-beam-search
// shape but ranks candidates via an arbitrary scoreFn instead of a fixed
// query vector, and optionally starts the layer-0 beam from a caller-
// supplied set of entry points instead of descending from the graph's own
// entry point (used by DiscoverySearch's stage 2).
func (g *Graph) searchWithScoreFn(score scoreFn, top, ef int, filter func(model.InternalID) bool, deleted func(model.InternalID) bool, customEntries []model.InternalID) []model.InternalID {
	if ef < top {
		ef = top
	}

	var startPoints []model.InternalID
	if len(customEntries) > 0 {
		startPoints = customEntries
	} else {
		g.mu.RLock()
		entry, hasEntry, maxLevel := g.entryPoint, g.hasEntry, g.maxLevel
		g.mu.RUnlock()
		if !hasEntry {
			return nil
		}
		cur := entry
		for l := maxLevel; l > 0; l-- {
			cur = g.greedyDescendFn(cur, score, l, deleted)
		}
		startPoints = []model.InternalID{cur}
	}

	seen := map[model.InternalID]bool{}
	merged := make([]scored, 0, ef*len(startPoints))
	for _, start := range startPoints {
		layerResults, _ := g.searchLayerFn(score, start, ef, 0, deleted)
		for _, c := range layerResults {
			if seen[c.id] {
				continue
			}
			seen[c.id] = true
			merged = append(merged, c)
		}
	}
	sortScoredDesc(merged)

	out := make([]model.InternalID, 0, top)
	for _, c := range merged {
		if filter != nil && !filter(c.id) {
			continue
		}
		out = append(out, c.id)
		if len(out) >= top {
			break
		}
	}
	return out
}

// sortScoredDesc sorts in place, best score first. Small candidate sets
// (ef-bounded) make insertion sort adequate and allocation-free.
func sortScoredDesc(s []scored) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].score > s[j-1].score; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
