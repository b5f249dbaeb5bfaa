package hnsw

import (
	"container/heap"

	"github.com/shardwave/shardwave/pkg/model"
)

type scored struct {
	id    model.InternalID
	score float32
}

// maxHeap is the fixed-width result set during a beam search: it keeps the
// best (highest score) candidates found so far, with the worst of them at
// the root so it can be compared against and evicted.
type maxHeap []scored

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].score < h[j].score }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(scored)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// minHeap is the candidate frontier still to be explored, closest first.
type minHeap []scored

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].score > h[j].score }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(scored)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (g *Graph) score(id model.InternalID, query model.DenseVector) (float32, bool) {
	return g.scorer.Score(id, query)
}

// scoreFn ranks a stored id against whatever objective the caller closed
// over: a fixed query vector for Search, or a context/discovery objective
// built from positive/negative pairs (spec.md §4.2 "Discovery search").
type scoreFn func(model.InternalID) (float32, bool)

// vectorScoreFn adapts a fixed query vector to the scoreFn shape.
func (g *Graph) vectorScoreFn(query model.DenseVector) scoreFn {
	return func(id model.InternalID) (float32, bool) { return g.score(id, query) }
}

// greedyDescend performs a single-best-neighbor walk at layer l from
// start, used to find an entry point for the next layer down.
func (g *Graph) greedyDescend(start model.InternalID, query model.DenseVector, l int, deleted func(model.InternalID) bool) model.InternalID {
	return g.greedyDescendFn(start, g.vectorScoreFn(query), l, deleted)
}

func (g *Graph) greedyDescendFn(start model.InternalID, score scoreFn, l int, deleted func(model.InternalID) bool) model.InternalID {
	best := start
	bestScore, ok := score(best)
	if !ok {
		return start
	}
	improved := true
	for improved {
		improved = false
		g.mu.RLock()
		n, ok := g.nodes[best]
		g.mu.RUnlock()
		if !ok || l >= len(n.links) {
			break
		}
		n.mu.Lock()
		neighbors := append([]model.InternalID(nil), n.links[l]...)
		n.mu.Unlock()
		for _, nb := range neighbors {
			if deleted != nil && deleted(nb) {
				continue
			}
			s, ok := score(nb)
			if !ok {
				continue
			}
			if s > bestScore {
				bestScore = s
				best = nb
				improved = true
			}
		}
	}
	return best
}

// searchLayer runs a best-first beam search of width ef at layer l,
// starting from entry, returning up to ef candidates sorted best-first.
func (g *Graph) searchLayer(query model.DenseVector, entry model.InternalID, ef, l int, deleted func(model.InternalID) bool) ([]scored, int) {
	return g.searchLayerFn(g.vectorScoreFn(query), entry, ef, l, deleted)
}

func (g *Graph) searchLayerFn(score scoreFn, entry model.InternalID, ef, l int, deleted func(model.InternalID) bool) ([]scored, int) {
	visited := map[model.InternalID]bool{entry: true}
	entryScore, ok := score(entry)
	if !ok {
		return nil, 0
	}

	candidates := &minHeap{{id: entry, score: entryScore}}
	heap.Init(candidates)
	results := &maxHeap{}
	if deleted == nil || !deleted(entry) {
		heap.Push(results, scored{id: entry, score: entryScore})
	}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(scored)
		if results.Len() >= ef {
			worst := (*results)[0]
			if c.score < worst.score {
				break
			}
		}

		g.mu.RLock()
		n, ok := g.nodes[c.id]
		g.mu.RUnlock()
		if !ok || l >= len(n.links) {
			continue
		}
		n.mu.Lock()
		neighbors := append([]model.InternalID(nil), n.links[l]...)
		n.mu.Unlock()

		for _, nb := range neighbors {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			s, ok := score(nb)
			if !ok {
				continue
			}
			if results.Len() < ef {
				heap.Push(candidates, scored{id: nb, score: s})
				if deleted == nil || !deleted(nb) {
					heap.Push(results, scored{id: nb, score: s})
				}
			} else if s > (*results)[0].score {
				heap.Push(candidates, scored{id: nb, score: s})
				if deleted == nil || !deleted(nb) {
					heap.Push(results, scored{id: nb, score: s})
					if results.Len() > ef {
						heap.Pop(results)
					}
				}
			}
		}
	}

	out := make([]scored, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(scored)
	}
	return out, len(visited)
}

// selectNeighborsHeuristic picks up to max candidates, preferring
// diversity over pure closeness: a candidate is kept only if it is closer
// to the query than to every candidate already selected (the standard
// HNSW heuristic, spec.md §4.2 "heuristic neighbor selection").
func (g *Graph) selectNeighborsHeuristic(query model.DenseVector, candidates []scored, max int) []model.InternalID {
	sorted := append([]scored(nil), candidates...)
	// candidates arrive best-first already from searchLayer; connect()'s
	// caller passes an arbitrary-order slice, so sort defensively here.
	sortScoredDesc(sorted)
	selected := make([]model.InternalID, 0, max)
	for _, c := range sorted {
		if len(selected) >= max {
			break
		}
		v, ok := g.scorer.Vector(c.id)
		if !ok {
			continue
		}
		keep := true
		for _, sid := range selected {
			d, ok := g.scorer.Score(sid, v)
			if ok && d > c.score {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c.id)
		}
	}
	if len(selected) < max {
		for _, c := range sorted {
			if len(selected) >= max {
				break
			}
			already := false
			for _, id := range selected {
				if id == c.id {
					already = true
					break
				}
			}
			if !already {
				selected = append(selected, c.id)
			}
		}
	}
	return selected
}

func dotRank(a, b model.DenseVector) (float32, bool) {
	if len(a) == 0 || len(b) == 0 {
		return 0, false
	}
	var sum float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum, true
}

// Search runs the graph's full multi-layer search for query, restricted to
// ids for which filter returns true (nil filter = no restriction) and
// excluding ids for which deleted returns true, returning up to top
// results sorted best-first (spec.md §4.2 step 4-6; rescoring and
// quantization strategy selection live in pkg/segment, which owns the
// scorer choice). The second return value is the number of distinct nodes
// the layer-0 beam visited, for callers tracking search cost.
func (g *Graph) Search(query model.DenseVector, top int, ef int, filter func(model.InternalID) bool, deleted func(model.InternalID) bool) ([]model.InternalID, int) {
	g.mu.RLock()
	entry, hasEntry, maxLevel := g.entryPoint, g.hasEntry, g.maxLevel
	g.mu.RUnlock()
	if !hasEntry {
		return nil, 0
	}
	if ef < top {
		ef = top
	}

	cur := entry
	for l := maxLevel; l > 0; l-- {
		cur = g.greedyDescend(cur, query, l, deleted)
	}

	candidates, visited := g.searchLayer(query, cur, ef, 0, deleted)
	out := make([]model.InternalID, 0, top)
	for _, c := range candidates {
		if filter != nil && !filter(c.id) {
			continue
		}
		out = append(out, c.id)
		if len(out) >= top {
			break
		}
	}
	return out, visited
}
