package posting

import (
	"sort"

	"github.com/shardwave/shardwave/pkg/model"
)

// Cardinality is the estimated result-set size of a filter before it's
// actually evaluated, used to pick a search strategy (spec.md §4.1, §6).
type Cardinality struct {
	Min int
	Exp int
	Max int
}

// Index is the mutable inverted index: one sorted posting list per
// (field, token) pair. "Token" is a fully-resolved indexed field value,
// already normalized by pkg/payload's field indices.
type Index struct {
	lists      map[string]*MutableList
	pointCount int
}

// NewIndex returns an empty mutable inverted index over pointCount live
// points (used by the cardinality estimator's ∏(len(pᵢ)/points_count)).
func NewIndex(pointCount int) *Index {
	return &Index{lists: make(map[string]*MutableList), pointCount: pointCount}
}

// SetPointCount updates the live point count the estimator divides by.
func (ix *Index) SetPointCount(n int) { ix.pointCount = n }

// AddDocument indexes id under token, creating token's posting list on
// first use.
func (ix *Index) AddDocument(token string, id model.InternalID) {
	l, ok := ix.lists[token]
	if !ok {
		l = NewMutableList()
		ix.lists[token] = l
	}
	l.Add(id)
}

// RemoveDocument removes id from every posting list that names it, per
// spec.md §4.1's mutable-form removal contract. Callers that know which
// tokens id was indexed under should prefer RemoveDocumentTokens; this is
// the fallback full-sweep form.
func (ix *Index) RemoveDocument(id model.InternalID) {
	for _, l := range ix.lists {
		l.Remove(id)
	}
}

// RemoveDocumentTokens removes id only from the named tokens' postings —
// O(len(tokens)) instead of O(len(vocabulary)).
func (ix *Index) RemoveDocumentTokens(tokens []string, id model.InternalID) {
	for _, tok := range tokens {
		if l, ok := ix.lists[tok]; ok {
			l.Remove(id)
		}
	}
}

// EstimateCardinality implements spec.md §4.1's formula exactly:
//
//	min = 0 for multi-token, len(posting) for single-token
//	max = len(shortest posting)
//	exp = points_count · ∏(len(pᵢ)/points_count)
//
// A token absent from the vocabulary yields an all-zero Cardinality,
// matching "filtering by a token absent from the vocabulary returns empty
// cardinality" (spec.md §8).
func (ix *Index) EstimateCardinality(tokens []string) Cardinality {
	if len(tokens) == 0 {
		return Cardinality{Min: ix.pointCount, Exp: ix.pointCount, Max: ix.pointCount}
	}
	lens := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		l, ok := ix.lists[tok]
		if !ok {
			return Cardinality{}
		}
		lens = append(lens, l.Len())
	}
	shortest := lens[0]
	for _, n := range lens[1:] {
		if n < shortest {
			shortest = n
		}
	}

	exp := float64(ix.pointCount)
	if ix.pointCount > 0 {
		for _, n := range lens {
			exp *= float64(n) / float64(ix.pointCount)
		}
	} else {
		exp = 0
	}

	min := 0
	if len(tokens) == 1 {
		min = shortest
	}
	return Cardinality{Min: min, Exp: int(exp), Max: shortest}
}

// Filter computes the AND intersection of every token's posting list,
// walking the shortest list and probing the others by binary search
// (spec.md §4.1). An unseen token makes the whole filter empty.
func (ix *Index) Filter(tokens []string) []model.InternalID {
	if len(tokens) == 0 {
		return nil
	}
	lists := make([]*MutableList, 0, len(tokens))
	for _, tok := range tokens {
		l, ok := ix.lists[tok]
		if !ok {
			return nil
		}
		lists = append(lists, l)
	}
	sort.Slice(lists, func(i, j int) bool { return lists[i].Len() < lists[j].Len() })

	shortest := lists[0].IDs()
	others := lists[1:]
	out := make([]model.InternalID, 0, len(shortest))
outer:
	for _, id := range shortest {
		for _, l := range others {
			if !l.Contains(id) {
				continue outer
			}
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Compress freezes every posting list into its immutable, delta+bit-packed
// form in one pass, the "one-shot conversion from mutable form" spec.md
// §4.1 describes for a segment that stops accepting writes (§4.3).
func (ix *Index) Compress() *CompressedIndex {
	lists := make(map[string]*CompressedList, len(ix.lists))
	for tok, l := range ix.lists {
		lists[tok] = l.Compress()
	}
	return &CompressedIndex{lists: lists, pointCount: ix.pointCount}
}
