package posting

import (
	"sort"

	"github.com/shardwave/shardwave/pkg/model"
)

// CompressedList is the immutable posting-list form: deltas between
// consecutive ids, bit-packed to the minimum width the list's max delta
// needs (spec.md §4.1). Deleted ids aren't removed from the packed data,
// and this type does not filter them out; the segment that owns the id
// tracker drops them when it reads filter results.
type CompressedList struct {
	first  model.InternalID
	count  int
	width  uint8
	packed []uint64
}

func bitWidth(v uint32) uint8 {
	var w uint8
	for v > 0 {
		w++
		v >>= 1
	}
	if w == 0 {
		w = 1
	}
	return w
}

// compress builds a CompressedList from a sorted slice of ids.
func compress(ids []model.InternalID) *CompressedList {
	if len(ids) == 0 {
		return &CompressedList{}
	}
	maxDelta := uint32(0)
	for i := 1; i < len(ids); i++ {
		d := uint32(ids[i] - ids[i-1])
		if d > maxDelta {
			maxDelta = d
		}
	}
	width := bitWidth(maxDelta)
	cl := &CompressedList{first: ids[0], count: len(ids), width: width}
	cl.packed = make([]uint64, 0, (len(ids)*int(width)+63)/64+1)

	var acc uint64
	var accBits uint8
	push := func(v uint32, w uint8) {
		acc |= uint64(v) << accBits
		accBits += w
		for accBits >= 64 {
			cl.packed = append(cl.packed, acc)
			acc = 0
			accBits -= 64
		}
	}
	for i := 1; i < len(ids); i++ {
		push(uint32(ids[i]-ids[i-1]), width)
	}
	if accBits > 0 {
		cl.packed = append(cl.packed, acc)
	}
	return cl
}

// Len returns the total number of ids encoded, including ids of points
// deleted after the list was built; EstimateCardinality uses it as is.
func (c *CompressedList) Len() int { return c.count }

// Visitor walks a CompressedList monotonically, matching spec.md §4.1's
// "stateful streaming visitor that advances monotonically" contract for
// intersecting compressed postings.
type Visitor struct {
	list    *CompressedList
	idx     int
	cur     model.InternalID
	bitPos  int
	started bool
}

// NewVisitor returns a Visitor positioned before the first id.
func (c *CompressedList) NewVisitor() *Visitor {
	return &Visitor{list: c, cur: c.first}
}

func (c *CompressedList) deltaAt(n int) uint32 {
	bitStart := (n - 1) * int(c.width)
	word := bitStart / 64
	off := uint(bitStart % 64)
	var v uint64
	if word < len(c.packed) {
		v = c.packed[word] >> off
	}
	if off+uint(c.width) > 64 && word+1 < len(c.packed) {
		v |= c.packed[word+1] << (64 - off)
	}
	mask := uint64(1)<<c.width - 1
	return uint32(v & mask)
}

// Next advances the visitor to its next id, returning false once exhausted.
func (v *Visitor) Next() (model.InternalID, bool) {
	if v.list.count == 0 {
		return 0, false
	}
	if !v.started {
		v.started = true
		v.idx = 0
		v.cur = v.list.first
		return v.cur, true
	}
	v.idx++
	if v.idx >= v.list.count {
		return 0, false
	}
	v.cur += model.InternalID(v.list.deltaAt(v.idx))
	return v.cur, true
}

// Advance moves the visitor forward to the first id >= target, used by the
// intersection walk to skip without re-scanning from the start.
func (v *Visitor) Advance(target model.InternalID) (model.InternalID, bool) {
	id, ok := v.cur, v.started
	if !ok {
		id, ok = v.Next()
	}
	for ok && id < target {
		id, ok = v.Next()
	}
	return id, ok
}

// CompressedIndex is the sealed, immutable counterpart to Index: one
// CompressedList per (field, token) pair, built in a single pass once a
// segment stops accepting writes (spec.md §4.1, §4.3). Tombstone filtering
// for points deleted after sealing happens one layer up, in the segment that
// owns the tracker — CompressedIndex itself just answers "which internal ids
// were indexed under these tokens" over the frozen snapshot.
type CompressedIndex struct {
	lists      map[string]*CompressedList
	pointCount int
}

// SetPointCount updates the live point count EstimateCardinality divides by.
func (ix *CompressedIndex) SetPointCount(n int) { ix.pointCount = n }

// EstimateCardinality mirrors Index.EstimateCardinality's formula exactly,
// so the round-trip property of spec.md §8 holds bit-for-bit across a
// mutable index's freeze into this compressed form.
func (ix *CompressedIndex) EstimateCardinality(tokens []string) Cardinality {
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

// Filter computes the AND intersection of every token's compressed posting
// list using spec.md §4.1's "stateful streaming visitor that advances
// monotonically" walk: the shortest list's visitor drives Next(), and every
// other list's visitor Advance()s to catch up, so no list is ever decoded
// past the point the intersection has already ruled out. An unseen token
// makes the whole filter empty, matching Index.Filter.
func (ix *CompressedIndex) Filter(tokens []string) []model.InternalID {
	if len(tokens) == 0 {
		return nil
	}
	lists := make([]*CompressedList, 0, len(tokens))
	for _, tok := range tokens {
		l, ok := ix.lists[tok]
		if !ok {
			return nil
		}
		lists = append(lists, l)
	}
	sort.Slice(lists, func(i, j int) bool { return lists[i].Len() < lists[j].Len() })

	driver := lists[0].NewVisitor()
	others := make([]*Visitor, len(lists)-1)
	for i, l := range lists[1:] {
		others[i] = l.NewVisitor()
	}

	out := make([]model.InternalID, 0, lists[0].Len())
	id, ok := driver.Next()
outer:
	for ok {
		for _, v := range others {
			cand, found := v.Advance(id)
			if !found {
				break outer
			}
			if cand != id {
				id, ok = driver.Advance(cand)
				continue outer
			}
		}
		out = append(out, id)
		id, ok = driver.Next()
	}
	return out
}
