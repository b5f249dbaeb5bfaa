package hashring

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// ShardID identifies a shard on the ring.
type ShardID uint32

// defaultScale is the fair ring's replica count per shard: the higher the
// scale, the more even the key distribution, at the cost of a larger ring
// to binary-search (spec.md §4.4).
const defaultScale = 100

type ringEntry struct {
	hash  uint32
	shard ShardID
}

// inner is one hash ring: either raw (one entry per shard) or fair (scale
// entries per shard).
type inner struct {
	fair    bool
	scale   uint32
	entries []ringEntry
}

func newRaw() *inner {
	return &inner{fair: false}
}

func newFair(scale uint32) *inner {
	if scale == 0 {
		scale = defaultScale
	}
	return &inner{fair: true, scale: scale}
}

func hashKey(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func (r *inner) insert(shard ShardID, replica uint32) {
	h := hashKey(fmt.Sprintf("%d-%d", shard, replica))
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].hash >= h })
	r.entries = append(r.entries, ringEntry{})
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = ringEntry{hash: h, shard: shard}
}

// Add adds shard to the ring; a fair ring adds scale replicas.
func (r *inner) Add(shard ShardID) {
	if !r.fair {
		r.insert(shard, 0)
		return
	}
	for i := uint32(0); i < r.scale; i++ {
		r.insert(shard, i)
	}
}

// Remove removes every entry belonging to shard, reporting whether any
// were found.
func (r *inner) Remove(shard ShardID) bool {
	removed := false
	out := r.entries[:0]
	for _, e := range r.entries {
		if e.shard == shard {
			removed = true
			continue
		}
		out = append(out, e)
	}
	r.entries = out
	return removed
}

// Get returns the shard owning key, or false if the ring is empty.
func (r *inner) Get(key string) (ShardID, bool) {
	if len(r.entries) == 0 {
		return 0, false
	}
	h := hashKey(key)
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].hash >= h })
	if i == len(r.entries) {
		i = 0
	}
	return r.entries[i].shard, true
}

// IsEmpty reports whether the ring has no shards.
func (r *inner) IsEmpty() bool { return len(r.entries) == 0 }

// Len returns the number of distinct shards on the ring.
func (r *inner) Len() int {
	if !r.fair {
		return len(r.entries)
	}
	if r.scale == 0 {
		return 0
	}
	return len(r.entries) / int(r.scale)
}

// Contains reports whether shard currently has any entries on the ring.
func (r *inner) Contains(shard ShardID) bool {
	for _, e := range r.entries {
		if e.shard == shard {
			return true
		}
	}
	return false
}

// UniqueNodes returns the set of distinct shard ids on the ring.
func (r *inner) UniqueNodes() map[ShardID]bool {
	out := make(map[ShardID]bool)
	for _, e := range r.entries {
		out[e.shard] = true
	}
	return out
}

// Clone returns a deep copy.
func (r *inner) Clone() *inner {
	entries := make([]ringEntry, len(r.entries))
	copy(entries, r.entries)
	return &inner{fair: r.fair, scale: r.scale, entries: entries}
}

// Equal reports whether two rings hold the same shard set and layout.
func (r *inner) Equal(other *inner) bool {
	if r.fair != other.fair || r.scale != other.scale || len(r.entries) != len(other.entries) {
		return false
	}
	for i := range r.entries {
		if r.entries[i] != other.entries[i] {
			return false
		}
	}
	return true
}
