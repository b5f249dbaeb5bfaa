package posting

import (
	"sort"

	"github.com/shardwave/shardwave/pkg/model"
)

// MutableList is a sorted, append-friendly posting list of internal ids for
// a single indexed field value (spec.md §4.1).
type MutableList struct {
	ids []model.InternalID
}

// NewMutableList returns an empty mutable posting list.
func NewMutableList() *MutableList {
	return &MutableList{}
}

// Add inserts id in sorted position, ignoring duplicates.
func (l *MutableList) Add(id model.InternalID) {
	i := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] >= id })
	if i < len(l.ids) && l.ids[i] == id {
		return
	}
	l.ids = append(l.ids, 0)
	copy(l.ids[i+1:], l.ids[i:])
	l.ids[i] = id
}

// Remove deletes id from the list, the mutable-form removal contract of
// spec.md §4.1 ("removes from all postings").
func (l *MutableList) Remove(id model.InternalID) {
	i := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] >= id })
	if i < len(l.ids) && l.ids[i] == id {
		l.ids = append(l.ids[:i], l.ids[i+1:]...)
	}
}

// Len returns the number of ids currently in the list.
func (l *MutableList) Len() int { return len(l.ids) }

// Contains reports whether id is present, via binary search.
func (l *MutableList) Contains(id model.InternalID) bool {
	i := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] >= id })
	return i < len(l.ids) && l.ids[i] == id
}

// IDs returns the live backing slice; callers must not mutate it.
func (l *MutableList) IDs() []model.InternalID { return l.ids }

// Compress converts the mutable list into its immutable, delta+bit-packed
// form (spec.md §4.1 "one-shot conversion from mutable form").
func (l *MutableList) Compress() *CompressedList {
	return compress(l.ids)
}
