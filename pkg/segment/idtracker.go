package segment

import (
	"sort"
	"sync"

	"github.com/shardwave/shardwave/pkg/model"
)

// IDTracker maintains the external_id <-> internal_id bijection over
// non-deleted points (spec.md §3 invariant) plus a deletion bitmap for
// tombstoned internal ids that HNSW and posting lists still reference.
type IDTracker struct {
	mu       sync.RWMutex
	ext2int  map[string]model.InternalID
	int2ext  map[model.InternalID]model.PointID
	deleted  map[model.InternalID]bool
	nextFree model.InternalID
}

// NewIDTracker returns an empty tracker.
func NewIDTracker() *IDTracker {
	return &IDTracker{
		ext2int: make(map[string]model.InternalID),
		int2ext: make(map[model.InternalID]model.PointID),
		deleted: make(map[model.InternalID]bool),
	}
}

// Lookup returns the internal id for an external id, if it currently
// exists and isn't deleted.
func (t *IDTracker) Lookup(ext model.PointID) (model.InternalID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.ext2int[ext.Key()]
	if !ok || t.deleted[id] {
		return 0, false
	}
	return id, true
}

// ExternalID returns the external id for an internal id.
func (t *IDTracker) ExternalID(internal model.InternalID) (model.PointID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ext, ok := t.int2ext[internal]
	return ext, ok
}

// Assign returns the internal id for ext, allocating a new one from the
// segment's dense id space if this is the first time ext is seen. A
// previously deleted external id is reassigned a fresh internal id rather
// than resurrecting the old (now-tombstoned) one, preserving the bijection
// invariant.
func (t *IDTracker) Assign(ext model.PointID) model.InternalID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ext2int[ext.Key()]; ok && !t.deleted[id] {
		return id
	}
	id := t.nextFree
	t.nextFree++
	t.ext2int[ext.Key()] = id
	t.int2ext[id] = ext
	return id
}

// Delete tombstones ext's internal id, if present, returning it.
func (t *IDTracker) Delete(ext model.PointID) (model.InternalID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.ext2int[ext.Key()]
	if !ok || t.deleted[id] {
		return 0, false
	}
	t.deleted[id] = true
	return id, true
}

// IsDeleted reports whether an internal id has been tombstoned. This is
// the callback HNSW takes as its "deleted" predicate; Segment.ReadFiltered
// and ScoreFiltered check it directly.
func (t *IDTracker) IsDeleted(internal model.InternalID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.deleted[internal]
}

// LiveCount returns the number of non-deleted external ids currently
// tracked.
func (t *IDTracker) LiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, id := range t.ext2int {
		if !t.deleted[id] {
			n++
		}
	}
	return n
}

// IterLive calls fn for every live (non-deleted) internal id, in
// ascending order — the backbone of iter_points (spec.md §4.3).
func (t *IDTracker) IterLive(fn func(internal model.InternalID, ext model.PointID)) {
	t.mu.RLock()
	ids := make([]model.InternalID, 0, len(t.int2ext))
	for id := range t.int2ext {
		if !t.deleted[id] {
			ids = append(ids, id)
		}
	}
	t.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		ext, ok := t.ExternalID(id)
		if ok {
			fn(id, ext)
		}
	}
}
