package payload

import (
	"fmt"
	"sync"

	"github.com/shardwave/shardwave/pkg/model"
)

// Schema owns the set of field indices a segment currently maintains,
// keyed by path. CreateFieldIndex/DeleteFieldIndex (spec.md §6) add and
// remove entries without touching the underlying payload values.
type Schema struct {
	mu     sync.RWMutex
	fields map[string]*FieldIndex
}

// NewSchema returns an empty field-index set.
func NewSchema() *Schema {
	return &Schema{fields: make(map[string]*FieldIndex)}
}

// CreateFieldIndex attaches a new index at path under kind. Creating an
// index that already exists with the same kind is a no-op; a different
// kind is an error, requiring an explicit DeleteFieldIndex first.
func (s *Schema) CreateFieldIndex(path string, kind FieldKind, pointCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.fields[path]; ok {
		if existing.Schema.Kind == kind {
			return nil
		}
		return fmt.Errorf("field index %q already exists with a different kind", path)
	}
	s.fields[path] = NewFieldIndex(path, kind, pointCount)
	return nil
}

// DeleteFieldIndex removes the index at path, if any.
func (s *Schema) DeleteFieldIndex(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fields, path)
}

// Field returns the index at path, if one exists.
func (s *Schema) Field(path string) (*FieldIndex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fi, ok := s.fields[path]
	return fi, ok
}

// Paths returns every currently indexed path.
func (s *Schema) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.fields))
	for p := range s.fields {
		out = append(out, p)
	}
	return out
}

// IndexPoint updates every field index with id's current payload values —
// called on upsert and set_payload.
func (s *Schema) IndexPoint(id model.InternalID, p model.Payload) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fi := range s.fields {
		if err := fi.Index(id, p); err != nil {
			return err
		}
	}
	return nil
}

// RemovePoint drops id from every field index, given its prior payload so
// exact-token removal (rather than a full posting sweep) can be used.
func (s *Schema) RemovePoint(id model.InternalID, priorPayload model.Payload) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fi := range s.fields {
		if err := fi.Remove(id, priorPayload); err != nil {
			return err
		}
	}
	return nil
}

// SetPointCount propagates the live point count to every field index, for
// cardinality estimation (spec.md §4.1).
func (s *Schema) SetPointCount(n int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fi := range s.fields {
		fi.SetPointCount(n)
	}
}

// Freeze converts every field index to its immutable compressed form,
// called once when the owning segment seals (spec.md §4.1, §4.3).
func (s *Schema) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fi := range s.fields {
		fi.Freeze()
	}
}
