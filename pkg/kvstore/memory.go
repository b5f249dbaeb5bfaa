package kvstore

import (
	"bytes"
	"sort"
	"sync"

	"github.com/shardwave/shardwave/pkg/apierrors"
)

// MemStore is an in-memory Store, used by proxy segments (copy-on-write
// overlays that never hit disk until flushed) and by tests that don't want
// a temp-file bbolt database.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]map[string][]byte)}
}

func (s *MemStore) Put(namespace, key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.data[string(namespace)]
	if !ok {
		ns = make(map[string][]byte)
		s.data[string(namespace)] = ns
	}
	ns[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *MemStore) Get(namespace, key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.data[string(namespace)]
	if !ok {
		return nil, apierrors.NotFoundf("namespace %q", namespace)
	}
	v, ok := ns[string(key)]
	if !ok {
		return nil, apierrors.NotFoundf("key %q in namespace %q", key, namespace)
	}
	return append([]byte(nil), v...), nil
}

func (s *MemStore) Delete(namespace, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.data[string(namespace)]; ok {
		delete(ns, string(key))
	}
	return nil
}

func (s *MemStore) Scan(namespace, prefix []byte, fn func(key, value []byte) error) error {
	s.mu.RLock()
	ns, ok := s.data[string(namespace)]
	if !ok {
		s.mu.RUnlock()
		return nil
	}
	keys := make([]string, 0, len(ns))
	for k := range ns {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	type kv struct{ k, v []byte }
	snapshot := make([]kv, 0, len(keys))
	for _, k := range keys {
		snapshot = append(snapshot, kv{k: []byte(k), v: ns[k]})
	}
	s.mu.RUnlock()

	for _, e := range snapshot {
		if err := fn(e.k, e.v); err != nil {
			return err
		}
	}
	return nil
}

type memTarget struct{ s *MemStore }

func (t memTarget) put(namespace, key, value []byte) error {
	return t.s.Put(namespace, key, value)
}

func (t memTarget) delete(namespace, key []byte) error {
	return t.s.Delete(namespace, key)
}

// Batch applies every staged Put/Delete while holding no cross-call lock
// beyond what the individual Put/Delete calls already take; MemStore has no
// transaction concept so "atomicity" here is best-effort ordering, which is
// sufficient for its use as a proxy-segment overlay and test double.
func (s *MemStore) Batch(fn func(b *Batch) error) error {
	return fn(&Batch{target: memTarget{s: s}})
}

func (s *MemStore) Close() error { return nil }
