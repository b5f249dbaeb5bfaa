package kvstore

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/shardwave/shardwave/pkg/apierrors"
)

// Store is the ordered byte-key store contract every package in the search
// core builds its on-disk state on top of. Namespaces map 1:1 onto bbolt
// buckets; keys within a namespace sort lexicographically, which callers
// rely on for prefix scans (posting lists, payload indices).
type Store interface {
	Put(namespace, key, value []byte) error
	Get(namespace, key []byte) ([]byte, error)
	Delete(namespace, key []byte) error
	Scan(namespace, prefix []byte, fn func(key, value []byte) error) error
	Batch(fn func(b *Batch) error) error
	Close() error
}

// BoltStore is the default Store implementation, adapted from the
// teacher's pkg/storage.BoltStore: a single bbolt.DB, one bucket per
// namespace created on demand.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt-backed store at path.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open kvstore: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) ensureBucket(tx *bolt.Tx, namespace []byte) (*bolt.Bucket, error) {
	return tx.CreateBucketIfNotExists(namespace)
}

// Put writes value under key in namespace, creating the namespace's bucket
// if it doesn't yet exist.
func (s *BoltStore) Put(namespace, key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.ensureBucket(tx, namespace)
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
}

// Get reads the value stored under key in namespace. It returns
// apierrors.ErrNotFound when the namespace or key doesn't exist.
func (s *BoltStore) Get(namespace, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(namespace)
		if b == nil {
			return apierrors.NotFoundf("namespace %q", namespace)
		}
		v := b.Get(key)
		if v == nil {
			return apierrors.NotFoundf("key %q in namespace %q", key, namespace)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// Delete removes key from namespace. Deleting an absent key is a no-op.
func (s *BoltStore) Delete(namespace, key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(namespace)
		if b == nil {
			return nil
		}
		return b.Delete(key)
	})
}

// Scan iterates every key in namespace whose bytes start with prefix, in
// ascending order, calling fn for each. fn's key/value slices are only
// valid for the duration of the call, per bbolt's cursor contract.
func (s *BoltStore) Scan(namespace, prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(namespace)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(k, prefix []byte) bool {
	if len(prefix) == 0 {
		return true
	}
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// batchTarget is the minimal write surface a Batch stages its operations
// against; BoltStore.Batch backs it with a live bbolt transaction, MemStore
// with itself (each put/delete takes the store's lock on its own; no lock
// is held across the whole batch).
type batchTarget interface {
	put(namespace, key, value []byte) error
	delete(namespace, key []byte) error
}

// Batch is a set of puts/deletes applied atomically by Store.Batch.
type Batch struct {
	target batchTarget
}

// Put stages a write within the enclosing batch.
func (b *Batch) Put(namespace, key, value []byte) error {
	return b.target.put(namespace, key, value)
}

// Delete stages a delete within the enclosing batch.
func (b *Batch) Delete(namespace, key []byte) error {
	return b.target.delete(namespace, key)
}

type boltTxTarget struct{ tx *bolt.Tx }

func (t boltTxTarget) put(namespace, key, value []byte) error {
	bucket, err := t.tx.CreateBucketIfNotExists(namespace)
	if err != nil {
		return err
	}
	return bucket.Put(key, value)
}

func (t boltTxTarget) delete(namespace, key []byte) error {
	bucket := t.tx.Bucket(namespace)
	if bucket == nil {
		return nil
	}
	return bucket.Delete(key)
}

// Batch runs fn inside a single bbolt read-write transaction, committing
// every staged Put/Delete atomically or none at all. This is what gives
// segment flush and version-gated multi-key writes their atomicity
// (spec.md §6).
func (s *BoltStore) Batch(fn func(b *Batch) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&Batch{target: boltTxTarget{tx: tx}})
	})
}
