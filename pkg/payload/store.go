package payload

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shardwave/shardwave/pkg/apierrors"
	"github.com/shardwave/shardwave/pkg/kvstore"
	"github.com/shardwave/shardwave/pkg/model"
)

var nsPayload = []byte("payload")

// Store holds one JSON payload per internal id, backed by a kvstore.Store
// namespace (spec.md §6: "payload store (sorted byte-key store)").
type Store struct {
	kv kvstore.Store
}

// NewStore wraps kv as a payload store.
func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

func payloadKey(id model.InternalID) []byte {
	return []byte(fmt.Sprintf("%010d", id))
}

// Set writes (or overwrites) id's payload.
func (s *Store) Set(id model.InternalID, p model.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return apierrors.Wrap(apierrors.ErrValidation, "marshal payload", err)
	}
	return s.kv.Put(nsPayload, payloadKey(id), data)
}

// Get reads id's payload. A never-set id returns an empty payload, not an
// error — payload is optional per point.
func (s *Store) Get(id model.InternalID) (model.Payload, error) {
	data, err := s.kv.Get(nsPayload, payloadKey(id))
	if err != nil {
		if errors.Is(err, apierrors.ErrNotFound) {
			return model.Payload{}, nil
		}
		return nil, err
	}
	return model.ParsePayload(data)
}

// Delete removes id's stored payload entirely.
func (s *Store) Delete(id model.InternalID) error {
	return s.kv.Delete(nsPayload, payloadKey(id))
}

// DeleteFields removes only the named top-level keys from id's payload,
// leaving the rest intact — the "delete_payload" operation's scoped form
// (spec.md §6).
func (s *Store) DeleteFields(id model.InternalID, keys []string) error {
	p, err := s.Get(id)
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(p, k)
	}
	return s.Set(id, p)
}
