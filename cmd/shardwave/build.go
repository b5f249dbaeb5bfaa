package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/shardwave/shardwave/pkg/collection"
	"github.com/shardwave/shardwave/pkg/hashring"
	"github.com/shardwave/shardwave/pkg/kvstore"
	"github.com/shardwave/shardwave/pkg/model"
	"github.com/shardwave/shardwave/pkg/segment"
	"github.com/shardwave/shardwave/pkg/shard"
)

func parseUUID(s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("point uuid %q: %w", s, err)
	}
	return u, nil
}

// pointFile is the on-disk JSON shape loaded by the search and reshard commands: a
// flat array of points, each naming its id, payload, and named vectors.
// This is a local-dev convenience format, not the wire format of any
// façade (spec.md's HTTP/RPC surface is explicitly out of scope).
type pointFile struct {
	ID      json.Number            `json:"id"`
	UUID    string                 `json:"uuid"`
	Payload map[string]interface{} `json:"payload"`
	Vectors map[string][]float32   `json:"vectors"`
}

// loadPoints reads a JSON array of pointFile entries from path and converts
// each into a model.PointStruct with dense named vectors.
func loadPoints(path string) ([]model.PointStruct, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read points file: %w", err)
	}
	var raw []pointFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse points file: %w", err)
	}
	points := make([]model.PointStruct, 0, len(raw))
	for _, r := range raw {
		var id model.PointID
		switch {
		case r.UUID != "":
			u, err := parseUUID(r.UUID)
			if err != nil {
				return nil, err
			}
			id = model.UUIDID(u)
		case r.ID != "":
			n, err := r.ID.Int64()
			if err != nil {
				return nil, fmt.Errorf("point id %q: %w", r.ID, err)
			}
			id = model.NumID(uint64(n))
		default:
			return nil, fmt.Errorf("point missing both id and uuid")
		}
		vecs := make(model.NamedVectors, len(r.Vectors))
		for name, dense := range r.Vectors {
			vecs[model.VectorName(name)] = model.TypedVector{
				Kind:  model.VectorKindDense,
				Dense: model.DenseVector(dense),
			}
		}
		points = append(points, model.PointStruct{
			ID:      id,
			Vectors: vecs,
			Payload: model.Payload(r.Payload),
		})
	}
	return points, nil
}

// buildCollection constructs an in-memory collection with shardCount
// shards, each holding one empty appendable segment backed by a fresh
// kvstore.MemStore. Segment persistence across process restarts is out of
// scope for this CLI (see DESIGN.md); every invocation starts cold.
func buildCollection(cfg *model.CollectionConfig, shardCount uint32) *collection.Collection {
	col := collection.New(*cfg)
	if shardCount == 0 {
		shardCount = cfg.ShardCount
	}
	for i := uint32(0); i < shardCount; i++ {
		sh := shard.New(cfg.Name, i, *cfg)
		seg := segment.New(uint64(i), *cfg, kvstore.NewMemStore())
		sh.AddSegment(seg)
		col.AddShard(hashring.ShardID(i), sh)
	}
	return col
}
