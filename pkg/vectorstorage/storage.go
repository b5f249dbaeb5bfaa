package vectorstorage

import (
	"github.com/shardwave/shardwave/pkg/model"
)

// Storage is the per-named-vector value store a segment keeps for one
// vector name. InternalID indexes directly into it.
type Storage interface {
	Put(id model.InternalID, v model.TypedVector)
	Get(id model.InternalID) (model.TypedVector, bool)
	Delete(id model.InternalID)
	Len() int
	// Quantized returns the quantized overlay, if quantization is enabled
	// for this storage, and whether one exists.
	Quantized() (*QuantizedOverlay, bool)
}

// DenseStorage is a Storage specialized for fixed-dimension dense vectors,
// normalized at insertion time when the configured distance is cosine
// (spec.md §4.2's "raw vectors" scorer path).
type DenseStorage struct {
	dim      int
	distance model.Distance
	vectors  map[model.InternalID]model.DenseVector
	overlay  *QuantizedOverlay
}

// NewDenseStorage returns an empty dense-vector store for the given
// dimension and distance.
func NewDenseStorage(dim int, distance model.Distance) *DenseStorage {
	return &DenseStorage{dim: dim, distance: distance, vectors: make(map[model.InternalID]model.DenseVector)}
}

func (s *DenseStorage) Put(id model.InternalID, v model.TypedVector) {
	dv := append(model.DenseVector(nil), v.Dense...)
	if s.distance == model.DistanceCosine {
		model.Normalize(dv)
	}
	s.vectors[id] = dv
	if s.overlay != nil {
		s.overlay.put(id, dv)
	}
}

func (s *DenseStorage) Get(id model.InternalID) (model.TypedVector, bool) {
	v, ok := s.vectors[id]
	if !ok {
		return model.TypedVector{}, false
	}
	return model.TypedVector{Kind: model.VectorKindDense, Dense: v}, true
}

func (s *DenseStorage) Delete(id model.InternalID) {
	delete(s.vectors, id)
	if s.overlay != nil {
		s.overlay.delete(id)
	}
}

func (s *DenseStorage) Len() int { return len(s.vectors) }

// GetDense is a typed accessor avoiding the TypedVector indirection for
// hnsw's hot scoring loop.
func (s *DenseStorage) GetDense(id model.InternalID) (model.DenseVector, bool) {
	v, ok := s.vectors[id]
	return v, ok
}

// Score computes the configured distance's rank score (Distance.RankScore,
// higher is better) between id's stored vector and query.
func (s *DenseStorage) Score(id model.InternalID, query model.DenseVector) (float32, bool) {
	v, ok := s.vectors[id]
	if !ok {
		return 0, false
	}
	return s.distance.RankScore(v, query), true
}

// EnableQuantization builds an int8 scalar-quantization overlay over every
// vector currently stored (spec.md §4.2).
func (s *DenseStorage) EnableQuantization(cfg model.QuantizationConfig) {
	s.overlay = newQuantizedOverlay(cfg, s.dim)
	for id, v := range s.vectors {
		s.overlay.put(id, v)
	}
}

func (s *DenseStorage) Quantized() (*QuantizedOverlay, bool) {
	return s.overlay, s.overlay != nil
}

// SparseStorage stores sparse vectors keyed by internal id.
type SparseStorage struct {
	vectors map[model.InternalID]model.SparseVector
}

// NewSparseStorage returns an empty sparse-vector store.
func NewSparseStorage() *SparseStorage {
	return &SparseStorage{vectors: make(map[model.InternalID]model.SparseVector)}
}

func (s *SparseStorage) Put(id model.InternalID, v model.TypedVector) {
	s.vectors[id] = v.Sparse
}

func (s *SparseStorage) Get(id model.InternalID) (model.TypedVector, bool) {
	v, ok := s.vectors[id]
	if !ok {
		return model.TypedVector{}, false
	}
	return model.TypedVector{Kind: model.VectorKindSparse, Sparse: v}, true
}

func (s *SparseStorage) Delete(id model.InternalID) { delete(s.vectors, id) }
func (s *SparseStorage) Len() int                   { return len(s.vectors) }
func (s *SparseStorage) Quantized() (*QuantizedOverlay, bool) { return nil, false }

// Score computes the sparse dot-product score against query.
func (s *SparseStorage) Score(id model.InternalID, query model.SparseVector) (float32, bool) {
	v, ok := s.vectors[id]
	if !ok {
		return 0, false
	}
	return model.SparseScore(v, query), true
}

// MultiStorage stores multi-dense vectors keyed by internal id.
type MultiStorage struct {
	distance model.Distance
	vectors  map[model.InternalID]model.MultiVector
}

// NewMultiStorage returns an empty multi-vector store.
func NewMultiStorage(distance model.Distance) *MultiStorage {
	return &MultiStorage{distance: distance, vectors: make(map[model.InternalID]model.MultiVector)}
}

func (s *MultiStorage) Put(id model.InternalID, v model.TypedVector) {
	s.vectors[id] = v.Multi
}

func (s *MultiStorage) Get(id model.InternalID) (model.TypedVector, bool) {
	v, ok := s.vectors[id]
	if !ok {
		return model.TypedVector{}, false
	}
	return model.TypedVector{Kind: model.VectorKindMulti, Multi: v}, true
}

func (s *MultiStorage) Delete(id model.InternalID) { delete(s.vectors, id) }
func (s *MultiStorage) Len() int                   { return len(s.vectors) }
func (s *MultiStorage) Quantized() (*QuantizedOverlay, bool) { return nil, false }

// Score computes the MaxSim aggregation against query.
func (s *MultiStorage) Score(id model.InternalID, query model.MultiVector) (float32, bool) {
	v, ok := s.vectors[id]
	if !ok {
		return 0, false
	}
	return model.MultiScore(s.distance, v, query), true
}
