package vectorstorage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardwave/shardwave/pkg/model"
)

func TestDenseStoragePutGetDelete(t *testing.T) {
	s := NewDenseStorage(3, model.DistanceDot)
	s.Put(1, model.TypedVector{Kind: model.VectorKindDense, Dense: model.DenseVector{1, 2, 3}})

	v, ok := s.GetDense(1)
	require.True(t, ok)
	assert.Equal(t, model.DenseVector{1, 2, 3}, v)

	s.Delete(1)
	_, ok = s.GetDense(1)
	assert.False(t, ok)
}

func TestDenseStorageNormalizesForCosine(t *testing.T) {
	s := NewDenseStorage(2, model.DistanceCosine)
	s.Put(1, model.TypedVector{Kind: model.VectorKindDense, Dense: model.DenseVector{3, 4}})
	v, _ := s.GetDense(1)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
}

func TestDenseStorageScore(t *testing.T) {
	s := NewDenseStorage(2, model.DistanceDot)
	s.Put(1, model.TypedVector{Kind: model.VectorKindDense, Dense: model.DenseVector{1, 2}})
	score, ok := s.Score(1, model.DenseVector{3, 4})
	require.True(t, ok)
	assert.InDelta(t, 11.0, score, 1e-6)
}

func TestQuantizationOverlayApproximatesScore(t *testing.T) {
	s := NewDenseStorage(2, model.DistanceDot)
	s.Put(1, model.TypedVector{Kind: model.VectorKindDense, Dense: model.DenseVector{1, 2}})
	s.Put(2, model.TypedVector{Kind: model.VectorKindDense, Dense: model.DenseVector{5, 6}})
	s.EnableQuantization(model.QuantizationConfig{Enabled: true, Bits: 8})

	overlay, ok := s.Quantized()
	require.True(t, ok)
	_, ok = overlay.Score(1, model.DenseVector{1, 2})
	assert.True(t, ok)
}

func TestOversampledTop(t *testing.T) {
	assert.Equal(t, 10, OversampledTop(model.QuantizationConfig{Oversampling: 0}, 10))
	assert.Equal(t, 20, OversampledTop(model.QuantizationConfig{Oversampling: 2}, 10))
}

func TestSparseStorage(t *testing.T) {
	s := NewSparseStorage()
	s.Put(1, model.TypedVector{Kind: model.VectorKindSparse, Sparse: model.SparseVector{
		Indices: []uint32{1, 3}, Values: []float32{2, 4},
	}})
	score, ok := s.Score(1, model.SparseVector{Indices: []uint32{3}, Values: []float32{5}})
	require.True(t, ok)
	assert.InDelta(t, 20.0, score, 1e-6)
}

func TestMultiStorage(t *testing.T) {
	s := NewMultiStorage(model.DistanceCosine)
	s.Put(1, model.TypedVector{Kind: model.VectorKindMulti, Multi: model.MultiVector{
		Vectors: [][]float32{{1, 0}},
	}})
	score, ok := s.Score(1, model.MultiVector{Vectors: [][]float32{{1, 0}}})
	require.True(t, ok)
	assert.InDelta(t, 1.0, score, 1e-6)
}
