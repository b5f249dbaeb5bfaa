package vectorstorage

import (
	"math"

	"github.com/shardwave/shardwave/pkg/model"
)

// QuantizedOverlay is an int8 scalar-quantization layer over a
// DenseStorage: each component is linearly mapped from its observed
// [min,max] range into the signed 8-bit range (spec.md §4.2). Quantized
// scores are an approximation; when the overlay is enabled they are used
// as they are, and no pass recomputes exact scores over the raw vectors.
type QuantizedOverlay struct {
	cfg     model.QuantizationConfig
	dim     int
	min     float32
	max     float32
	scale   float32
	vectors map[model.InternalID][]int8
}

func newQuantizedOverlay(cfg model.QuantizationConfig, dim int) *QuantizedOverlay {
	return &QuantizedOverlay{cfg: cfg, dim: dim, vectors: make(map[model.InternalID][]int8)}
}

func (q *QuantizedOverlay) put(id model.InternalID, v model.DenseVector) {
	for _, x := range v {
		if x < q.min {
			q.min = x
		}
		if x > q.max {
			q.max = x
		}
	}
	if q.max > q.min {
		q.scale = 255.0 / (q.max - q.min)
	}
	q.vectors[id] = q.quantize(v)
}

func (q *QuantizedOverlay) quantize(v model.DenseVector) []int8 {
	out := make([]int8, len(v))
	if q.scale == 0 {
		return out
	}
	for i, x := range v {
		scaled := (x - q.min) * q.scale - 128
		scaled = float32(math.Round(float64(scaled)))
		if scaled > 127 {
			scaled = 127
		}
		if scaled < -128 {
			scaled = -128
		}
		out[i] = int8(scaled)
	}
	return out
}

func (q *QuantizedOverlay) delete(id model.InternalID) {
	delete(q.vectors, id)
}

// Score computes an approximate dot-product score between id's quantized
// vector and a quantized copy of query.
func (q *QuantizedOverlay) Score(id model.InternalID, query model.DenseVector) (float32, bool) {
	qv, ok := q.vectors[id]
	if !ok {
		return 0, false
	}
	qq := q.quantize(query)
	var sum int32
	n := len(qv)
	if len(qq) < n {
		n = len(qq)
	}
	for i := 0; i < n; i++ {
		sum += int32(qv[i]) * int32(qq[i])
	}
	return float32(sum), true
}

// OversampledTop returns the candidate width to search before rescoring
// (spec.md §4.2: "oversampled_top = top · max(1, oversampling)").
func OversampledTop(cfg model.QuantizationConfig, top int) int {
	factor := cfg.Oversampling
	if factor < 1 {
		factor = 1
	}
	return int(math.Ceil(float64(top) * factor))
}
