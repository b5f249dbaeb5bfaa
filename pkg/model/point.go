package model

import (
	"fmt"

	"github.com/google/uuid"
)

// PointID is either an unsigned 64-bit integer or a UUID (spec.md §3).
type PointID struct {
	Num    uint64
	UUID   uuid.UUID
	IsUUID bool
}

// NumID builds a PointID from an unsigned integer external id.
func NumID(n uint64) PointID {
	return PointID{Num: n}
}

// UUIDID builds a PointID from a UUID external id.
func UUIDID(u uuid.UUID) PointID {
	return PointID{UUID: u, IsUUID: true}
}

// String renders the id the way it would appear in a request/response body.
func (p PointID) String() string {
	if p.IsUUID {
		return p.UUID.String()
	}
	return fmt.Sprintf("%d", p.Num)
}

// Key returns a byte-comparable sort key suitable for use in an ordered
// byte-key store (pkg/kvstore) or as a map key. Numeric ids sort before
// UUID ids; both preserve their natural ordering within their own kind.
func (p PointID) Key() string {
	if p.IsUUID {
		return "u:" + p.UUID.String()
	}
	return fmt.Sprintf("n:%020d", p.Num)
}

// InternalID is the compact 32-bit offset a segment's id-tracker assigns to
// a live point (spec.md §3). It indexes directly into vector/payload
// storage arrays.
type InternalID uint32

// Distance is the similarity/metric function a named vector is compared
// under.
type Distance int

const (
	DistanceCosine Distance = iota
	DistanceDot
	DistanceEuclid
	DistanceManhattan
)

func (d Distance) String() string {
	switch d {
	case DistanceCosine:
		return "cosine"
	case DistanceDot:
		return "dot"
	case DistanceEuclid:
		return "euclid"
	case DistanceManhattan:
		return "manhattan"
	default:
		return "unknown"
	}
}

// HigherIsBetter reports whether a larger score denotes a closer match.
// Cosine and dot-product similarity both increase toward a better match;
// Euclid/Manhattan are distances where a smaller value is a better match,
// so the core negates them (Distance.RankScore) to keep every scorer's
// convention "higher score wins". The scores segment search and scoring
// return are these rank scores, so a Euclid/Manhattan result carries the
// negated distance.
func (d Distance) HigherIsBetter() bool {
	return d == DistanceCosine || d == DistanceDot
}

// VectorName identifies one of a point's named vectors.
type VectorName string

// DenseVector is a fixed-length array of floats.
type DenseVector []float32

// SparseVector holds sorted, unique indices with parallel values.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// MultiVector is an ordered sequence of fixed-dimension dense vectors
// aggregated under max-similarity (spec.md §3).
type MultiVector struct {
	Vectors [][]float32
}

// VectorKind tags which representation a NamedVectors entry carries.
type VectorKind int

const (
	VectorKindDense VectorKind = iota
	VectorKindSparse
	VectorKindMulti
)

// TypedVector is a closed tagged union over the three vector
// representations spec.md §3 defines. Exactly one field is meaningful,
// selected by Kind.
type TypedVector struct {
	Kind   VectorKind
	Dense  DenseVector
	Sparse SparseVector
	Multi  MultiVector
}

// NamedVectors is the mapping from vector name to typed vector a point
// carries (spec.md §3).
type NamedVectors map[VectorName]TypedVector

// PointStruct is the unit of a write operation: an external id, its named
// vectors, its payload, and the write's version (spec.md §3, §6).
type PointStruct struct {
	ID      PointID
	Vectors NamedVectors
	Payload Payload
	Version uint64
}

// ScoredID pairs a search result's external id with the similarity score its
// segment computed, in the convention Distance.HigherIsBetter describes.
type ScoredID struct {
	ID    PointID
	Score float32
}
