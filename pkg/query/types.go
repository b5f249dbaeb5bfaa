package query

import "github.com/shardwave/shardwave/pkg/model"

// ScoredPoint is one result row: an id, its score, and optionally its
// payload/vector (filled in only after the top-limit is known).
type ScoredPoint struct {
	ID         model.PointID
	Score      float32
	OrderValue float64
	Payload    model.Payload
	Vector     model.TypedVector
}

// Filter restricts a search or scroll to points matching every clause.
// HasIDs (when non-nil) is the has-id filter rescore stages build from the
// union of a prefetch's source ids; FieldPath/FieldTokens is a single
// payload-index clause, enough for the top-level request filters this
// package's callers build.
type Filter struct {
	HasIDs      map[string]bool
	FieldPath   string
	FieldTokens []string
}

// OrderBy names the payload field and direction a scroll should sort by.
type OrderBy struct {
	Field     string
	Ascending bool
}

// QueryKind tags a SearchRequest's vector objective — the subset of
// spec.md §6's top-level Query variant enum that resolves to a single
// per-segment HNSW walk. Fusion and OrderBy are rescore-stage concerns
// (see ScoringQuery) rather than search-request objectives.
type QueryKind int

const (
	QueryNearest QueryKind = iota
	QueryRecommend
	QueryDiscover
	QueryContext
)

// Pair is a (positive, negative) example vector used by Discover and
// Context requests (spec.md §6).
type Pair struct {
	Positive model.DenseVector
	Negative model.DenseVector
}

// SearchRequest is one entry of the flat search batch (spec.md §4.5).
// Query is the resolved objective vector: for QueryNearest, the query
// itself; for QueryDiscover, the discovery target; for QueryRecommend it
// is left zero and Positive/Negative are compiled into a target via
// AverageVectorRecommend before dispatch. QueryContext ignores Query and
// uses Pairs alone.
type SearchRequest struct {
	VectorName model.VectorName
	Kind       QueryKind
	Query      model.DenseVector
	Positive   []model.DenseVector
	Negative   []model.DenseVector
	Pairs      []Pair
	Top        int
	Ef         int
	Filter     *Filter
	// Exact forces spec.md §4.1's plain-scan branch regardless of filter
	// cardinality (the "exact flag ⇒ plain scan" case in the HNSW search
	// strategy selection).
	Exact       bool
	WithPayload bool
	WithVector  bool
}

// AverageVectorRecommend compiles Recommend's positive/negative example
// vectors into a single search target using the formula documented by the
// original implementation, confirmed rather than "fixed" per spec.md §9's
// open question: query = avg_pos + avg_pos - avg_neg (i.e. 2*avg_pos -
// avg_neg). With no negative examples this is just avg_pos.
func AverageVectorRecommend(positive, negative []model.DenseVector) model.DenseVector {
	avgPos := averageVector(positive)
	if len(negative) == 0 {
		return avgPos
	}
	avgNeg := averageVector(negative)
	out := make(model.DenseVector, len(avgPos))
	for i := range out {
		out[i] = avgPos[i] + avgPos[i] - avgNegAt(avgNeg, i)
	}
	return out
}

func avgNegAt(v model.DenseVector, i int) float32 {
	if i >= len(v) {
		return 0
	}
	return v[i]
}

func averageVector(vs []model.DenseVector) model.DenseVector {
	if len(vs) == 0 {
		return nil
	}
	dim := len(vs[0])
	sum := make(model.DenseVector, dim)
	for _, v := range vs {
		for i := 0; i < dim && i < len(v); i++ {
			sum[i] += v[i]
		}
	}
	n := float32(len(vs))
	for i := range sum {
		sum[i] /= n
	}
	return sum
}

// ScrollRequest is one entry of the flat scroll batch.
type ScrollRequest struct {
	Filter      *Filter
	Limit       int
	OrderBy     *OrderBy
	WithPayload bool
	WithVector  bool
}

// Fusion names a rank-fusion strategy. RRF is the only one spec.md defines.
type Fusion int

const Rrf Fusion = 0

// ScoringKind tags a ScoringQuery's variant.
type ScoringKind int

const (
	ScoringFusion ScoringKind = iota
	ScoringOrderBy
	ScoringVector
)

// ScoringQuery is the rescore stage's strategy: RRF fusion, a single
// order-by scroll, or a single vector-rescore search (spec.md §4.5).
type ScoringQuery struct {
	Kind       ScoringKind
	Fusion     Fusion
	OrderBy    OrderBy
	VectorName model.VectorName
	Vector     model.DenseVector
}

// RescoreParams configures a MergePlan's rescore stage.
type RescoreParams struct {
	Query         ScoringQuery
	ScoreThreshold *float32
	Limit          int
	WithPayload    bool
	WithVector     bool
}

// SourceKind tags a Source's variant.
type SourceKind int

const (
	SourceSearchIdx SourceKind = iota
	SourceScrollIdx
	SourcePrefetch
)

// Source is one input to a MergePlan: an index into the flat search or
// scroll batch, or a nested prefetch plan.
type Source struct {
	Kind     SourceKind
	Idx      int
	Prefetch *MergePlan
}

// MergePlan is one node of a root plan's prefetch tree (spec.md §4.5):
// sources feed into an optional rescore stage; with no rescore, the
// sources pass through unmodified (valid only at depth 0).
type MergePlan struct {
	Sources       []Source
	RescoreParams *RescoreParams
}

// PlannedQuery is the fully compiled request: flat search/scroll batches
// plus one root plan per logical query in the request.
type PlannedQuery struct {
	Searches  []SearchRequest
	Scrolls   []ScrollRequest
	RootPlans []MergePlan
}

// ShardQueryResponse is one root plan's result: normally a single fused
// list, or — when a plan has no rescore stage — the pass-through source
// lists in source order (valid only at depth 0).
type ShardQueryResponse [][]ScoredPoint
