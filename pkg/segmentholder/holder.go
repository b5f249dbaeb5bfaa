package segmentholder

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shardwave/shardwave/pkg/apierrors"
	"github.com/shardwave/shardwave/pkg/hnsw"
	"github.com/shardwave/shardwave/pkg/metrics"
	"github.com/shardwave/shardwave/pkg/model"
	"github.com/shardwave/shardwave/pkg/payload"
	"github.com/shardwave/shardwave/pkg/posting"
)

// Segment is the interface a shard's holder operates on. Both
// *segment.Segment and *ProxySegment satisfy it — the interface itself is
// the "LockedSegment ∈ {Original, Proxy}" tagged variant spec.md §4.3
// describes; Go's interfaces make a distinct wrapper enum unnecessary.
type Segment interface {
	SegmentID() uint64
	PointCount() int
	MaxVersion() uint64
	Exists(ext model.PointID) bool
	UpsertPoint(ctx context.Context, version uint64, p model.PointStruct) (bool, error)
	SetPayload(ctx context.Context, version uint64, ext model.PointID, p model.Payload, replace bool) error
	DeletePayload(ctx context.Context, version uint64, ext model.PointID, keys []string) error
	DeletePoint(ctx context.Context, version uint64, ext model.PointID) error
	GetVector(ext model.PointID, vectorName model.VectorName) (model.TypedVector, bool)
	GetPayload(ext model.PointID) (model.Payload, bool)
	IterPoints(fn func(model.PointID))
	ReadFiltered(path string, tokens []string) ([]model.PointID, error)
	EstimateCardinality(path string, tokens []string) (posting.Cardinality, bool)
	Search(vectorName model.VectorName, query model.DenseVector, top int, ef int, filterExt map[string]bool) ([]model.ScoredID, error)
	SearchDiscover(vectorName model.VectorName, target model.DenseVector, pairs []hnsw.Pair, top int, ef int, filterExt map[string]bool) ([]model.ScoredID, error)
	SearchContext(vectorName model.VectorName, pairs []hnsw.Pair, top int, ef int, filterExt map[string]bool) ([]model.ScoredID, error)
	ScoreFiltered(vectorName model.VectorName, query model.DenseVector, candidateExt []model.PointID, top int) ([]model.ScoredID, error)
	CreateFieldIndex(path string, kind payload.FieldKind) error
	DeleteFieldIndex(path string)
	Seal()
}

// reportSegmentHealth rolls a per-segment read/search outcome up into
// pkg/metrics' component health registry: a failing segment is the
// "segment quarantine" signal spec.md §2's health checker exists for, even
// though this repo has no scheduler that actually removes the segment from
// rotation. A segment that starts succeeding again clears its own entry.
func reportSegmentHealth(s Segment, err error) {
	name := fmt.Sprintf("segment:%d", s.SegmentID())
	if err != nil {
		metrics.UpdateComponent(name, false, err.Error())
		return
	}
	metrics.UpdateComponent(name, true, "ok")
}

// Holder owns the SegmentId -> Segment map for one shard (spec.md §4.3). It
// hands out segments under a reader/writer lock; structural changes
// (SwapNew) briefly take the write side while reads and in-place mutations
// only need the read side.
type Holder struct {
	mu       sync.RWMutex
	segments map[uint64]Segment
}

// NewHolder returns an empty holder.
func NewHolder() *Holder {
	return &Holder{segments: make(map[uint64]Segment)}
}

// Add registers seg under its own SegmentID.
func (h *Holder) Add(seg Segment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.segments[seg.SegmentID()] = seg
}

// Get returns the segment for id, if held.
func (h *Holder) Get(id uint64) (Segment, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.segments[id]
	return s, ok
}

// Remove drops id from the holder.
func (h *Holder) Remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.segments, id)
}

// All returns a snapshot of the currently held segments, safe to range over
// without holding the holder's lock.
func (h *Holder) All() []Segment {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Segment, 0, len(h.segments))
	for _, s := range h.segments {
		out = append(out, s)
	}
	return out
}

// PointCount sums every held segment's live point count, the denominator
// spec.md §4.1/§4.2 use for "no filter and few points" and the sample
// check's estimated absolute match count. It does not dedupe points a
// proxy segment shadows in its wrapped original; that only matters during
// optimization, where both a strategy estimate and a true scan tolerate a
// small overcount.
func (h *Holder) PointCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, s := range h.segments {
		n += s.PointCount()
	}
	return n
}

// AppendTarget returns the smallest segment (by live point count) to route
// a new point's upsert to, so oversized segments are left as read-only
// candidates for optimization (spec.md §4.3).
func (h *Holder) AppendTarget() (Segment, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var best Segment
	for _, s := range h.segments {
		if best == nil || s.PointCount() < best.PointCount() {
			best = s
		}
	}
	return best, best != nil
}

// SwapNew atomically removes replaced and installs newSeg under its own id,
// implementing spec.md §4.3's swap_new: the optimizer's merged replacement
// takes the place of every segment (or proxy) it superseded in one step, so
// no reader ever observes both the old and new segments' union.
func (h *Holder) SwapNew(newSeg Segment, replaced []uint64) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range replaced {
		delete(h.segments, id)
	}
	id := newSeg.SegmentID()
	h.segments[id] = newSeg
	return id
}

// UpsertPoint routes a new point's external id to the smallest appendable
// segment; an id already present in some other held segment is instead
// forwarded to that owning segment, preserving the bijection invariant
// across the holder (spec.md §4, "no duplicates").
func (h *Holder) UpsertPoint(ctx context.Context, version uint64, p model.PointStruct) (bool, error) {
	h.mu.RLock()
	for _, s := range h.segments {
		if s.Exists(p.ID) {
			h.mu.RUnlock()
			return s.UpsertPoint(ctx, version, p)
		}
	}
	h.mu.RUnlock()

	target, ok := h.AppendTarget()
	if !ok {
		return false, apierrors.ServiceErrorf("no segment available to receive point %s", p.ID)
	}
	return target.UpsertPoint(ctx, version, p)
}

// ExistsAny reports whether any held segment currently has ext live.
func (h *Holder) ExistsAny(ext model.PointID) bool {
	_, ok := h.find(ext)
	return ok
}

// find locates the segment currently holding ext, if any.
func (h *Holder) find(ext model.PointID) (Segment, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.segments {
		if s.Exists(ext) {
			return s, true
		}
	}
	return nil, false
}

// SetPayload forwards to the segment currently owning ext.
func (h *Holder) SetPayload(ctx context.Context, version uint64, ext model.PointID, p model.Payload, replace bool) error {
	s, ok := h.find(ext)
	if !ok {
		return apierrors.NotFoundf("point %s", ext)
	}
	return s.SetPayload(ctx, version, ext, p, replace)
}

// DeletePayload forwards to the segment currently owning ext.
func (h *Holder) DeletePayload(ctx context.Context, version uint64, ext model.PointID, keys []string) error {
	s, ok := h.find(ext)
	if !ok {
		return apierrors.NotFoundf("point %s", ext)
	}
	return s.DeletePayload(ctx, version, ext, keys)
}

// DeletePoint forwards to the segment currently owning ext.
func (h *Holder) DeletePoint(ctx context.Context, version uint64, ext model.PointID) error {
	s, ok := h.find(ext)
	if !ok {
		return nil
	}
	return s.DeletePoint(ctx, version, ext)
}

// GetVector fans out to whichever held segment owns ext.
func (h *Holder) GetVector(ext model.PointID, vectorName model.VectorName) (model.TypedVector, bool) {
	s, ok := h.find(ext)
	if !ok {
		return model.TypedVector{}, false
	}
	return s.GetVector(ext, vectorName)
}

// GetPayload fans out to whichever held segment owns ext.
func (h *Holder) GetPayload(ext model.PointID) (model.Payload, bool) {
	s, ok := h.find(ext)
	if !ok {
		return nil, false
	}
	return s.GetPayload(ext)
}

// IterPoints calls fn once per live external id across every held segment.
func (h *Holder) IterPoints(fn func(model.PointID)) {
	for _, s := range h.All() {
		s.IterPoints(fn)
	}
}

// ReadFiltered unions read_filtered results across every held segment.
func (h *Holder) ReadFiltered(path string, tokens []string) ([]model.PointID, error) {
	var out []model.PointID
	for _, s := range h.All() {
		ids, err := s.ReadFiltered(path, tokens)
		reportSegmentHealth(s, err)
		if err != nil {
			continue
		}
		out = append(out, ids...)
	}
	return out, nil
}

// Search fans a vector search out across every held segment and merges the
// per-segment top-k into one score-ordered, length-top result (spec.md §4.4:
// a shard's search is the union of its segments' candidates, truncated).
func (h *Holder) Search(vectorName model.VectorName, query model.DenseVector, top int, ef int, filterExt map[string]bool) ([]model.ScoredID, error) {
	segments := h.All()
	var merged []model.ScoredID
	var lastErr error
	for _, s := range segments {
		results, err := s.Search(vectorName, query, top, ef, filterExt)
		reportSegmentHealth(s, err)
		if err != nil {
			lastErr = err
			continue
		}
		merged = append(merged, results...)
	}
	if merged == nil && lastErr != nil {
		return nil, lastErr
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > top {
		merged = merged[:top]
	}
	return merged, nil
}

// SearchDiscover fans spec.md §4.2's discovery objective out across every
// held segment and merges the per-segment top-k the same way Search does.
func (h *Holder) SearchDiscover(vectorName model.VectorName, target model.DenseVector, pairs []hnsw.Pair, top int, ef int, filterExt map[string]bool) ([]model.ScoredID, error) {
	segments := h.All()
	var merged []model.ScoredID
	var lastErr error
	for _, s := range segments {
		results, err := s.SearchDiscover(vectorName, target, pairs, top, ef, filterExt)
		reportSegmentHealth(s, err)
		if err != nil {
			lastErr = err
			continue
		}
		merged = append(merged, results...)
	}
	if merged == nil && lastErr != nil {
		return nil, lastErr
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > top {
		merged = merged[:top]
	}
	return merged, nil
}

// SearchContext fans the Context query variant out across every held
// segment the same way Search does.
func (h *Holder) SearchContext(vectorName model.VectorName, pairs []hnsw.Pair, top int, ef int, filterExt map[string]bool) ([]model.ScoredID, error) {
	segments := h.All()
	var merged []model.ScoredID
	var lastErr error
	for _, s := range segments {
		results, err := s.SearchContext(vectorName, pairs, top, ef, filterExt)
		reportSegmentHealth(s, err)
		if err != nil {
			lastErr = err
			continue
		}
		merged = append(merged, results...)
	}
	if merged == nil && lastErr != nil {
		return nil, lastErr
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > top {
		merged = merged[:top]
	}
	return merged, nil
}

// ScoreFiltered fans the plain-scan branch out across every held segment:
// each segment scores whichever of candidateExt it actually holds and the
// results are merged and truncated to top, same shape as Search.
func (h *Holder) ScoreFiltered(vectorName model.VectorName, query model.DenseVector, candidateExt []model.PointID, top int) ([]model.ScoredID, error) {
	segments := h.All()
	var merged []model.ScoredID
	var lastErr error
	for _, s := range segments {
		results, err := s.ScoreFiltered(vectorName, query, candidateExt, top)
		reportSegmentHealth(s, err)
		if err != nil {
			lastErr = err
			continue
		}
		merged = append(merged, results...)
	}
	if merged == nil && lastErr != nil {
		return nil, lastErr
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if top > 0 && len(merged) > top {
		merged = merged[:top]
	}
	return merged, nil
}

// EstimateCardinality sums every held segment's estimate for path/tokens.
// Segments lacking the index are skipped; ok is false only when none of the
// held segments have it.
func (h *Holder) EstimateCardinality(path string, tokens []string) (posting.Cardinality, bool) {
	var total posting.Cardinality
	var any bool
	for _, s := range h.All() {
		c, ok := s.EstimateCardinality(path, tokens)
		if !ok {
			continue
		}
		any = true
		total.Min += c.Min
		total.Exp += c.Exp
		total.Max += c.Max
	}
	return total, any
}

// CreateFieldIndex creates path's field index on every held segment.
func (h *Holder) CreateFieldIndex(path string, kind payload.FieldKind) error {
	for _, s := range h.All() {
		if err := s.CreateFieldIndex(path, kind); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFieldIndex drops path's field index on every held segment.
func (h *Holder) DeleteFieldIndex(path string) {
	for _, s := range h.All() {
		s.DeleteFieldIndex(path)
	}
}

// Seal freezes every held segment's field indices into their immutable
// compressed form (spec.md §4.1, §4.3), e.g. once a shard stops taking
// further writes for the data it currently holds.
func (h *Holder) Seal() {
	for _, s := range h.All() {
		s.Seal()
	}
}

// SegmentKindCounts reports how many held segments are plain appendable
// segments versus proxy segments, for the metrics collector's gauge.
func (h *Holder) SegmentKindCounts() (appendable, proxy int) {
	for _, s := range h.All() {
		if _, ok := s.(*ProxySegment); ok {
			proxy++
		} else {
			appendable++
		}
	}
	return appendable, proxy
}
