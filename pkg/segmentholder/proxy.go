package segmentholder

import (
	"context"
	"sort"
	"sync"

	"github.com/shardwave/shardwave/pkg/hnsw"
	"github.com/shardwave/shardwave/pkg/model"
	"github.com/shardwave/shardwave/pkg/payload"
	"github.com/shardwave/shardwave/pkg/posting"
)

// ProxySegment wraps (wrapped, write_segment, deleted_points,
// deleted_indexes, created_indexes) per spec.md §4.3. It exists only while
// an optimizer builds a replacement for wrapped: reads union write's
// contents with wrapped's, minus whatever write has shadowed; writes always
// land in write, copying the point across from wrapped on first touch.
type ProxySegment struct {
	wrapped Segment
	write   Segment

	mu             sync.RWMutex
	deletedPoints  map[string]bool        // wrapped external ids shadowed by write
	deletedIndexes map[string]bool        // field paths dropped in the proxy's view
	createdIndexes map[string]payload.FieldKind // field paths created in the proxy's view

	vectorNames []model.VectorName // names to copy across on first write
}

// NewProxySegment wraps an existing segment behind a fresh write segment,
// both expected to share the same collection config. wrapped stops
// accepting direct writes the moment it's wrapped — every subsequent
// mutation lands in write instead (see ensureCopied) — so it's sealed here,
// freezing its field indices into their immutable compressed form
// (spec.md §4.1, §4.3).
func NewProxySegment(wrapped, write Segment, vectorNames []model.VectorName) *ProxySegment {
	wrapped.Seal()
	return &ProxySegment{
		wrapped:        wrapped,
		write:          write,
		deletedPoints:  make(map[string]bool),
		deletedIndexes: make(map[string]bool),
		createdIndexes: make(map[string]payload.FieldKind),
		vectorNames:    vectorNames,
	}
}

// Seal freezes write's field indices. wrapped is already sealed as of
// NewProxySegment.
func (p *ProxySegment) Seal() {
	p.write.Seal()
}

// SegmentID reports wrapped's id: the proxy occupies wrapped's slot in the
// holder until it commits into a merged segment via SwapNew.
func (p *ProxySegment) SegmentID() uint64 { return p.wrapped.SegmentID() }

func (p *ProxySegment) isShadowed(ext model.PointID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.deletedPoints[ext.Key()]
}

func (p *ProxySegment) shadow(ext model.PointID) {
	p.mu.Lock()
	p.deletedPoints[ext.Key()] = true
	p.mu.Unlock()
}

// ensureCopied copies ext's current vectors and payload from wrapped into
// write on first write, then marks it shadowed in wrapped (spec.md §4.3:
// "its point is copied on first write, then mutated in the proxy and
// marked deleted in wrapped's shadow set").
func (p *ProxySegment) ensureCopied(ctx context.Context, ext model.PointID) {
	if p.write.Exists(ext) || p.isShadowed(ext) {
		return
	}
	if !p.wrapped.Exists(ext) {
		return
	}
	vecs := model.NamedVectors{}
	for _, name := range p.vectorNames {
		if v, ok := p.wrapped.GetVector(ext, name); ok {
			vecs[name] = v
		}
	}
	pl, _ := p.wrapped.GetPayload(ext)
	_, _ = p.write.UpsertPoint(ctx, p.wrapped.MaxVersion(), model.PointStruct{ID: ext, Vectors: vecs, Payload: pl})
	p.shadow(ext)
}

// PointCount estimates the union's live size: write's own points plus
// wrapped's points it hasn't shadowed.
func (p *ProxySegment) PointCount() int {
	count := 0
	p.write.IterPoints(func(model.PointID) { count++ })
	p.wrapped.IterPoints(func(ext model.PointID) {
		if !p.isShadowed(ext) {
			count++
		}
	})
	return count
}

// MaxVersion reports the higher of write's and wrapped's max version.
func (p *ProxySegment) MaxVersion() uint64 {
	if v := p.write.MaxVersion(); v > p.wrapped.MaxVersion() {
		return v
	}
	return p.wrapped.MaxVersion()
}

// Exists reports whether ext is live in the proxy's merged view.
func (p *ProxySegment) Exists(ext model.PointID) bool {
	if p.write.Exists(ext) {
		return true
	}
	return p.wrapped.Exists(ext) && !p.isShadowed(ext)
}

// UpsertPoint copies ext across on first touch, then applies the upsert to
// write, which overlays onto whatever base vectors/payload were copied.
func (p *ProxySegment) UpsertPoint(ctx context.Context, version uint64, pt model.PointStruct) (bool, error) {
	p.ensureCopied(ctx, pt.ID)
	return p.write.UpsertPoint(ctx, version, pt)
}

func (p *ProxySegment) SetPayload(ctx context.Context, version uint64, ext model.PointID, pl model.Payload, replace bool) error {
	p.ensureCopied(ctx, ext)
	return p.write.SetPayload(ctx, version, ext, pl, replace)
}

func (p *ProxySegment) DeletePayload(ctx context.Context, version uint64, ext model.PointID, keys []string) error {
	p.ensureCopied(ctx, ext)
	return p.write.DeletePayload(ctx, version, ext, keys)
}

func (p *ProxySegment) DeletePoint(ctx context.Context, version uint64, ext model.PointID) error {
	p.ensureCopied(ctx, ext)
	return p.write.DeletePoint(ctx, version, ext)
}

// GetVector serves from write when the id has been shadowed or was
// created in the proxy; otherwise falls through to wrapped.
func (p *ProxySegment) GetVector(ext model.PointID, vectorName model.VectorName) (model.TypedVector, bool) {
	if v, ok := p.write.GetVector(ext, vectorName); ok {
		return v, true
	}
	if p.isShadowed(ext) {
		return model.TypedVector{}, false
	}
	return p.wrapped.GetVector(ext, vectorName)
}

func (p *ProxySegment) GetPayload(ext model.PointID) (model.Payload, bool) {
	if pl, ok := p.write.GetPayload(ext); ok {
		return pl, true
	}
	if p.isShadowed(ext) {
		return nil, false
	}
	return p.wrapped.GetPayload(ext)
}

// IterPoints unions write's live points with wrapped's, skipping anything
// write has shadowed.
func (p *ProxySegment) IterPoints(fn func(model.PointID)) {
	p.write.IterPoints(fn)
	p.wrapped.IterPoints(func(ext model.PointID) {
		if !p.isShadowed(ext) {
			fn(ext)
		}
	})
}

// ReadFiltered unions both segments' matches for path, skipping ids write
// has shadowed and dropping wrapped's contribution entirely once the proxy
// has deleted the index (the proxy's index-schema overlay). A path created
// only in the proxy has no backing index on wrapped yet, so its matches
// come solely from write until the optimizer commits a merged segment.
func (p *ProxySegment) ReadFiltered(path string, tokens []string) ([]model.PointID, error) {
	writeIDs, err := p.write.ReadFiltered(path, tokens)
	if err != nil {
		writeIDs = nil
	}
	p.mu.RLock()
	deleted := p.deletedIndexes[path]
	p.mu.RUnlock()
	if deleted {
		return writeIDs, nil
	}
	wrappedIDs, err := p.wrapped.ReadFiltered(path, tokens)
	if err != nil {
		return writeIDs, nil
	}
	seen := make(map[string]bool, len(writeIDs))
	out := make([]model.PointID, 0, len(writeIDs)+len(wrappedIDs))
	for _, id := range writeIDs {
		seen[id.Key()] = true
		out = append(out, id)
	}
	for _, id := range wrappedIDs {
		if seen[id.Key()] || p.isShadowed(id) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// Search unions both segments' top matches, preferring write's score for any
// id present in both (write always reflects the freshest copy) and
// discarding wrapped's contribution for anything write has shadowed; this is
// a genuine score-ordered merge since both segments report comparable scores
// under the same vector's distance. The proxy is a short-lived transitional
// state collapsed by the optimizer's commit, not a steady-state query path,
// so the extra allocation here is not a concern.
func (p *ProxySegment) Search(vectorName model.VectorName, query model.DenseVector, top int, ef int, filterExt map[string]bool) ([]model.ScoredID, error) {
	writeResults, err := p.write.Search(vectorName, query, top, ef, filterExt)
	if err != nil {
		writeResults = nil
	}
	wrappedResults, err := p.wrapped.Search(vectorName, query, top, ef, filterExt)
	if err != nil {
		wrappedResults = nil
	}
	seen := make(map[string]bool, len(writeResults))
	merged := make([]model.ScoredID, 0, len(writeResults)+len(wrappedResults))
	for _, r := range writeResults {
		seen[r.ID.Key()] = true
		merged = append(merged, r)
	}
	for _, r := range wrappedResults {
		if seen[r.ID.Key()] || p.isShadowed(r.ID) {
			continue
		}
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > top {
		merged = merged[:top]
	}
	return merged, nil
}

// SearchDiscover mirrors Search's union-and-merge shape for spec.md §4.2's
// discovery objective.
func (p *ProxySegment) SearchDiscover(vectorName model.VectorName, target model.DenseVector, pairs []hnsw.Pair, top int, ef int, filterExt map[string]bool) ([]model.ScoredID, error) {
	writeResults, err := p.write.SearchDiscover(vectorName, target, pairs, top, ef, filterExt)
	if err != nil {
		writeResults = nil
	}
	wrappedResults, err := p.wrapped.SearchDiscover(vectorName, target, pairs, top, ef, filterExt)
	if err != nil {
		wrappedResults = nil
	}
	seen := make(map[string]bool, len(writeResults))
	merged := make([]model.ScoredID, 0, len(writeResults)+len(wrappedResults))
	for _, r := range writeResults {
		seen[r.ID.Key()] = true
		merged = append(merged, r)
	}
	for _, r := range wrappedResults {
		if seen[r.ID.Key()] || p.isShadowed(r.ID) {
			continue
		}
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > top {
		merged = merged[:top]
	}
	return merged, nil
}

// SearchContext mirrors Search's union-and-merge shape for spec.md §6's
// Context query variant.
func (p *ProxySegment) SearchContext(vectorName model.VectorName, pairs []hnsw.Pair, top int, ef int, filterExt map[string]bool) ([]model.ScoredID, error) {
	writeResults, err := p.write.SearchContext(vectorName, pairs, top, ef, filterExt)
	if err != nil {
		writeResults = nil
	}
	wrappedResults, err := p.wrapped.SearchContext(vectorName, pairs, top, ef, filterExt)
	if err != nil {
		wrappedResults = nil
	}
	seen := make(map[string]bool, len(writeResults))
	merged := make([]model.ScoredID, 0, len(writeResults)+len(wrappedResults))
	for _, r := range writeResults {
		seen[r.ID.Key()] = true
		merged = append(merged, r)
	}
	for _, r := range wrappedResults {
		if seen[r.ID.Key()] || p.isShadowed(r.ID) {
			continue
		}
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > top {
		merged = merged[:top]
	}
	return merged, nil
}

// ScoreFiltered unions write and wrapped's plain-scan results, same
// shadow/dedup rule as Search.
func (p *ProxySegment) ScoreFiltered(vectorName model.VectorName, query model.DenseVector, candidateExt []model.PointID, top int) ([]model.ScoredID, error) {
	writeResults, err := p.write.ScoreFiltered(vectorName, query, candidateExt, top)
	if err != nil {
		writeResults = nil
	}
	wrappedResults, err := p.wrapped.ScoreFiltered(vectorName, query, candidateExt, top)
	if err != nil {
		wrappedResults = nil
	}
	seen := make(map[string]bool, len(writeResults))
	merged := make([]model.ScoredID, 0, len(writeResults)+len(wrappedResults))
	for _, r := range writeResults {
		seen[r.ID.Key()] = true
		merged = append(merged, r)
	}
	for _, r := range wrappedResults {
		if seen[r.ID.Key()] || p.isShadowed(r.ID) {
			continue
		}
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if top > 0 && len(merged) > top {
		merged = merged[:top]
	}
	return merged, nil
}

// EstimateCardinality reports write's estimate, since write always holds the
// proxy's current index state for path; wrapped's index is consulted only
// when write hasn't built one of its own (the path hasn't been touched since
// the proxy was created) and the proxy hasn't deleted it.
func (p *ProxySegment) EstimateCardinality(path string, tokens []string) (posting.Cardinality, bool) {
	if c, ok := p.write.EstimateCardinality(path, tokens); ok {
		return c, true
	}
	p.mu.RLock()
	deleted := p.deletedIndexes[path]
	p.mu.RUnlock()
	if deleted {
		return posting.Cardinality{}, false
	}
	return p.wrapped.EstimateCardinality(path, tokens)
}

// CreateFieldIndex creates path on write and records it as proxy-created so
// ReadFiltered knows its wrapped-side contribution is intentionally absent.
func (p *ProxySegment) CreateFieldIndex(path string, kind payload.FieldKind) error {
	p.mu.Lock()
	p.createdIndexes[path] = kind
	delete(p.deletedIndexes, path)
	p.mu.Unlock()
	return p.write.CreateFieldIndex(path, kind)
}

// DeleteFieldIndex marks path deleted in the proxy's overlay and drops it
// from write.
func (p *ProxySegment) DeleteFieldIndex(path string) {
	p.mu.Lock()
	p.deletedIndexes[path] = true
	delete(p.createdIndexes, path)
	p.mu.Unlock()
	p.write.DeleteFieldIndex(path)
}
