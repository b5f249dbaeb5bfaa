package segment

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/shardwave/shardwave/pkg/apierrors"
	"github.com/shardwave/shardwave/pkg/hnsw"
	"github.com/shardwave/shardwave/pkg/kvstore"
	"github.com/shardwave/shardwave/pkg/metrics"
	"github.com/shardwave/shardwave/pkg/model"
	"github.com/shardwave/shardwave/pkg/payload"
	"github.com/shardwave/shardwave/pkg/posting"
	"github.com/shardwave/shardwave/pkg/vectorstorage"
)

// vectorScorer adapts a vectorstorage.DenseStorage to hnsw.Scorer.
type vectorScorer struct{ s *vectorstorage.DenseStorage }

func (v vectorScorer) Score(id model.InternalID, query model.DenseVector) (float32, bool) {
	if overlay, ok := v.s.Quantized(); ok {
		if s, ok := overlay.Score(id, query); ok {
			return s, true
		}
	}
	return v.s.Score(id, query)
}

func (v vectorScorer) Vector(id model.InternalID) (model.DenseVector, bool) {
	return v.s.GetDense(id)
}

// namedIndex bundles one vector name's storage and (for dense vectors) its
// HNSW graph.
type namedIndex struct {
	params  model.VectorParams
	dense   *vectorstorage.DenseStorage
	sparse  *vectorstorage.SparseStorage
	multi   *vectorstorage.MultiStorage
	graph   *hnsw.Graph
}

// Segment is a self-contained shard slice: schema + mutable contents
// (spec.md §3, §4.3).
type Segment struct {
	ID     uint64
	Config model.CollectionConfig

	mu         sync.RWMutex
	tracker    *IDTracker
	vectors    map[model.VectorName]*namedIndex
	payloads   *payload.Store
	schema     *payload.Schema
	maxVersion uint64
	pointVer   map[model.InternalID]uint64
	sealed     bool
}

// New constructs an empty segment for cfg, ready to accept writes.
func New(id uint64, cfg model.CollectionConfig, kv kvstore.Store) *Segment {
	s := &Segment{
		ID:       id,
		Config:   cfg,
		tracker:  NewIDTracker(),
		vectors:  make(map[model.VectorName]*namedIndex),
		payloads: payload.NewStore(kv),
		schema:   payload.NewSchema(),
		pointVer: make(map[model.InternalID]uint64),
	}
	for name, params := range cfg.Vectors {
		ni := &namedIndex{params: params}
		switch {
		case params.Multivector:
			ni.multi = vectorstorage.NewMultiStorage(params.Distance)
		default:
			ni.dense = vectorstorage.NewDenseStorage(int(params.Size), params.Distance)
			hcfg := hnsw.Config{M: cfg.Hnsw.M, EfConstruct: cfg.Hnsw.EfConstruct, Ef: cfg.Hnsw.Ef}
			if cfg.Hnsw.PayloadM != nil {
				hcfg.PayloadM = *cfg.Hnsw.PayloadM
			}
			ni.graph = hnsw.New(hcfg, vectorScorer{s: ni.dense}, int64(id))
		}
		s.vectors[name] = ni
	}
	return s
}

// MaxVersion returns the highest version this segment has accepted.
func (s *Segment) MaxVersion() uint64 {
	return atomic.LoadUint64(&s.maxVersion)
}

// SegmentID returns the segment's id, for code that only holds a
// segmentholder.Segment interface value.
func (s *Segment) SegmentID() uint64 { return s.ID }

// PointCount returns the number of live (non-deleted) points.
func (s *Segment) PointCount() int {
	return s.tracker.LiveCount()
}

// Exists reports whether ext currently names a live point.
func (s *Segment) Exists(ext model.PointID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tracker.Lookup(ext)
	return ok
}

func (s *Segment) bumpMaxVersion(v uint64) {
	for {
		cur := atomic.LoadUint64(&s.maxVersion)
		if v <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&s.maxVersion, cur, v) {
			return
		}
	}
}

// acceptVersion applies spec.md §4.3's version-gating invariant: a write
// with a strictly smaller version than the point's stored one is ignored.
func (s *Segment) acceptVersion(id model.InternalID, v uint64) bool {
	if prior, ok := s.pointVer[id]; ok && v < prior {
		return false
	}
	s.pointVer[id] = v
	s.bumpMaxVersion(v)
	return true
}

// UpsertPoint inserts or updates a point's vectors, payload, and version.
// Returns false if the write was discarded by version gating.
func (s *Segment) UpsertPoint(ctx context.Context, version uint64, p model.PointStruct) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	internal := s.tracker.Assign(p.ID)
	if !s.acceptVersion(internal, version) {
		return false, nil
	}

	for name, tv := range p.Vectors {
		ni, ok := s.vectors[name]
		if !ok {
			return false, apierrors.ValidationErrorf("unknown vector name %q", name)
		}
		switch tv.Kind {
		case model.VectorKindDense:
			ni.dense.Put(internal, tv)
			if ni.graph != nil {
				ni.graph.Insert(internal, mustDense(ni.dense, internal), s.tracker.IsDeleted)
			}
		case model.VectorKindSparse:
			ni.sparse.Put(internal, tv)
		case model.VectorKindMulti:
			ni.multi.Put(internal, tv)
		}
	}

	if p.Payload != nil {
		if err := s.payloads.Set(internal, p.Payload); err != nil {
			return false, err
		}
		if err := s.schema.IndexPoint(internal, p.Payload); err != nil {
			return false, err
		}
	}
	s.schema.SetPointCount(s.tracker.LiveCount())
	return true, nil
}

func mustDense(s *vectorstorage.DenseStorage, id model.InternalID) model.DenseVector {
	v, _ := s.GetDense(id)
	return v
}

// SetPayload merges p into id's existing payload (or replaces it entirely
// when key is empty and replace is true), re-indexing the affected fields.
func (s *Segment) SetPayload(ctx context.Context, version uint64, ext model.PointID, p model.Payload, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	internal, ok := s.tracker.Lookup(ext)
	if !ok {
		return apierrors.NotFoundf("point %s", ext)
	}
	if !s.acceptVersion(internal, version) {
		return nil
	}

	prior, err := s.payloads.Get(internal)
	if err != nil {
		return err
	}
	if err := s.schema.RemovePoint(internal, prior); err != nil {
		return err
	}

	var next model.Payload
	if replace {
		next = p
	} else {
		next = prior.Clone()
		for k, v := range p {
			next[k] = v
		}
	}
	if err := s.payloads.Set(internal, next); err != nil {
		return err
	}
	return s.schema.IndexPoint(internal, next)
}

// DeletePayload removes the named keys from id's payload.
func (s *Segment) DeletePayload(ctx context.Context, version uint64, ext model.PointID, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	internal, ok := s.tracker.Lookup(ext)
	if !ok {
		return apierrors.NotFoundf("point %s", ext)
	}
	if !s.acceptVersion(internal, version) {
		return nil
	}
	prior, err := s.payloads.Get(internal)
	if err != nil {
		return err
	}
	if err := s.schema.RemovePoint(internal, prior); err != nil {
		return err
	}
	if err := s.payloads.DeleteFields(internal, keys); err != nil {
		return err
	}
	next, err := s.payloads.Get(internal)
	if err != nil {
		return err
	}
	return s.schema.IndexPoint(internal, next)
}

// DeletePoint tombstones ext (spec.md §4.3). The point's vectors/payload
// remain physically present until the segment is optimized away. Its
// entries are removed from the payload indices while they are still
// mutable; HNSW search skips it via IsDeleted, and ReadFiltered checks
// IsDeleted on whatever the indices still return.
func (s *Segment) DeletePoint(ctx context.Context, version uint64, ext model.PointID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	internal, ok := s.tracker.Lookup(ext)
	if !ok {
		return nil
	}
	if !s.acceptVersion(internal, version) {
		return nil
	}
	prior, _ := s.payloads.Get(internal)
	_ = s.schema.RemovePoint(internal, prior)
	_, _ = s.tracker.Delete(ext)
	s.schema.SetPointCount(s.tracker.LiveCount())
	return nil
}

// GetVector returns id's vector under vectorName.
func (s *Segment) GetVector(ext model.PointID, vectorName model.VectorName) (model.TypedVector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	internal, ok := s.tracker.Lookup(ext)
	if !ok {
		return model.TypedVector{}, false
	}
	ni, ok := s.vectors[vectorName]
	if !ok {
		return model.TypedVector{}, false
	}
	switch {
	case ni.dense != nil:
		return ni.dense.Get(internal)
	case ni.sparse != nil:
		return ni.sparse.Get(internal)
	case ni.multi != nil:
		return ni.multi.Get(internal)
	default:
		return model.TypedVector{}, false
	}
}

// GetPayload returns id's stored payload.
func (s *Segment) GetPayload(ext model.PointID) (model.Payload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	internal, ok := s.tracker.Lookup(ext)
	if !ok {
		return nil, false
	}
	p, err := s.payloads.Get(internal)
	if err != nil {
		return nil, false
	}
	return p, true
}

// IterPoints calls fn for every live point's external id.
func (s *Segment) IterPoints(fn func(model.PointID)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.tracker.IterLive(func(_ model.InternalID, ext model.PointID) { fn(ext) })
}

// ReadFiltered returns the external ids of live points matching tokens
// (already tokenized per pkg/payload's field-kind conventions) on path.
func (s *Segment) ReadFiltered(path string, tokens []string) ([]model.PointID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fi, ok := s.schema.Field(path)
	if !ok {
		return nil, apierrors.NotFoundf("field index %q", path)
	}
	var out []model.PointID
	for _, internal := range fi.MatchTokens(tokens) {
		if s.tracker.IsDeleted(internal) {
			continue
		}
		if ext, ok := s.tracker.ExternalID(internal); ok {
			out = append(out, ext)
		}
	}
	return out, nil
}

// ScoreFiltered brute-force scores exactly candidateExt against query,
// skipping the HNSW graph entirely. This is spec.md §4.1's plain-scan
// branch: taken instead of a graph walk when a filter's cardinality
// estimate is low enough that scoring the match set directly costs less
// than percolating it through the index.
func (s *Segment) ScoreFiltered(vectorName model.VectorName, query model.DenseVector, candidateExt []model.PointID, top int) ([]model.ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ni, ok := s.vectors[vectorName]
	if !ok || ni.dense == nil {
		return nil, apierrors.ValidationErrorf("vector %q is not a searchable dense vector", vectorName)
	}
	scorer := vectorScorer{s: ni.dense}
	out := make([]model.ScoredID, 0, len(candidateExt))
	for _, ext := range candidateExt {
		internal, ok := s.tracker.Lookup(ext)
		if !ok || s.tracker.IsDeleted(internal) {
			continue
		}
		score, ok := scorer.Score(internal, query)
		if !ok {
			continue
		}
		out = append(out, model.ScoredID{ID: ext, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out, nil
}

// Search runs a vector search over vectorName's HNSW graph, restricted to
// filterExt (nil = unrestricted, else a set of allowed external ids' Key())
// and excluding tombstoned points. Results carry the scorer's rank score
// (higher is better; the negated distance for Euclid/Manhattan).
func (s *Segment) Search(vectorName model.VectorName, query model.DenseVector, top int, ef int, filterExt map[string]bool) ([]model.ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ni, ok := s.vectors[vectorName]
	if !ok || ni.graph == nil {
		return nil, apierrors.ValidationErrorf("vector %q is not a searchable dense vector", vectorName)
	}
	var filter func(model.InternalID) bool
	if filterExt != nil {
		filter = func(id model.InternalID) bool {
			ext, ok := s.tracker.ExternalID(id)
			return ok && filterExt[ext.Key()]
		}
	}
	internalResults, visited := ni.graph.Search(query, top, ef, filter, s.tracker.IsDeleted)
	metrics.HnswVisitedNodes.Observe(float64(visited))
	scorer := vectorScorer{s: ni.dense}
	out := make([]model.ScoredID, 0, len(internalResults))
	for _, internal := range internalResults {
		ext, ok := s.tracker.ExternalID(internal)
		if !ok {
			continue
		}
		score, _ := scorer.Score(internal, query)
		out = append(out, model.ScoredID{ID: ext, Score: score})
	}
	return out, nil
}

// SearchDiscover runs spec.md §4.2's discovery objective over vectorName's
// HNSW graph: pairs steer the walk toward their positive side and away
// from their negative side, target breaks ties among equally-consistent
// candidates. With no pairs this degrades to a plain nearest search on
// target.
func (s *Segment) SearchDiscover(vectorName model.VectorName, target model.DenseVector, pairs []hnsw.Pair, top int, ef int, filterExt map[string]bool) ([]model.ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ni, ok := s.vectors[vectorName]
	if !ok || ni.graph == nil {
		return nil, apierrors.ValidationErrorf("vector %q is not a searchable dense vector", vectorName)
	}
	var filter func(model.InternalID) bool
	if filterExt != nil {
		filter = func(id model.InternalID) bool {
			ext, ok := s.tracker.ExternalID(id)
			return ok && filterExt[ext.Key()]
		}
	}
	internalResults := ni.graph.DiscoverySearch(target, pairs, top, ef, filter, s.tracker.IsDeleted)
	scorer := vectorScorer{s: ni.dense}
	out := make([]model.ScoredID, 0, len(internalResults))
	for _, internal := range internalResults {
		ext, ok := s.tracker.ExternalID(internal)
		if !ok {
			continue
		}
		score, _ := scorer.Score(internal, target)
		out = append(out, model.ScoredID{ID: ext, Score: score})
	}
	return out, nil
}

// SearchContext ranks points purely by how consistently they sit on the
// positive side of each pair, with no target vector (spec.md §6's Context
// query variant).
func (s *Segment) SearchContext(vectorName model.VectorName, pairs []hnsw.Pair, top int, ef int, filterExt map[string]bool) ([]model.ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ni, ok := s.vectors[vectorName]
	if !ok || ni.graph == nil {
		return nil, apierrors.ValidationErrorf("vector %q is not a searchable dense vector", vectorName)
	}
	var filter func(model.InternalID) bool
	if filterExt != nil {
		filter = func(id model.InternalID) bool {
			ext, ok := s.tracker.ExternalID(id)
			return ok && filterExt[ext.Key()]
		}
	}
	internalResults := ni.graph.ContextSearch(pairs, top, ef, filter, s.tracker.IsDeleted)
	out := make([]model.ScoredID, 0, len(internalResults))
	for _, internal := range internalResults {
		ext, ok := s.tracker.ExternalID(internal)
		if !ok {
			continue
		}
		score, _ := ni.graph.ScoreContext(internal, pairs)
		out = append(out, model.ScoredID{ID: ext, Score: score})
	}
	return out, nil
}

// EstimateCardinality reports path's indexed result-set estimate for tokens
// without evaluating the filter, for the shard's count/search strategy
// selection (spec.md §4.1, §6). ok is false if path has no field index.
func (s *Segment) EstimateCardinality(path string, tokens []string) (posting.Cardinality, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fi, ok := s.schema.Field(path)
	if !ok {
		return posting.Cardinality{}, false
	}
	return fi.EstimateCardinality(tokens), true
}

// CreateFieldIndex attaches a payload field index (spec.md §6).
func (s *Segment) CreateFieldIndex(path string, kind payload.FieldKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.schema.CreateFieldIndex(path, kind, s.tracker.LiveCount()); err != nil {
		return err
	}
	fi, _ := s.schema.Field(path)
	s.tracker.IterLive(func(internal model.InternalID, _ model.PointID) {
		p, err := s.payloads.Get(internal)
		if err == nil {
			_ = fi.Index(internal, p)
		}
	})
	return nil
}

// DeleteFieldIndex drops a payload field index.
func (s *Segment) DeleteFieldIndex(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema.DeleteFieldIndex(path)
}

// Seal freezes every field index into its immutable, delta+bit-packed
// compressed form (spec.md §4.1, §4.3's "sealed and optimized" lifecycle
// stage). Posting-list mutation (CreateFieldIndex's point re-indexing,
// upsert/payload updates) is rejected afterward via
// apierrors.ErrPreconditionFailed; point tombstoning still works, since
// deletions are already resolved against the tracker's live set at read
// time rather than by rewriting posting lists. Idempotent.
func (s *Segment) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema.Freeze()
	s.sealed = true
}

// Sealed reports whether Seal has already been called.
func (s *Segment) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed
}
