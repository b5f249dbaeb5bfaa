package shard

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"github.com/rs/zerolog"

	"github.com/shardwave/shardwave/pkg/hnsw"
	"github.com/shardwave/shardwave/pkg/log"
	"github.com/shardwave/shardwave/pkg/metrics"
	"github.com/shardwave/shardwave/pkg/model"
	"github.com/shardwave/shardwave/pkg/payload"
	"github.com/shardwave/shardwave/pkg/query"
	"github.com/shardwave/shardwave/pkg/segmentholder"
)

// toHnswPairs adapts query.Pair (this package's request-shape type) to
// hnsw.Pair (the graph search's parameter type); the two are kept distinct
// so pkg/query doesn't need to import pkg/hnsw for a two-field struct.
func toHnswPairs(pairs []query.Pair) []hnsw.Pair {
	if pairs == nil {
		return nil
	}
	out := make([]hnsw.Pair, len(pairs))
	for i, p := range pairs {
		out[i] = hnsw.Pair{Positive: p.Positive, Negative: p.Negative}
	}
	return out
}

// Shard is a local shard: one collection's slice of points, held as a set
// of segments behind a segmentholder.Holder (spec.md §4, §6). It implements
// query.Executor directly, so a compiled PlannedQuery runs straight against
// its own segments.
type Shard struct {
	CollectionName string
	ID             uint32
	Config         model.CollectionConfig

	holder *segmentholder.Holder
	log    zerolog.Logger
}

// New returns an empty shard ready to accept segments via AddSegment.
func New(collectionName string, id uint32, cfg model.CollectionConfig) *Shard {
	return &Shard{
		CollectionName: collectionName,
		ID:             id,
		Config:         cfg,
		holder:         segmentholder.NewHolder(),
		log:            log.WithShard(collectionName, id),
	}
}

// AddSegment registers seg with the shard's holder. Used both at load time
// and by the segment optimizer when it installs a proxy or a merged result.
func (s *Shard) AddSegment(seg segmentholder.Segment) {
	s.holder.Add(seg)
}

// Holder exposes the underlying segment holder, for the optimizer and the
// collection layer's snapshot/transfer paths.
func (s *Shard) Holder() *segmentholder.Holder {
	return s.holder
}

// DeleteRequest selects points to delete either by explicit id list or by a
// payload filter (spec.md §6: "delete(shard, version, ids|filter)").
// Exactly one of IDs or Filter should be set.
type DeleteRequest struct {
	IDs    []model.PointID
	Filter *query.Filter
}

// Upsert applies version to every point in points, each independently
// version-gated by its owning segment (spec.md §6, §4.3).
func (s *Shard) Upsert(ctx context.Context, version uint64, points []model.PointStruct) error {
	for _, p := range points {
		if _, err := s.holder.UpsertPoint(ctx, version, p); err != nil {
			return err
		}
	}
	return nil
}

// SetPayload merges (or replaces, if replace) p into every id's payload.
func (s *Shard) SetPayload(ctx context.Context, version uint64, ids []model.PointID, p model.Payload, replace bool) error {
	for _, id := range ids {
		if err := s.holder.SetPayload(ctx, version, id, p, replace); err != nil {
			return err
		}
	}
	return nil
}

// DeletePayload removes keys from every id's payload.
func (s *Shard) DeletePayload(ctx context.Context, version uint64, ids []model.PointID, keys []string) error {
	for _, id := range ids {
		if err := s.holder.DeletePayload(ctx, version, id, keys); err != nil {
			return err
		}
	}
	return nil
}

// Delete tombstones every point req selects, resolving a filter selector
// through ReadFiltered first (spec.md §6).
func (s *Shard) Delete(ctx context.Context, version uint64, req DeleteRequest) error {
	ids := req.IDs
	if req.Filter != nil {
		resolved, err := s.resolveFilterIDs(req.Filter)
		if err != nil {
			return err
		}
		ids = append(ids, resolved...)
	}
	for _, id := range ids {
		if err := s.holder.DeletePoint(ctx, version, id); err != nil {
			return err
		}
	}
	return nil
}

// CreateFieldIndex builds path's index on every held segment.
func (s *Shard) CreateFieldIndex(path string, kind payload.FieldKind) error {
	return s.holder.CreateFieldIndex(path, kind)
}

// DeleteFieldIndex drops path's index from every held segment.
func (s *Shard) DeleteFieldIndex(path string) {
	s.holder.DeleteFieldIndex(path)
}

// Seal freezes every held segment's field indices (spec.md §4.1, §4.3's
// sealed lifecycle stage), converting their posting indices from the
// mutable to the immutable compressed form.
func (s *Shard) Seal() {
	s.holder.Seal()
}

// resolveFilterIDs turns a Filter into the concrete set of external ids it
// matches, intersecting HasIDs with a field-path match when both are set.
func (s *Shard) resolveFilterIDs(f *query.Filter) ([]model.PointID, error) {
	var fieldMatch []model.PointID
	if f.FieldPath != "" {
		var err error
		fieldMatch, err = s.holder.ReadFiltered(f.FieldPath, f.FieldTokens)
		if err != nil {
			return nil, err
		}
	}
	switch {
	case f.HasIDs != nil && f.FieldPath != "":
		out := make([]model.PointID, 0, len(fieldMatch))
		for _, id := range fieldMatch {
			if f.HasIDs[id.Key()] {
				out = append(out, id)
			}
		}
		return out, nil
	case f.HasIDs != nil:
		out := make([]model.PointID, 0, len(f.HasIDs))
		s.holder.IterPoints(func(id model.PointID) {
			if f.HasIDs[id.Key()] {
				out = append(out, id)
			}
		})
		return out, nil
	case f.FieldPath != "":
		return fieldMatch, nil
	default:
		var out []model.PointID
		s.holder.IterPoints(func(id model.PointID) { out = append(out, id) })
		return out, nil
	}
}

// sampleCheckSize bounds how many live ids the ambiguous-cardinality-zone
// branch samples to estimate a filter's absolute match count (spec.md
// §4.2 step 3 "sample check").
const sampleCheckSize = 1000

// avgVectorBytes is the per-vector byte size searchStrategy converts
// full_scan_threshold_kb through (spec.md §6).
func (s *Shard) avgVectorBytes(vectorName model.VectorName) uint32 {
	if vp, ok := s.Config.Vectors[vectorName]; ok {
		return vp.Size * 4
	}
	return 0
}

// allOrFilteredIDs resolves f the way resolveFilterIDs does, but also
// accepts a nil f (meaning "every live point"), for the branches of
// searchStrategy that plain-scan an unfiltered or exact request.
func (s *Shard) allOrFilteredIDs(f *query.Filter) ([]model.PointID, error) {
	if f == nil {
		var out []model.PointID
		s.holder.IterPoints(func(id model.PointID) { out = append(out, id) })
		return out, nil
	}
	return s.resolveFilterIDs(f)
}

// sampleMatchFraction draws up to sampleCheckSize live ids and reports the
// fraction of them matching f, spec.md §4.2 step 3's "sample check": used
// only in the ambiguous zone where neither cardinality bound alone decides
// the search strategy.
func (s *Shard) sampleMatchFraction(f *query.Filter) (float64, error) {
	matched, err := s.resolveFilterIDs(f)
	if err != nil {
		return 0, err
	}
	matchSet := make(map[string]bool, len(matched))
	for _, id := range matched {
		matchSet[id.Key()] = true
	}

	var sample []model.PointID
	s.holder.IterPoints(func(id model.PointID) {
		if len(sample) < sampleCheckSize {
			sample = append(sample, id)
		}
	})
	if len(sample) == 0 {
		return 0, nil
	}
	hits := 0
	for _, id := range sample {
		if matchSet[id.Key()] {
			hits++
		}
	}
	return float64(hits) / float64(len(sample)), nil
}

// searchStrategy picks one of spec.md §4.1's five branches for a filtered
// (or unfiltered) vector search: exact flag, no-filter-with-few-points,
// filtered-low-cardinality plain scan, filtered-high-cardinality HNSW
// walk, or — when cardinality is ambiguous — a sample-check decision.
// label is the metrics.FilteredSearchBranchTotal branch tag. When
// plainScan is true, candidates holds the exact ids to score directly;
// otherwise the caller should run an HNSW walk (with req.Filter still
// applied as a filter context).
func (s *Shard) searchStrategy(req query.SearchRequest) (label string, plainScan bool, candidates []model.PointID, err error) {
	if req.Exact {
		ids, err := s.allOrFilteredIDs(req.Filter)
		return "exact", true, ids, err
	}

	threshold := s.Config.Hnsw.FullScanThresholdPoints(s.avgVectorBytes(req.VectorName))

	if req.Filter == nil || (req.Filter.FieldPath == "" && req.Filter.HasIDs == nil) {
		if uint32(s.holder.PointCount()) < threshold {
			ids, err := s.allOrFilteredIDs(req.Filter)
			return "no_filter_small", true, ids, err
		}
		return "hnsw_walk", false, nil, nil
	}

	if req.Filter.FieldPath == "" {
		// A has-id-only filter (e.g. a rescore stage's fill) has no
		// posting-index cardinality to estimate from; walk the graph
		// with the filter as context, as before.
		return "hnsw_walk", false, nil, nil
	}

	c, ok := s.holder.EstimateCardinality(req.Filter.FieldPath, req.Filter.FieldTokens)
	if !ok {
		return "hnsw_walk", false, nil, nil
	}
	if c.Max >= 0 && uint32(c.Max) < threshold {
		ids, err := s.resolveFilterIDs(req.Filter)
		return "plain_scan", true, ids, err
	}
	if c.Min > 0 && uint32(c.Min) > threshold {
		return "hnsw_walk", false, nil, nil
	}

	frac, err := s.sampleMatchFraction(req.Filter)
	if err != nil {
		return "", false, nil, err
	}
	if frac*float64(s.holder.PointCount()) < float64(threshold) {
		ids, err := s.resolveFilterIDs(req.Filter)
		return "sample_check_plain_scan", true, ids, err
	}
	return "sample_check_hnsw_walk", false, nil, nil
}

// filterExtSet renders f into the allowed-external-id set segmentholder's
// Search expects (nil when f is nil: unrestricted).
func (s *Shard) filterExtSet(f *query.Filter) (map[string]bool, error) {
	if f == nil {
		return nil, nil
	}
	ids, err := s.resolveFilterIDs(f)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id.Key()] = true
	}
	return set, nil
}

// Count reports how many live points match filter. When filter is nil, it's
// every live point in the shard. exact forces a full scan instead of the
// indexed cardinality estimate (spec.md §6, §4.1).
func (s *Shard) Count(filter *query.Filter, exact bool) (int, error) {
	if filter == nil {
		n := 0
		s.holder.IterPoints(func(model.PointID) { n++ })
		return n, nil
	}
	if !exact && filter.FieldPath != "" && filter.HasIDs == nil {
		if c, ok := s.holder.EstimateCardinality(filter.FieldPath, filter.FieldTokens); ok {
			metrics.CardinalityEstimatesTotal.WithLabelValues(s.CollectionName).Inc()
			return c.Exp, nil
		}
	}
	ids, err := s.resolveFilterIDs(filter)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Retrieve fetches points by id, filling payload/vector on request
// (query.Executor).
func (s *Shard) Retrieve(ctx context.Context, ids []model.PointID, withPayload, withVector bool) (map[string]query.ScoredPoint, error) {
	out := make(map[string]query.ScoredPoint, len(ids))
	for _, id := range ids {
		if !s.holder.ExistsAny(id) {
			continue
		}
		p := query.ScoredPoint{ID: id}
		if withPayload {
			if pl, ok := s.holder.GetPayload(id); ok {
				p.Payload = pl
			}
		}
		if withVector {
			for name := range s.Config.Vectors {
				if v, ok := s.holder.GetVector(id, name); ok {
					p.Vector = v
					break
				}
			}
		}
		out[id.Key()] = p
	}
	return out, nil
}

// DoSearch runs every request in batch concurrently against the shard's
// held segments (query.Executor).
func (s *Shard) DoSearch(ctx context.Context, batch []query.SearchRequest) ([][]query.ScoredPoint, error) {
	out := make([][]query.ScoredPoint, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range batch {
		i, req := i, req
		g.Go(func() error {
			results, err := s.searchOne(gctx, req)
			if err != nil {
				return err
			}
			out[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Shard) searchOne(ctx context.Context, req query.SearchRequest) ([]query.ScoredPoint, error) {
	filterSet, err := s.filterExtSet(req.Filter)
	if err != nil {
		return nil, err
	}
	ef := req.Ef
	if ef == 0 {
		ef = int(s.Config.Hnsw.Ef)
	}

	var scored []model.ScoredID
	switch req.Kind {
	case query.QueryRecommend:
		target := query.AverageVectorRecommend(req.Positive, req.Negative)
		scored, err = s.holder.Search(req.VectorName, target, req.Top, ef, filterSet)
	case query.QueryDiscover:
		scored, err = s.holder.SearchDiscover(req.VectorName, req.Query, toHnswPairs(req.Pairs), req.Top, ef, filterSet)
	case query.QueryContext:
		scored, err = s.holder.SearchContext(req.VectorName, toHnswPairs(req.Pairs), req.Top, ef, filterSet)
	default:
		var label string
		var plainScan bool
		var candidates []model.PointID
		label, plainScan, candidates, err = s.searchStrategy(req)
		if err != nil {
			break
		}
		if label != "" {
			metrics.FilteredSearchBranchTotal.WithLabelValues(s.CollectionName, label).Inc()
		}
		if plainScan {
			scored, err = s.holder.ScoreFiltered(req.VectorName, req.Query, candidates, req.Top)
		} else {
			scored, err = s.holder.Search(req.VectorName, req.Query, req.Top, ef, filterSet)
		}
	}
	if err != nil {
		s.log.Warn().Str("vector", string(req.VectorName)).Err(err).Msg("search failed")
		return nil, err
	}
	out := make([]query.ScoredPoint, 0, len(scored))
	for _, r := range scored {
		p := query.ScoredPoint{ID: r.ID, Score: r.Score}
		if req.WithPayload {
			if pl, ok := s.holder.GetPayload(r.ID); ok {
				p.Payload = pl
			}
		}
		if req.WithVector {
			if v, ok := s.holder.GetVector(r.ID, req.VectorName); ok {
				p.Vector = v
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// DoScroll runs every request in batch concurrently (query.Executor).
func (s *Shard) DoScroll(ctx context.Context, batch []query.ScrollRequest) ([][]query.ScoredPoint, error) {
	out := make([][]query.ScoredPoint, len(batch))
	var g errgroup.Group
	for i, req := range batch {
		i, req := i, req
		g.Go(func() error {
			results, err := s.scrollOne(req)
			if err != nil {
				return err
			}
			out[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Shard) scrollOne(req query.ScrollRequest) ([]query.ScoredPoint, error) {
	ids, err := s.allOrFilteredIDs(req.Filter)
	if err != nil {
		return nil, err
	}
	points := make([]query.ScoredPoint, 0, len(ids))
	for _, id := range ids {
		p := query.ScoredPoint{ID: id}
		if req.OrderBy != nil {
			if pl, ok := s.holder.GetPayload(id); ok {
				p.OrderValue, _ = asOrderValue(pl[req.OrderBy.Field])
			}
		}
		points = append(points, p)
	}
	if req.OrderBy != nil {
		asc := req.OrderBy.Ascending
		sort.Slice(points, func(i, j int) bool {
			if asc {
				return points[i].OrderValue < points[j].OrderValue
			}
			return points[i].OrderValue > points[j].OrderValue
		})
	} else {
		sort.Slice(points, func(i, j int) bool { return points[i].ID.Key() < points[j].ID.Key() })
	}
	if req.Limit > 0 && len(points) > req.Limit {
		points = points[:req.Limit]
	}
	for i := range points {
		if req.WithPayload {
			if pl, ok := s.holder.GetPayload(points[i].ID); ok {
				points[i].Payload = pl
			}
		}
		if req.WithVector {
			for name := range s.Config.Vectors {
				if v, ok := s.holder.GetVector(points[i].ID, name); ok {
					points[i].Vector = v
					break
				}
			}
		}
	}
	return points, nil
}

func asOrderValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Query compiles a PlannedQuery against the shard's own segments
// (spec.md §4.5, §6).
func (s *Shard) Query(ctx context.Context, pq query.PlannedQuery, timeout time.Duration) ([]query.ShardQueryResponse, error) {
	return query.Execute(ctx, s, pq, timeout)
}

// ReceivePoint applies one migrated point during resharding
// (reshard.TransferServer).
func (s *Shard) ReceivePoint(ctx context.Context, version uint64, p model.PointStruct) error {
	_, err := s.holder.UpsertPoint(ctx, version, p)
	return err
}

var _ query.Executor = (*Shard)(nil)
