package collection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"github.com/rs/zerolog"

	"github.com/shardwave/shardwave/pkg/apierrors"
	"github.com/shardwave/shardwave/pkg/events"
	"github.com/shardwave/shardwave/pkg/hashring"
	"github.com/shardwave/shardwave/pkg/log"
	"github.com/shardwave/shardwave/pkg/metrics"
	"github.com/shardwave/shardwave/pkg/model"
	"github.com/shardwave/shardwave/pkg/payload"
	"github.com/shardwave/shardwave/pkg/query"
	"github.com/shardwave/shardwave/pkg/reshard"
	"github.com/shardwave/shardwave/pkg/shard"
)

// Collection is a named collection's local view: its shards, the
// consistent-hash ring routing points across them, and any explicit
// shard_key groups (spec.md §6: "Shard routing is either by explicit
// shard_key ... or by hash-ring of the point id").
type Collection struct {
	Config model.CollectionConfig

	mu        sync.RWMutex
	ring      *hashring.HashRing
	shards    map[hashring.ShardID]*shard.Shard
	shardKeys map[string][]hashring.ShardID

	events *events.Broker
	log    zerolog.Logger
}

// New returns an empty collection with a fresh, single-mode ring.
func New(cfg model.CollectionConfig) *Collection {
	broker := events.NewBroker()
	broker.Start()
	c := &Collection{
		Config:    cfg,
		ring:      hashring.NewSingle(cfg.RingScale),
		shards:    make(map[hashring.ShardID]*shard.Shard),
		shardKeys: make(map[string][]hashring.ShardID),
		events:    broker,
		log:       log.WithCollection(cfg.Name),
	}
	c.PublishEvent(events.EventCollectionCreated, "collection created", map[string]string{"collection": cfg.Name})
	return c
}

// Events exposes the collection's event broker so callers can subscribe to
// its lifecycle and resharding events without this package depending on
// whatever consumes them.
func (c *Collection) Events() *events.Broker { return c.events }

// PublishEvent publishes a lifecycle event, stamping it with this
// collection's name so subscribers shared across collections can tell them
// apart.
func (c *Collection) PublishEvent(t events.EventType, message string, metadata map[string]string) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["collection"] = c.Config.Name
	c.events.Publish(&events.Event{Type: t, Message: message, Metadata: metadata})
}

// Close publishes EventCollectionDropped and then stops the collection's
// event broker; it is the last call made when tearing a collection down
// (e.g. dropping it).
func (c *Collection) Close() {
	c.PublishEvent(events.EventCollectionDropped, "collection dropped", nil)
	c.events.Stop()
}

// AddShard registers a locally hosted shard under id and places it on the
// ring.
func (c *Collection) AddShard(id hashring.ShardID, s *shard.Shard) {
	c.mu.Lock()
	c.shards[id] = s
	c.ring.Add(id)
	c.mu.Unlock()
	c.PublishEvent(events.EventShardAdded, "shard added", map[string]string{"shard_id": fmt.Sprint(id)})
}

// AddReshardingShard registers a new locally hosted shard and switches the
// ring into dual-ring resharding mode with id as the new side, ready for a
// subsequent StartReshard call to migrate points onto it (spec.md §4.6).
func (c *Collection) AddReshardingShard(id hashring.ShardID, s *shard.Shard) {
	c.mu.Lock()
	c.shards[id] = s
	c.ring.AddResharding(id)
	c.mu.Unlock()
	c.PublishEvent(events.EventShardAdded, "resharding shard added", map[string]string{"shard_id": fmt.Sprint(id)})
}

// AssignShardKey binds an explicit shard_key group to a fixed set of
// shards, bypassing the hash ring for requests naming that key.
func (c *Collection) AssignShardKey(key string, ids []hashring.ShardID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shardKeys[key] = append([]hashring.ShardID(nil), ids...)
}

// Ring exposes the collection's hash ring, for the resharding driver and
// cluster-membership wiring this package's caller owns.
func (c *Collection) Ring() *hashring.HashRing { return c.ring }

// Name returns the collection's configured name.
func (c *Collection) Name() string { return c.Config.Name }

// ShardCount reports how many shards are hosted locally.
func (c *Collection) ShardCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.shards)
}

// SegmentKindCounts sums appendable and proxy segment counts across every
// locally hosted shard, for the metrics collector's gauge.
func (c *Collection) SegmentKindCounts() (appendable, proxy int) {
	c.mu.RLock()
	shards := make([]*shard.Shard, 0, len(c.shards))
	for _, s := range c.shards {
		shards = append(shards, s)
	}
	c.mu.RUnlock()
	for _, s := range shards {
		a, p := s.Holder().SegmentKindCounts()
		appendable += a
		proxy += p
	}
	return appendable, proxy
}

func (c *Collection) shardByID(id hashring.ShardID) (*shard.Shard, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.shards[id]
	return s, ok
}

// shardsForKey resolves a routing key (a point id's Key(), or any other
// ring key) to its owning shard(s) — one in steady state, possibly two
// while the ring is mid-resharding (spec.md §4.6).
func (c *Collection) shardsForKey(key string) ([]*shard.Shard, error) {
	c.mu.RLock()
	ids := c.ring.Get(key)
	c.mu.RUnlock()
	if len(ids) == 0 {
		return nil, apierrors.ServiceErrorf("no shard owns routing key %q", key)
	}
	out := make([]*shard.Shard, 0, len(ids))
	for _, id := range ids {
		s, ok := c.shardByID(id)
		if !ok {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, apierrors.ServiceErrorf("routing key %q maps to shards not hosted locally", key)
	}
	return out, nil
}

// shardSet resolves an explicit shard_key to its assigned shards, or every
// locally hosted shard when shardKey is empty (a collection-wide
// scatter-gather).
func (c *Collection) shardSet(shardKey string) ([]*shard.Shard, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if shardKey != "" {
		ids, ok := c.shardKeys[shardKey]
		if !ok {
			return nil, apierrors.NotFoundf("shard_key %q", shardKey)
		}
		out := make([]*shard.Shard, 0, len(ids))
		for _, id := range ids {
			if s, ok := c.shards[id]; ok {
				out = append(out, s)
			}
		}
		return out, nil
	}
	out := make([]*shard.Shard, 0, len(c.shards))
	for _, s := range c.shards {
		out = append(out, s)
	}
	return out, nil
}

// Upsert routes each point by hash ring (dual-writing to both rings while
// resharding) and applies version to it on every shard it resolves to.
func (c *Collection) Upsert(ctx context.Context, version uint64, points []model.PointStruct) error {
	timer := metrics.NewTimer()
	err := c.upsert(ctx, version, points)
	timer.ObserveDurationVec(metrics.UpsertDuration, c.Config.Name)
	if err != nil {
		metrics.UpsertRequestsTotal.WithLabelValues(c.Config.Name, "error").Inc()
		return err
	}
	metrics.UpsertRequestsTotal.WithLabelValues(c.Config.Name, "ok").Inc()
	return nil
}

func (c *Collection) upsert(ctx context.Context, version uint64, points []model.PointStruct) error {
	for _, p := range points {
		shards, err := c.shardsForKey(p.ID.Key())
		if err != nil {
			return err
		}
		if err := writeToShards(shards, func(s *shard.Shard) error {
			return s.Upsert(ctx, version, []model.PointStruct{p})
		}); err != nil {
			return err
		}
	}
	return nil
}

// writeToShards applies write to every shard in shards — one in steady
// state, two while the ring is mid-resharding and a point's writes are
// dual-replicated (spec.md §4.6). A failure after at least one shard has
// already accepted the write leaves the replicas diverged, so it's
// reported as InconsistentShardFailure (spec.md §7: "quorum unmet")
// rather than the bare per-shard error.
func writeToShards(shards []*shard.Shard, write func(*shard.Shard) error) error {
	for i, s := range shards {
		if err := write(s); err != nil {
			if i > 0 {
				return apierrors.InconsistentShardFailuref("shard %d of %d accepted the write before a later shard failed: %v", i, len(shards), err)
			}
			return err
		}
	}
	return nil
}

// SetPayload routes each id by hash ring and merges/replaces its payload
// on every shard it resolves to.
func (c *Collection) SetPayload(ctx context.Context, version uint64, ids []model.PointID, p model.Payload, replace bool) error {
	for _, id := range ids {
		shards, err := c.shardsForKey(id.Key())
		if err != nil {
			return err
		}
		if err := writeToShards(shards, func(s *shard.Shard) error {
			return s.SetPayload(ctx, version, []model.PointID{id}, p, replace)
		}); err != nil {
			return err
		}
	}
	return nil
}

// DeletePayload routes each id by hash ring and removes keys from its
// payload on every shard it resolves to.
func (c *Collection) DeletePayload(ctx context.Context, version uint64, ids []model.PointID, keys []string) error {
	for _, id := range ids {
		shards, err := c.shardsForKey(id.Key())
		if err != nil {
			return err
		}
		if err := writeToShards(shards, func(s *shard.Shard) error {
			return s.DeletePayload(ctx, version, []model.PointID{id}, keys)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Delete routes each explicit id by hash ring and tombstones it.
func (c *Collection) Delete(ctx context.Context, version uint64, ids []model.PointID) error {
	err := c.delete(ctx, version, ids)
	if err != nil {
		metrics.DeleteRequestsTotal.WithLabelValues(c.Config.Name, "error").Inc()
		return err
	}
	metrics.DeleteRequestsTotal.WithLabelValues(c.Config.Name, "ok").Inc()
	return nil
}

func (c *Collection) delete(ctx context.Context, version uint64, ids []model.PointID) error {
	for _, id := range ids {
		shards, err := c.shardsForKey(id.Key())
		if err != nil {
			return err
		}
		if err := writeToShards(shards, func(s *shard.Shard) error {
			return s.Delete(ctx, version, shard.DeleteRequest{IDs: []model.PointID{id}})
		}); err != nil {
			return err
		}
	}
	return nil
}

// DeleteByFilter applies a payload-filter delete across shardKey's shards
// (every local shard when shardKey is empty), since a filter selector has
// no single ring key to route by.
func (c *Collection) DeleteByFilter(ctx context.Context, version uint64, filter query.Filter, shardKey string) error {
	shards, err := c.shardSet(shardKey)
	if err != nil {
		return err
	}
	for _, s := range shards {
		if err := s.Delete(ctx, version, shard.DeleteRequest{Filter: &filter}); err != nil {
			return err
		}
	}
	return nil
}

// CreateFieldIndex builds path's index on every locally hosted shard: the
// payload schema is uniform across a collection's shards.
func (c *Collection) CreateFieldIndex(path string, kind payload.FieldKind) error {
	shards, err := c.shardSet("")
	if err != nil {
		return err
	}
	for _, s := range shards {
		if err := s.CreateFieldIndex(path, kind); err != nil {
			return err
		}
	}
	return nil
}

// Seal freezes every locally hosted shard's segments into their immutable
// compressed posting form (spec.md §4.1, §4.3's sealed lifecycle stage),
// publishing EventSegmentSealed once per shard.
func (c *Collection) Seal() error {
	shards, err := c.shardSet("")
	if err != nil {
		return err
	}
	for _, s := range shards {
		s.Seal()
		c.PublishEvent(events.EventSegmentSealed, "shard segments sealed", map[string]string{"shard": fmt.Sprintf("%d", s.ID)})
	}
	return nil
}

// DeleteFieldIndex drops path's index from every locally hosted shard.
func (c *Collection) DeleteFieldIndex(path string) error {
	shards, err := c.shardSet("")
	if err != nil {
		return err
	}
	for _, s := range shards {
		s.DeleteFieldIndex(path)
	}
	return nil
}

// Retrieve fetches ids, resolving each to its owning shard(s) and taking
// the first hit (both ring sides can resolve to the same point mid-
// resharding; only one side actually holds it until migration completes).
func (c *Collection) Retrieve(ctx context.Context, ids []model.PointID, withPayload, withVector bool) (map[string]query.ScoredPoint, error) {
	out := make(map[string]query.ScoredPoint, len(ids))
	for _, id := range ids {
		shards, err := c.shardsForKey(id.Key())
		if err != nil {
			continue
		}
		for _, s := range shards {
			found, err := s.Retrieve(ctx, []model.PointID{id}, withPayload, withVector)
			if err != nil {
				return nil, err
			}
			if p, ok := found[id.Key()]; ok {
				out[id.Key()] = p
				break
			}
		}
	}
	return out, nil
}

// Count sums filter's match count across shardKey's shards.
func (c *Collection) Count(filter *query.Filter, exact bool, shardKey string) (int, error) {
	shards, err := c.shardSet(shardKey)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, s := range shards {
		n, err := s.Count(filter, exact)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Query scatter-gathers pq across shardKey's shards (every local shard when
// empty), merging each root plan's per-source lists by score across shards
// and re-applying its rescore limit (spec.md §4.5: the per-shard merge
// pkg/query performs is local to one shard; this is the collection-level
// merge across shards one level up).
func (c *Collection) Query(ctx context.Context, pq query.PlannedQuery, timeout time.Duration, shardKey string) ([]query.ShardQueryResponse, error) {
	timer := metrics.NewTimer()
	resp, err := c.query(ctx, pq, timeout, shardKey)
	timer.ObserveDurationVec(metrics.SearchDuration, c.Config.Name)
	metrics.QueryPrefetchDepth.WithLabelValues(c.Config.Name).Observe(float64(prefetchDepth(pq.RootPlans)))
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(c.Config.Name, "error").Inc()
		return nil, err
	}
	metrics.SearchRequestsTotal.WithLabelValues(c.Config.Name, "ok").Inc()
	return resp, nil
}

func (c *Collection) query(ctx context.Context, pq query.PlannedQuery, timeout time.Duration, shardKey string) ([]query.ShardQueryResponse, error) {
	shards, err := c.shardSet(shardKey)
	if err != nil {
		return nil, err
	}
	perShard := make([][]query.ShardQueryResponse, len(shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range shards {
		i, s := i, s
		g.Go(func() error {
			resp, err := s.Query(gctx, pq, timeout)
			if err != nil {
				return err
			}
			perShard[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeShardResponses(pq, perShard), nil
}

// prefetchDepth reports the deepest prefetch tree among plans, for the
// shardwave_query_prefetch_depth histogram.
func prefetchDepth(plans []query.MergePlan) int {
	max := 0
	for _, p := range plans {
		if d := mergePlanDepth(p); d > max {
			max = d
		}
	}
	return max
}

func mergePlanDepth(p query.MergePlan) int {
	max := 0
	for _, src := range p.Sources {
		if src.Prefetch == nil {
			continue
		}
		if d := 1 + mergePlanDepth(*src.Prefetch); d > max {
			max = d
		}
	}
	return max
}

func mergeShardResponses(pq query.PlannedQuery, perShard [][]query.ShardQueryResponse) []query.ShardQueryResponse {
	merged := make([]query.ShardQueryResponse, len(pq.RootPlans))
	for planIdx := range pq.RootPlans {
		maxLists := 0
		for _, resp := range perShard {
			if planIdx < len(resp) && len(resp[planIdx]) > maxLists {
				maxLists = len(resp[planIdx])
			}
		}
		response := make(query.ShardQueryResponse, maxLists)
		for listIdx := 0; listIdx < maxLists; listIdx++ {
			var combined []query.ScoredPoint
			for _, resp := range perShard {
				if planIdx < len(resp) && listIdx < len(resp[planIdx]) {
					combined = append(combined, resp[planIdx][listIdx]...)
				}
			}
			sort.Slice(combined, func(i, j int) bool { return combined[i].Score > combined[j].Score })
			if rp := pq.RootPlans[planIdx].RescoreParams; rp != nil && rp.Limit > 0 && len(combined) > rp.Limit {
				combined = combined[:rp.Limit]
			}
			response[listIdx] = combined
		}
		merged[planIdx] = response
	}
	return merged
}

// StartReshard drives a three-stage resharding operation (pkg/reshard) that
// populates target with the points donor no longer exclusively owns, wiring
// Hooks directly against this collection's own ring: Migrate streams the
// subset of donor's points the ring now routes to target
// (reshard.TransferServer.ReceivePoint), CommitReadRing is a no-op since
// Get/IsInShard already prefer the new ring side throughout resharding,
// CommitWriteRing collapses the ring to single mode, and
// PruneOldPlacement deletes the migrated points from donor. version stamps
// both the migrated writes and the (necessarily later) prune deletes so
// neither is discarded by version gating.
func (c *Collection) StartReshard(ctx context.Context, key reshard.Key, donor hashring.ShardID, version uint64, onFinish, onError func()) bool {
	target, ok := c.shardByID(key.ShardID)
	if !ok {
		c.log.Error().Uint32("shard", uint32(key.ShardID)).Msg("resharding target shard not hosted locally")
		metrics.UpdateComponent(shardComponent(key.ShardID), false, "resharding target shard not hosted locally")
		return false
	}
	donorShard, ok := c.shardByID(donor)
	if !ok {
		c.log.Error().Uint32("shard", uint32(donor)).Msg("resharding donor shard not hosted locally")
		metrics.UpdateComponent(shardComponent(donor), false, "resharding donor shard not hosted locally")
		return false
	}

	state := reshard.NewState(key)
	timer := metrics.NewTimer()
	reshardMeta := map[string]string{"shard_id": fmt.Sprint(key.ShardID), "shard_key": key.ShardKey}
	c.PublishEvent(events.EventReshardStarted, "resharding started", reshardMeta)
	hooks := reshard.Hooks{
		Migrate: func(ctx context.Context) error {
			metrics.ReshardingActive.WithLabelValues(c.Config.Name, reshard.MigratingPoints.String()).Inc()
			defer metrics.ReshardingActive.WithLabelValues(c.Config.Name, reshard.MigratingPoints.String()).Dec()
			c.PublishEvent(events.EventReshardMigrating, "migrating points", reshardMeta)
			c.mu.RLock()
			filter := c.ring.NewFilter(key.ShardID)
			c.mu.RUnlock()
			var migrateErr error
			donorShard.Holder().IterPoints(func(ext model.PointID) {
				if migrateErr != nil || !filter.Check(ext.Key()) {
					return
				}
				pl, _ := donorShard.Holder().GetPayload(ext)
				vecs := model.NamedVectors{}
				for name := range c.Config.Vectors {
					if v, ok := donorShard.Holder().GetVector(ext, name); ok {
						vecs[name] = v
					}
				}
				migrateErr = target.ReceivePoint(ctx, version, model.PointStruct{ID: ext, Vectors: vecs, Payload: pl})
			})
			return migrateErr
		},
		CommitReadRing: func(ctx context.Context) error {
			metrics.ReshardingActive.WithLabelValues(c.Config.Name, reshard.ReadHashRingCommitted.String()).Inc()
			defer metrics.ReshardingActive.WithLabelValues(c.Config.Name, reshard.ReadHashRingCommitted.String()).Dec()
			return nil
		},
		CommitWriteRing: func(ctx context.Context) error {
			metrics.ReshardingActive.WithLabelValues(c.Config.Name, reshard.WriteHashRingCommitted.String()).Inc()
			defer metrics.ReshardingActive.WithLabelValues(c.Config.Name, reshard.WriteHashRingCommitted.String()).Dec()
			c.mu.Lock()
			c.ring.CommitResharding()
			c.mu.Unlock()
			c.PublishEvent(events.EventReshardRingReady, "write hash ring committed", reshardMeta)
			return nil
		},
		PruneOldPlacement: func(ctx context.Context) error {
			c.mu.RLock()
			filter := c.ring.NewFilter(key.ShardID)
			c.mu.RUnlock()
			var ids []model.PointID
			donorShard.Holder().IterPoints(func(ext model.PointID) {
				if filter.Check(ext.Key()) {
					ids = append(ids, ext)
				}
			})
			return donorShard.Delete(ctx, version+1, shard.DeleteRequest{IDs: ids})
		},
		OnRetry: func(attempt int) {
			metrics.ReshardingAttemptsTotal.WithLabelValues(c.Config.Name, "retried").Inc()
		},
	}
	finished := reshard.RunTask(ctx, state, hooks, func() {
		metrics.ReshardingAttemptsTotal.WithLabelValues(c.Config.Name, "finished").Inc()
		metrics.ReshardingDuration.Observe(timer.Duration().Seconds())
		c.PublishEvent(events.EventReshardFinished, "resharding finished", reshardMeta)
		metrics.UpdateComponent(shardComponent(key.ShardID), true, "resharding finished")
		metrics.UpdateComponent(shardComponent(donor), true, "resharding finished")
		if onFinish != nil {
			onFinish()
		}
	}, func() {
		metrics.ReshardingAttemptsTotal.WithLabelValues(c.Config.Name, "failed").Inc()
		c.PublishEvent(events.EventReshardFailed, "resharding failed", reshardMeta)
		metrics.UpdateComponent(shardComponent(key.ShardID), false, "resharding failed after retries")
		metrics.UpdateComponent(shardComponent(donor), false, "resharding failed after retries")
		if onError != nil {
			onError()
		}
	})
	return finished
}

// shardComponent names a shard's entry in pkg/metrics' component health
// registry, the "shard degradation" signal spec.md §2's health checker is
// for: a shard that just failed to receive or give up its resharded points
// is reported unhealthy until a later resharding attempt succeeds.
func shardComponent(id hashring.ShardID) string {
	return fmt.Sprintf("shard:%d", id)
}
