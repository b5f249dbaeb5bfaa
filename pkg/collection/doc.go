// Package collection ties a consistent-hash ring (pkg/hashring), the
// resharding driver (pkg/reshard) and a set of local shards (pkg/shard)
// together into the unit spec.md's façade dispatches requests onto: a
// named collection with a fixed vector schema, routed either by explicit
// shard_key or by hashing the point id (spec.md §6, §9).
package collection
