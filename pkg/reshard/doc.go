// Package reshard implements the three-stage resharding driver spec.md
// §4.6 describes: MigratingPoints (dual ring active, streaming points into
// the new shard), ReadHashRingCommitted (reads consult the new ring,
// writes still replicate to both), and WriteHashRingCommitted (writes use
// the new ring only, the old placement is pruned).
//
// The driver runs as a cancellable, retrying task (MAX_RETRY_COUNT = 3,
// linear backoff) rather than a cluster-consensus operation: proposing and
// committing hash-ring changes through a replicated log is explicitly out
// of scope (spec.md's non-core boundary excludes cluster-membership/
// consensus), so Hooks are plain callbacks a single-node caller supplies —
// pkg/collection wires them to its own pkg/hashring instance directly.
package reshard
