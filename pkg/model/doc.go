/*
Package model holds the core data model shared by every layer of the search
core: points, named vectors (dense/sparse/multi-dense), payloads, and the
collection/HNSW/quantization configuration that governs how a collection's
shards are built (spec.md §3).

Nothing in this package touches storage or concurrency; it is the set of
value types that pkg/segment, pkg/hnsw, pkg/payload, and pkg/query all pass
around. Collection configuration can be loaded from a declarative YAML
manifest (LoadCollectionConfigYAML, in the style of the teacher's
cmd/warren/apply.go) or built in code; the on-disk per-segment manifest is
always JSON (config.json, spec.md §6).
*/
package model
