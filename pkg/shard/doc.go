// Package shard implements a local shard: the unit that owns a
// segmentholder.Holder and answers the write and read operations spec.md §6
// defines (upsert, set_payload, delete, create_field_index,
// delete_field_index, search, scroll, query, count, retrieve).
//
// Shard implements pkg/query's Executor interface directly, so a compiled
// PlannedQuery runs against the shard's own held segments with no extra
// adaptor layer, and pkg/reshard's TransferServer, so a resharding driver
// can stream points into a shard under migration.
package shard
