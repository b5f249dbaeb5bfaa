// Package segmentholder owns the map of a shard's segments and the
// copy-on-write proxy that lets an optimizer build a replacement segment
// while concurrent writers and readers keep going (spec.md §4.3).
//
// The holder hands out segments under a reader/writer lock; structural
// changes (swap_new) briefly take the write side, matching spec.md §4.3's
// "shared resources" guidance. A ProxySegment is a tagged wrapper, not a
// new storage engine: it routes writes into a fresh write segment and
// tracks which external ids of the wrapped segment it has shadowed.
package segmentholder
