/*
Package payload stores each point's JSON payload and maintains the per-field
indices spec.md §3 enumerates: keyword, integer, float, bool, geo-point,
full-text, and datetime. Every index kind normalizes the values GetPath
extracts from a payload into string tokens and hands them to a
pkg/posting.Index, so filter evaluation and cardinality estimation share
one mechanism regardless of field kind.

Field indices are created with CreateFieldIndex and attach to a dotted path
(model.GetPath's grammar); a field can be dropped with DeleteFieldIndex
without touching the payload values themselves, which live in the segment's
payload store (a pkg/kvstore namespace keyed by internal id).
*/
package payload
