/*
Package posting implements the per-field inverted index used to turn a
payload filter into a set of candidate internal ids before (or instead of)
a vector search (spec.md §4.1): a mutable list built during writes, an
immutable delta + bit-packed form (CompressedIndex) that a sealed
segment's indices are frozen into, and an intersection walk used to AND
together multiple filter clauses.

The mutable list is a sorted []model.InternalID per indexed field value,
append-friendly and good enough for index sizes the full-scan threshold
(HnswConfig.FullScanThresholdKB) already caps. Deleting a point before its
segment is sealed removes its ids from the mutable lists. The compressed
lists are never changed after they are built: their lengths, and so
CompressedIndex.EstimateCardinality, still count points deleted since, and
this package keeps no deletion bitmap; Segment.ReadFiltered drops such
ids by checking the segment's id tracker.
*/
package posting
