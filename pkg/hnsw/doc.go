/*
Package hnsw implements the hierarchical navigable small-world graph index
of spec.md §4.2: a multi-layer graph where layer 0 holds every point and
higher layers thin out geometrically, built with heuristic neighbor
selection and searched with a configurable beam width (`ef`).

Build parallelizes over a worker pool after a single-threaded warm-up phase
(the first WarmupSize inserts), the same shape as the teacher's scheduler
and reconciler ticker loops driving bounded concurrent work, here realized
with golang.org/x/sync/errgroup instead of a ticker since HNSW insertion is
one-shot batch work, not a recurring reconciliation loop. Build is
cancellable: every insert checks a shared stop flag between points and
aborts promptly (spec.md §5 "CPU-bound scorer loops do not suspend; they
poll a shared stop flag between points").

Filtered sub-graphs (spec.md §4.2) are modeled as independent Graph values
restricted to a payload-filtered subset of ids, one per block key, built
only by explicit FilteredGraphs.BuildBlock calls. Graph.Search does not
consult them and no other package builds them, so filtered search runs on
the main graph alone — see FilteredGraphs.

Discovery and Context search (spec.md §4.2, §6) rank candidates by a
positive/negative pair objective instead of a fixed query vector:
DiscoverySearch runs a Context search first to pick DiscoveryEntryPointCount
entry points, then searches the full discovery objective outward from
those entries, exactly as spec.md §4.2 describes.
*/
package hnsw
