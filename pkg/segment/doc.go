/*
Package segment implements the self-contained shard-slice of spec.md §3/§4.3:
an id-tracker (external↔internal bijection plus a deletion bitmap), one
vector storage and HNSW graph per named vector, a payload store with its
field indices, and a monotonically advancing max_version used to gate
writes.

A Segment offers exactly the operation set spec.md §4.3 names:
upsert_point, set_payload, delete_payload, delete_point, read_filtered,
search, get_vector, iter_points, flush. Persistence uses the teacher's
write-then-rename convention (pkg/kvstore's bbolt file is itself opened
once and never torn down mid-write; here the segment's JSON manifest
follows the same contract explicitly: write to a .tmp path, then
os.Rename) so a crash mid-flush leaves either the previous manifest or the
fully written new one, never a partial file (spec.md §6).
*/
package segment
