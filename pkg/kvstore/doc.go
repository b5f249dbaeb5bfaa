/*
Package kvstore provides the opaque, ordered byte-key store that backs
payload storage. It wraps bbolt the same way the teacher's pkg/storage
wraps it for cluster state: one bucket per namespace. Values are opaque
byte slices; callers choose their own encoding. Segment manifests are
plain files that pkg/segment writes itself, not entries in this store.

Unlike the teacher's BoltStore, which exposes one typed method pair per
entity (CreateNode/GetNode/...), this store exposes a generic
namespace-scoped byte-key API (Put/Get/Delete/Scan/Batch); its caller in
the search core, pkg/payload (handed the store through pkg/segment),
defines its own key encoding over the ordered-byte-range primitive.
*/
package kvstore
