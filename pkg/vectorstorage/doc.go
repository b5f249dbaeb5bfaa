/*
Package vectorstorage holds one named vector's raw values for every
internal id in a segment: dense, sparse, or multi-dense, plus an optional
int8 scalar-quantization overlay (spec.md §3, §4.2 "quantized if available
and not disabled"). Overlay scores are used as they are; nothing here
rescores them against the raw vectors.

Storage is a plain in-RAM map keyed by internal id; the mmap-backed variant
spec.md §6 describes ("vectors/ chunked mmap arrays") is a drop-in swap
behind the same Storage interface and is not implemented here — every
segment this package serves fits comfortably in RAM at the scale this
exercise targets, and adding an mmap path with no way to exercise it under
test would be unverified code, not a feature.
*/
package vectorstorage
