// Package hashring implements the consistent-hash shard router spec.md
// §4.4 describes: a ring mapping point keys to shards, in raw (one ring
// entry per shard) or fair (scale entries per shard, default 100, so a
// shard add/remove only repartitions ~1/N of the key space) form, plus the
// dual-ring Single/Resharding state machine used while a new shard is
// being populated.
//
// Unlike the source this is grounded on, ShardID is a concrete type
// rather than a generic parameter: the domain only ever keys shards by a
// dense integer id, so a generic HashRing[T] would buy nothing over a
// concrete one.
package hashring
