/*
Package log provides structured logging for the search core using zerolog.

It wraps zerolog to give every package a consistently formatted, leveled
logger without threading a logger instance through every constructor call.
The global Logger is configured once via Init; callers scope it to their
component with WithComponent, or to a specific collection/shard/segment with
WithCollection/WithShard/WithSegment so that log lines from concurrent
segment optimizations or shard query fan-outs can be told apart.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	segLog := log.WithSegment(segmentID)
	segLog.Info().Int("points", n).Msg("segment sealed")

	shardLog := log.WithShard(collectionName, shardID)
	shardLog.Warn().Err(err).Msg("search timed out on segment")

# Notes

Debug level is verbose (HNSW candidate expansion, posting list walks) and is
not meant for production. Info is the default operational level; Warn/Error
are reserved for conditions a shard operator should act on. Never log raw
payload or vector contents — only ids, counts and durations.
*/
package log
