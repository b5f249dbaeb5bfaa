package reshard

import (
	"fmt"

	"github.com/shardwave/shardwave/pkg/hashring"
)

// Stage is one of the three resharding stages (spec.md §4.6).
type Stage int

const (
	MigratingPoints Stage = iota
	ReadHashRingCommitted
	WriteHashRingCommitted
)

func (s Stage) String() string {
	switch s {
	case MigratingPoints:
		return "migrating_points"
	case ReadHashRingCommitted:
		return "read_hash_ring_committed"
	case WriteHashRingCommitted:
		return "write_hash_ring_committed"
	default:
		return "unknown"
	}
}

// Key identifies one resharding operation: which peer is receiving the
// shard, which shard id is being populated, and the (optional) shard key
// grouping it belongs to.
type Key struct {
	PeerID   uint64
	ShardID  hashring.ShardID
	ShardKey string
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%s", k.PeerID, k.ShardID, k.ShardKey)
}

// State tracks one resharding operation's progress.
type State struct {
	Key   Key
	Stage Stage
}

// NewState starts a fresh resharding operation at its first stage.
func NewState(key Key) *State {
	return &State{Key: key, Stage: MigratingPoints}
}

// Matches reports whether s tracks key.
func (s *State) Matches(key Key) bool { return s.Key == key }
