package hashring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shardwave/shardwave/pkg/apierrors"
)

func TestFairRingDistributesAcrossShards(t *testing.T) {
	r := newFair(100)
	r.Add(5)
	r.Add(7)
	r.Add(8)
	r.Add(20)

	for i := 0; i < 20; i++ {
		shard, ok := r.Get(string(rune('a' + i)))
		require.True(t, ok)
		assert.Contains(t, []ShardID{5, 7, 8, 20}, shard)
	}
}

func TestFairRingRepartitionsOnAdd(t *testing.T) {
	r := newFair(100)
	r.Add(1)
	r.Add(2)
	r.Add(3)

	keys := make([]string, 100)
	pre := make([]ShardID, 100)
	for i := range keys {
		keys[i] = string(rune(i))
		pre[i], _ = r.Get(keys[i])
	}

	r.Add(4)

	changed := false
	for i := range keys {
		post, _ := r.Get(keys[i])
		if post != pre[i] {
			changed = true
			assert.Equal(t, ShardID(4), post)
		}
	}
	assert.True(t, changed)
}

func TestHashRingSingleGet(t *testing.T) {
	r := NewSingle(0)
	r.Add(1)
	r.Add(2)
	shards := r.Get("point-1")
	require.Len(t, shards, 1)
}

func TestHashRingResharding(t *testing.T) {
	r := NewSingle(0)
	r.Add(1)
	r.Add(2)
	assert.False(t, r.IsResharding())

	r.AddResharding(3)
	assert.True(t, r.IsResharding())

	nodes := r.UniqueNodes()
	assert.True(t, nodes[1] && nodes[2] && nodes[3])
}

func TestHashRingCommitResharding(t *testing.T) {
	r := NewSingle(0)
	r.Add(1)
	r.AddResharding(2)
	ok := r.CommitResharding()
	assert.True(t, ok)
	assert.False(t, r.IsResharding())

	assert.False(t, r.CommitResharding())
}

func TestHashRingRemoveReshardingCleanCase(t *testing.T) {
	r := NewSingle(0)
	r.Add(1)
	r.AddResharding(2)

	removed, err := r.RemoveResharding(2)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, r.IsResharding())
}

func TestHashRingRemoveReshardingBothRingsIsPreconditionFailed(t *testing.T) {
	r := NewSingle(0)
	r.Add(1)
	r.Add(2)
	r.AddResharding(3)

	removed, err := r.RemoveResharding(1)
	assert.False(t, removed)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrPreconditionFailed)
}

func TestHashRingGetDedupesDuringResharding(t *testing.T) {
	r := NewSingle(0)
	r.Add(1)
	r.AddResharding(2)

	for i := 0; i < 50; i++ {
		key := string(rune('a' + i))
		shards := r.Get(key)
		assert.LessOrEqual(t, len(shards), 2)
	}
}

func TestHashRingIsInShardConsultsNewRing(t *testing.T) {
	r := NewSingle(0)
	r.Add(1)
	shard, ok := r.new.Get("point-1")
	require.True(t, ok)
	assert.True(t, r.IsInShard("point-1", shard))
}

func TestFilterChecksTargetShard(t *testing.T) {
	r := NewSingle(0)
	r.Add(1)
	r.Add(2)
	shard, ok := r.new.Get("point-1")
	require.True(t, ok)
	f := r.NewFilter(shard)
	assert.True(t, f.Check("point-1"))
}
