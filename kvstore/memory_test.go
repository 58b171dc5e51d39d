package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "k", "v1"))
	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestMemoryRPopLPushIsAtomicMove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.RPush(ctx, "main", "a"))
	require.NoError(t, m.RPush(ctx, "main", "b"))

	v, ok, err := m.RPopLPush(ctx, "main", "pending")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", v)

	all, err := m.HGetAll(ctx, "pending")
	require.NoError(t, err)
	assert.Empty(t, all) // pending is a list, not a hash; sanity check only

	require.NoError(t, m.LRem(ctx, "pending", "b"))

	_, ok, err = m.RPopLPush(ctx, "pending", "main")
	require.NoError(t, err)
	assert.False(t, ok, "pending should be empty after LRem")
}

func TestMemoryHashLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.HSet(ctx, "meta", "id1", "payload"))
	v, ok, err := m.HGet(ctx, "meta", "id1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "payload", v)

	deleted, err := m.HDel(ctx, "meta", "id1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = m.HDel(ctx, "meta", "id1")
	require.NoError(t, err)
	assert.False(t, deleted, "second delete of same field is a no-op")
}

func TestMemoryKeysGlob(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.HSet(ctx, "pending_q:topicA_meta", "id1", "x"))
	require.NoError(t, m.HSet(ctx, "pending_q:topicB_meta", "id2", "y"))
	require.NoError(t, m.Set(ctx, "q:topicA", "irrelevant"))

	keys, err := m.Keys(ctx, "pending_q:*_meta")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pending_q:topicA_meta", "pending_q:topicB_meta"}, keys)
}
