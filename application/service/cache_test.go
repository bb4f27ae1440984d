package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDCache_AddAndContains(t *testing.T) {
	cache, err := newIDCache(8)
	require.NoError(t, err)

	cache.Add(10)
	assert.True(t, cache.Contains(10))
	assert.False(t, cache.Contains(11))

	cache.Remove(10)
	assert.False(t, cache.Contains(10))
}

func TestIDCache_EvictsOldestBeyondCapacity(t *testing.T) {
	cache, err := newIDCache(2)
	require.NoError(t, err)

	cache.Add(1)
	cache.Add(2)
	cache.Add(3)

	assert.False(t, cache.Contains(1), "oldest entry is evicted at capacity")
	assert.True(t, cache.Contains(2))
	assert.True(t, cache.Contains(3))
}

func TestIDCache_PurgeClearsAll(t *testing.T) {
	cache, err := newIDCache(4)
	require.NoError(t, err)

	cache.Add(1)
	cache.Add(2)
	cache.Purge()

	assert.False(t, cache.Contains(1))
	assert.False(t, cache.Contains(2))
}
