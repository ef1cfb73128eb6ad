package client

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	cache, err := OpenCache(path)
	require.NoError(t, err)
	defer cache.Close()

	eng := New("hello")
	eng.LocalEdit("hello world")
	eng.Tick()

	require.NoError(t, cache.Save("alice", eng))

	restored, ok, err := cache.Load("alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, eng.Document(), restored.Document())
	assert.Equal(t, eng.Shadow(), restored.Shadow())

	clientV, serverV := eng.Versions()
	rClientV, rServerV := restored.Versions()
	assert.Equal(t, clientV, rClientV)
	assert.Equal(t, serverV, rServerV)
}

func TestCache_LoadMissingClientReturnsNotOk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	cache, err := OpenCache(path)
	require.NoError(t, err)
	defer cache.Close()

	_, ok, err := cache.Load("nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}
