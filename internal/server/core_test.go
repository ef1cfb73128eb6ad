package server

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/diffmatch"
	"collabtext/internal/logging"
	"collabtext/internal/protocol"
	"collabtext/internal/storage"
)

// memStore is an in-memory storage.Store used only by these tests; it
// mirrors the compare-and-swap contract the SQLite/Postgres backends
// implement, without needing a real database.
type memStore struct {
	mu      sync.Mutex
	records map[string]storage.Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]storage.Record)}
}

func (m *memStore) Load(_ context.Context, name string) (storage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		rec = storage.Record{Name: name, Content: storage.DefaultBody, Version: 1}
		m.records[name] = rec
	}
	return rec, nil
}

func (m *memStore) Save(_ context.Context, name, content string) (storage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.records[name]
	rec.Name = name
	rec.Content = content
	rec.Version++
	m.records[name] = rec
	return rec, nil
}

func (m *memStore) Close() error { return nil }

func newTestCore() *Core {
	return New(newMemStore(), "doc", logging.Nop())
}

func TestCore_OnConnectSeedsSessionFromMaster(t *testing.T) {
	core := newTestCore()

	ok, err := core.OnConnect(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.DefaultBody, ok.Content)
	assert.Equal(t, uint64(1), ok.Version)
	assert.Equal(t, 1, core.Registry().Len())
}

func TestCore_OnDisconnectRemovesSession(t *testing.T) {
	core := newTestCore()
	_, err := core.OnConnect(context.Background(), "alice")
	require.NoError(t, err)

	core.OnDisconnect("alice")
	assert.Equal(t, 0, core.Registry().Len())
}

func TestCore_OnClientSyncUpdatesMasterAndReturnsDiff(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	connectOk, err := core.OnConnect(ctx, "alice")
	require.NoError(t, err)

	newContent := connectOk.Content + " — edited by alice"
	checksum := diffmatch.Checksum(connectOk.Content)
	hunks := diffmatch.Diff(connectOk.Content, newContent)

	reply, err := core.OnClientSync(ctx, "alice", protocol.Batch{
		SourceVersion: 0,
		TargetVersion: 1,
		Checksum:      checksum,
		Hunks:         hunks,
	})
	require.NoError(t, err)
	assert.True(t, reply.IsEmpty(), "alice's own edit is already reflected in her shadow; the reply diff should be empty")

	sess, ok := core.Registry().Get("alice")
	require.True(t, ok)
	assert.Equal(t, newContent, sess.Shadow())
}

func TestCore_OnClientSyncFansOutToOtherSessions(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	aliceOk, err := core.OnConnect(ctx, "alice")
	require.NoError(t, err)
	_, err = core.OnConnect(ctx, "bob")
	require.NoError(t, err)

	newContent := aliceOk.Content + " and more"
	checksum := diffmatch.Checksum(aliceOk.Content)
	hunks := diffmatch.Diff(aliceOk.Content, newContent)

	_, err = core.OnClientSync(ctx, "alice", protocol.Batch{Checksum: checksum, Hunks: hunks, TargetVersion: 1})
	require.NoError(t, err)

	batch, ok := core.DequeueOutbound("bob")
	require.True(t, ok, "bob should have a queued fan-out batch reflecting alice's edit")
	got, applied := diffmatch.Apply(aliceOk.Content, batch.Hunks)
	for _, a := range applied {
		assert.True(t, a)
	}
	assert.Equal(t, newContent, got)

	// The outbox is bounded to one pending batch; dequeuing again before a
	// new fan-out finds nothing.
	_, ok = core.DequeueOutbound("bob")
	assert.False(t, ok)
}

func TestCore_OnClientSyncForcesResyncAfterChecksumPersists(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	_, err := core.OnConnect(ctx, "alice")
	require.NoError(t, err)

	_, err = core.OnClientSync(ctx, "alice", protocol.Batch{
		Checksum: "totally-wrong-and-not-recoverable",
		Hunks:    diffmatch.Diff("x", "y"),
	})
	assert.ErrorIs(t, err, ErrChecksumPersists)
}

func TestCore_OnClientSyncRecoversViaBackupShadow(t *testing.T) {
	core := newTestCore()
	ctx := context.Background()

	connectOk, err := core.OnConnect(ctx, "alice")
	require.NoError(t, err)

	sess, ok := core.Registry().Get("alice")
	require.True(t, ok)

	// Simulate a server restart mid-flight: the session's primary shadow
	// has already advanced, but the batch in flight was checksummed
	// against the backup (the shadow's value just before that advance).
	sess.mu.Lock()
	sess.backupShadow = connectOk.Content
	sess.shadow = connectOk.Content + " (a stale local change)"
	sess.mu.Unlock()

	checksum := diffmatch.Checksum(connectOk.Content)
	hunks := diffmatch.Diff(connectOk.Content, connectOk.Content+" appended")

	_, err = core.OnClientSync(ctx, "alice", protocol.Batch{Checksum: checksum, Hunks: hunks, TargetVersion: 2})
	assert.NoError(t, err)
}
