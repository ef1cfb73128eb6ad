package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/diffmatch"
	"collabtext/internal/protocol"
)

func TestEngine_TickIsIdempotentWhenNoLocalEdit(t *testing.T) {
	eng := New("hello world")

	first := eng.Tick()
	assert.True(t, first.IsEmpty())
	clientV, _ := eng.Versions()
	assert.Zero(t, clientV)

	second := eng.Tick()
	assert.True(t, second.IsEmpty())
	clientV, _ = eng.Versions()
	assert.Zero(t, clientV, "client version must not advance on an empty diff")
}

func TestEngine_TickAdvancesVersionOnlyWhenDirty(t *testing.T) {
	eng := New("hello")
	eng.LocalEdit("hello world")

	batch := eng.Tick()
	require.False(t, batch.IsEmpty())
	clientV, _ := eng.Versions()
	assert.Equal(t, uint64(1), clientV)
	assert.Equal(t, "hello world", eng.Shadow(), "Tick advances the shadow to the document it just diffed")

	// shadow is now "hello world", same as document; next tick is a no-op
	second := eng.Tick()
	assert.True(t, second.IsEmpty())
	clientV, _ = eng.Versions()
	assert.Equal(t, uint64(1), clientV)
}

func TestEngine_ReceiveAppliesToShadowAndDocument(t *testing.T) {
	eng := New("hello world")

	checksum := diffmatch.Checksum(eng.Shadow())
	hunks := diffmatch.Diff("hello world", "hello there world")
	batch := protocol.Batch{SourceVersion: 0, TargetVersion: 1, Checksum: checksum, Hunks: hunks}

	result, err := eng.Receive(batch)
	require.NoError(t, err)
	assert.True(t, result.LiveUpdate)
	assert.False(t, result.ResyncRequired)
	assert.Equal(t, "hello there world", eng.Document())
	assert.Equal(t, "hello there world", eng.Shadow())

	_, serverV := eng.Versions()
	assert.Equal(t, uint64(1), serverV)
}

func TestEngine_ReceiveDetectsChecksumMismatch(t *testing.T) {
	eng := New("hello world")

	batch := protocol.Batch{
		Checksum: "not-the-real-checksum",
		Hunks:    diffmatch.Diff("hello world", "goodbye world"),
	}

	result, err := eng.Receive(batch)
	require.NoError(t, err)
	assert.True(t, result.ResyncRequired)
	assert.Equal(t, "hello world", eng.Document(), "document must be untouched on a checksum mismatch")
}

func TestEngine_ReceiveFuzzilyPreservesConcurrentLocalEdit(t *testing.T) {
	eng := New("The quick brown fox jumps over the lazy dog")

	// A local, not-yet-ticked edit diverges the document from the shadow.
	eng.LocalEdit("The very quick brown fox jumps over the lazy dog")

	checksum := diffmatch.Checksum(eng.Shadow())
	hunks := diffmatch.Diff(
		"The quick brown fox jumps over the lazy dog",
		"The quick brown fox leaps over the lazy dog",
	)
	batch := protocol.Batch{Checksum: checksum, Hunks: hunks, TargetVersion: 1}

	result, err := eng.Receive(batch)
	require.NoError(t, err)
	assert.False(t, result.ResyncRequired)
	assert.Contains(t, eng.Document(), "very")
	assert.Contains(t, eng.Document(), "leaps")
}

func TestEngine_ResetReinitializesState(t *testing.T) {
	eng := New("old content")
	eng.LocalEdit("old content, edited")
	eng.Tick()

	eng.Reset("fresh content", 42)

	assert.Equal(t, "fresh content", eng.Document())
	assert.Equal(t, "fresh content", eng.Shadow())
	clientV, serverV := eng.Versions()
	assert.Zero(t, clientV)
	assert.Equal(t, uint64(42), serverV)
}
