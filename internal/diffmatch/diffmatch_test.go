package diffmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/protocol"
)

func TestDiff_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
	}{
		{name: "identical", a: "hello world", b: "hello world"},
		{name: "pure insert", a: "hello", b: "hello world"},
		{name: "pure delete", a: "hello world", b: "hello"},
		{name: "middle replace", a: "the quick brown fox", b: "the slow brown fox"},
		{name: "prefix and suffix shared", a: "abcXYZdef", b: "abc123def"},
		{name: "empty to content", a: "", b: "new content"},
		{name: "content to empty", a: "some content", b: ""},
		{name: "unicode", a: "héllo wörld", b: "héllo ünïcode wörld"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hunks := Diff(tt.a, tt.b)
			got, applied := Apply(tt.a, hunks)
			for i, ok := range applied {
				assert.Truef(t, ok, "hunk %d failed to apply", i)
			}
			assert.Equal(t, tt.b, got)
		})
	}
}

func TestDiff_NoOpWhenEqual(t *testing.T) {
	hunks := Diff("unchanged text", "unchanged text")
	assert.Empty(t, hunks)
}

func TestApply_EmptyBatchIsIdentity(t *testing.T) {
	text := "leave me alone"
	got, applied := Apply(text, nil)
	assert.Equal(t, text, got)
	assert.Empty(t, applied)
}

func TestApply_ToleratesDriftedContext(t *testing.T) {
	// Diff computed against the original shadow...
	shadow := "The quick brown fox jumps over the lazy dog"
	updated := "The quick brown fox leaps over the lazy dog"
	hunks := Diff(shadow, updated)
	require.NotEmpty(t, hunks)

	// ...but applied against a document that has since drifted with an
	// unrelated edit earlier in the text. The fuzzy locator should still
	// find the "jumps" hunk's context nearby.
	drifted := "The very quick brown fox jumps over the lazy dog"
	got, applied := Apply(drifted, hunks)

	for _, ok := range applied {
		assert.True(t, ok)
	}
	assert.Contains(t, got, "leaps")
	assert.NotContains(t, got, "jumps")
}

func TestApply_FailsBelowMatchThreshold(t *testing.T) {
	hunks := []protocol.Hunk{
		{
			ContextBefore: "zzzzzzzz",
			ContextAfter:  "wwwwwwww",
			Delete:        "qqqq",
			Insert:        "rrrr",
			Offset:        0,
		},
	}
	text := "this text shares nothing with the pattern above at all"
	got, applied := Apply(text, hunks)
	assert.False(t, applied[0])
	assert.Equal(t, text, got)
}

func TestChecksum_DeterministicAndSensitive(t *testing.T) {
	a := Checksum("hello world")
	b := Checksum("hello world")
	c := Checksum("hello world!")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32) // hex md5
}
