package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"collabtext/internal/protocol"
)

func mkBatch(checksum string) protocol.Batch {
	return protocol.Batch{Checksum: checksum}
}

func TestRegistry_PutGetDelete(t *testing.T) {
	r := NewRegistry()
	s := NewSession("alice", "content")

	r.Put(s)
	got, ok := r.Get("alice")
	assert.True(t, ok)
	assert.Same(t, s, got)

	r.Delete("alice")
	_, ok = r.Get("alice")
	assert.False(t, ok)
}

func TestRegistry_OthersExcludesGivenClient(t *testing.T) {
	r := NewRegistry()
	r.Put(NewSession("alice", "x"))
	r.Put(NewSession("bob", "x"))
	r.Put(NewSession("carol", "x"))

	others := r.Others("alice")
	assert.Len(t, others, 2)
	for _, s := range others {
		assert.NotEqual(t, "alice", s.ClientID)
	}
}

func TestRegistry_Len(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Len())
	r.Put(NewSession("alice", "x"))
	assert.Equal(t, 1, r.Len())
}

func TestSession_EnqueueDequeueIsBoundedToOne(t *testing.T) {
	s := NewSession("alice", "content")

	_, ok := s.Dequeue()
	assert.False(t, ok)

	s.Enqueue(mkBatch("a"))
	s.Enqueue(mkBatch("b")) // replaces the pending batch, not appends

	b, ok := s.Dequeue()
	assert.True(t, ok)
	assert.Equal(t, "b", b.Checksum)

	_, ok = s.Dequeue()
	assert.False(t, ok)
}
