// Package client implements the client-side differential-synchronization
// engine: the local document, its shadow, and the tick/receive cycle that
// produces and consumes edit batches (spec §4.2).
package client

import (
	"fmt"
	"sync"

	"collabtext/internal/diffmatch"
	"collabtext/internal/protocol"
)

// Engine owns one client's view of a single document.
type Engine struct {
	mu sync.Mutex

	document string
	shadow   string

	clientVersion uint64
	serverVersion uint64
}

// New creates an Engine whose document and shadow both start at content,
// as they do immediately after a successful Connect (spec §3 Lifecycle).
func New(content string) *Engine {
	return &Engine{document: content, shadow: content}
}

// LocalEdit assigns the document to newText. It is a pure local mutation
// and never transmits anything (spec §4.2).
func (e *Engine) LocalEdit(newText string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.document = newText
}

// Document returns the current local document text.
func (e *Engine) Document() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.document
}

// Versions returns the current client and server version counters.
func (e *Engine) Versions() (client, server uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clientVersion, e.serverVersion
}

// Tick computes the outbound batch for this sync cycle: diff(shadow,
// document), advance the shadow to document, and bump clientVersion only
// if the batch is nonempty (spec §4.2, Open Question (a)). Always returns
// a batch, possibly empty, so the caller can poll the server for updates.
func (e *Engine) Tick() protocol.Batch {
	e.mu.Lock()
	defer e.mu.Unlock()

	checksum := diffmatch.Checksum(e.shadow)
	hunks := diffmatch.Diff(e.shadow, e.document)

	batch := protocol.Batch{
		SourceVersion: e.clientVersion,
		Checksum:      checksum,
		Hunks:         hunks,
	}

	e.shadow = e.document
	if len(hunks) > 0 {
		e.clientVersion++
	}
	batch.TargetVersion = e.clientVersion
	return batch
}

// ReceiveResult reports the outcome of applying an inbound batch.
type ReceiveResult struct {
	// LiveUpdate is true if any hunk changed the visible document.
	LiveUpdate bool
	// ResyncRequired is true if the checksum didn't match the current
	// shadow; the caller should re-Connect to force a fresh ConnectOk.
	ResyncRequired bool
	// HunksApplied records which hunks succeeded, in order.
	HunksApplied []bool
}

// Receive validates batch.Checksum against the current shadow. On a
// match, it applies the batch to the shadow (strict — the batch was
// computed from exactly this shadow by the server) and fuzzily to the
// document, bumping serverVersion (spec §4.2).
func (e *Engine) Receive(batch protocol.Batch) (ReceiveResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if batch.IsEmpty() {
		return ReceiveResult{}, nil
	}

	if diffmatch.Checksum(e.shadow) != batch.Checksum {
		return ReceiveResult{ResyncRequired: true}, nil
	}

	newShadow, shadowApplied := diffmatch.Apply(e.shadow, batch.Hunks)
	for _, ok := range shadowApplied {
		if !ok {
			return ReceiveResult{}, fmt.Errorf("client: shadow hunk failed to apply against exact-matched checksum")
		}
	}
	e.shadow = newShadow

	before := e.document
	newDocument, docApplied := diffmatch.Apply(e.document, batch.Hunks)
	e.document = newDocument
	e.serverVersion = batch.TargetVersion

	return ReceiveResult{
		LiveUpdate:   newDocument != before,
		HunksApplied: docApplied,
	}, nil
}

// Reset reinitializes document and shadow to content, zeroes the client
// version and sets the server version to serverVersion, as happens on a
// fresh ConnectOk after a forced resync (spec §7 "Checksum mismatch").
func (e *Engine) Reset(content string, serverVersion uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.document = content
	e.shadow = content
	e.clientVersion = 0
	e.serverVersion = serverVersion
}

// Shadow returns the current shadow text, mainly for tests and the local
// resume cache.
func (e *Engine) Shadow() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shadow
}
