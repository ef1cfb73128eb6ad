package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"collabtext/internal/diffmatch"
	"collabtext/internal/protocol"
	"collabtext/internal/storage"
)

// ErrChecksumPersists is returned by OnClientSync when neither the
// session shadow nor its backup match the batch's checksum; the caller
// should force-resync the client with a fresh ConnectOk (spec §7).
var ErrChecksumPersists = errors.New("server: checksum mismatch persists after backup-shadow retry")

// Core is the server-side sync orchestrator: one master document handle
// plus the registry of connected sessions (spec §4.3). It serializes
// steps 1-6 of on_client_sync under masterMu, per spec §4.3
// "Serialization."
type Core struct {
	store        storage.Store
	documentName string
	log          zerolog.Logger

	masterMu sync.Mutex
	registry *Registry

	// Relay fans out server-authored batches to other server instances
	// sharing this document (spec §4.3.E). Nil in the single-instance
	// shape.
	Relay Relay
}

// Relay is the cross-instance fan-out collaborator (spec §4.3.E),
// implemented by internal/server/redisrelay.go in the horizontally-scaled
// deployment shape.
type Relay interface {
	Publish(ctx context.Context, documentName, content string, version uint64) error
}

// New creates a Core backed by store for documentName.
func New(store storage.Store, documentName string, log zerolog.Logger) *Core {
	return &Core{
		store:        store,
		documentName: documentName,
		log:          log,
		registry:     NewRegistry(),
	}
}

// Registry exposes the session registry, mainly for tests.
func (c *Core) Registry() *Registry { return c.registry }

// OnConnect creates a session for clientID initialized to the master's
// current content, and returns the ConnectOk payload (spec §4.3).
func (c *Core) OnConnect(ctx context.Context, clientID string) (protocol.ConnectOk, error) {
	c.masterMu.Lock()
	defer c.masterMu.Unlock()

	rec, err := c.store.Load(ctx, c.documentName)
	if err != nil {
		return protocol.ConnectOk{}, fmt.Errorf("server: load master on connect: %w", err)
	}

	c.registry.Put(NewSession(clientID, rec.Content))
	c.log.Info().Str("client_id", clientID).Uint64("version", rec.Version).Msg("client connected")

	return protocol.ConnectOk{Content: rec.Content, Version: rec.Version}, nil
}

// OnDisconnect drops clientID's session. The master and other sessions
// are unaffected (spec §4.3).
func (c *Core) OnDisconnect(clientID string) {
	c.registry.Delete(clientID)
	c.log.Info().Str("client_id", clientID).Msg("client disconnected")
}

// OnClientSync is the heart of the server (spec §4.3 on_client_sync,
// steps 1-6).
func (c *Core) OnClientSync(ctx context.Context, clientID string, batch protocol.Batch) (protocol.Batch, error) {
	sess, ok := c.registry.Get(clientID)
	if !ok {
		return protocol.Batch{}, fmt.Errorf("server: unknown session %q", clientID)
	}
	sess.Touch()

	c.masterMu.Lock()
	defer c.masterMu.Unlock()

	// Step 1: verify checksum against session.shadow, with backup-shadow
	// recovery on mismatch.
	sess.mu.Lock()
	shadow := sess.shadow
	if diffmatch.Checksum(shadow) != batch.Checksum {
		shadow = sess.backupShadow
		if diffmatch.Checksum(shadow) != batch.Checksum {
			sess.mu.Unlock()
			c.log.Warn().Str("client_id", clientID).Msg("checksum mismatch persists after backup-shadow retry; forcing resync")
			return protocol.Batch{}, ErrChecksumPersists
		}
		c.log.Info().Str("client_id", clientID).Msg("checksum mismatch recovered via backup shadow")
	}

	// Step 2: apply the batch to session.shadow (strict).
	newShadow, applied := diffmatch.Apply(shadow, batch.Hunks)
	for _, ok := range applied {
		if !ok {
			sess.mu.Unlock()
			return protocol.Batch{}, fmt.Errorf("server: batch hunk failed against session shadow for %q", clientID)
		}
	}
	sess.shadow = newShadow
	// Step 3: checkpoint the backup shadow.
	sess.backupShadow = newShadow
	sess.lastClientVersion = batch.TargetVersion
	sessionShadow := sess.shadow
	sess.mu.Unlock()

	// Step 4: apply the batch fuzzily to the master; bump version only
	// if content materially changed.
	rec, err := c.store.Load(ctx, c.documentName)
	if err != nil {
		return protocol.Batch{}, fmt.Errorf("server: load master: %w", err)
	}
	masterBefore := rec.Content
	masterAfter, _ := diffmatch.Apply(masterBefore, batch.Hunks)

	if masterAfter != masterBefore {
		rec, err = c.store.Save(ctx, c.documentName, masterAfter)
		if err != nil {
			return protocol.Batch{}, fmt.Errorf("server: save master: %w", err)
		}
		c.log.Info().Str("client_id", clientID).Uint64("version", rec.Version).Msg("master updated")

		if c.Relay != nil {
			if err := c.Relay.Publish(ctx, c.documentName, rec.Content, rec.Version); err != nil {
				c.log.Warn().Err(err).Msg("relay publish failed")
			}
		}
	}

	// Step 5: for every other session, diff against its shadow, advance
	// it, and enqueue the result.
	c.fanOut(rec.Content, clientID)

	// Step 6: return diff(session.shadow, master.content) to the caller.
	reply := diffmatch.Diff(sessionShadow, rec.Content)
	return protocol.Batch{
		SourceVersion: sess.lastServerVersion,
		TargetVersion: rec.Version,
		Checksum:      diffmatch.Checksum(sessionShadow),
		Hunks:         reply,
	}, nil
}

// fanOut diffs masterContent against every session other than
// exceptClientID, advances that session's shadow, and enqueues the
// resulting batch, which cmd/server's push loop delivers to the peer
// (spec §4.3 step 5, §4.3 "Fan-out policy").
func (c *Core) fanOut(masterContent, exceptClientID string) {
	for _, other := range c.registry.Others(exceptClientID) {
		other.mu.Lock()
		prevShadow := other.shadow
		checksum := diffmatch.Checksum(prevShadow)
		hunks := diffmatch.Diff(prevShadow, masterContent)
		if len(hunks) == 0 {
			other.mu.Unlock()
			continue
		}
		other.shadow = masterContent
		other.backupShadow = masterContent
		other.lastServerVersion++
		version := other.lastServerVersion
		other.mu.Unlock()

		other.Enqueue(protocol.Batch{
			SourceVersion: version - 1,
			TargetVersion: version,
			Checksum:      checksum,
			Hunks:         hunks,
		})
	}
}

// ApplyRemoteUpdate re-runs the fan-out step for masterContent against
// every locally-registered session, without re-applying a batch to the
// master (the master was already updated by another instance). It is the
// receive side of the distributed relay (spec §4.3.E).
func (c *Core) ApplyRemoteUpdate(masterContent string) {
	c.masterMu.Lock()
	defer c.masterMu.Unlock()
	c.fanOut(masterContent, "")
}

// DequeueOutbound returns and clears clientID's pending outbound batch.
func (c *Core) DequeueOutbound(clientID string) (protocol.Batch, bool) {
	sess, ok := c.registry.Get(clientID)
	if !ok {
		return protocol.Batch{}, false
	}
	return sess.Dequeue()
}
