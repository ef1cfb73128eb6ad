package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisRelay fans server-authored master updates out to every other
// server instance sharing this document, so a session connected to a
// different instance still has the diff queued for delivery (spec
// §4.3.E). Grounded on the teacher's server/main.go Subscribe/Publish
// relay loop, generalized from raw message bytes to a
// {instance, version, content} envelope that each instance re-diffs
// against its own locally-registered sessions.
type RedisRelay struct {
	rdb        *redis.Client
	instanceID string
	log        zerolog.Logger
}

type relayMessage struct {
	InstanceID string `json:"instance_id"`
	Content    string `json:"content"`
	Version    uint64 `json:"version"`
}

func channelName(documentName string) string {
	return "collabtext:fanout:" + documentName
}

// NewRedisRelay creates a relay using rdb, with a fresh instance ID used
// to avoid an instance re-applying its own publish.
func NewRedisRelay(rdb *redis.Client, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, instanceID: uuid.NewString(), log: log}
}

// Publish implements Core.Relay.
func (r *RedisRelay) Publish(ctx context.Context, documentName, content string, version uint64) error {
	payload, err := json.Marshal(relayMessage{
		InstanceID: r.instanceID,
		Content:    content,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("redisrelay: encode: %w", err)
	}
	return r.rdb.Publish(ctx, channelName(documentName), payload).Err()
}

// Subscribe runs until ctx is cancelled, applying every fan-out update
// authored by another instance to core's locally-registered sessions via
// Core.ApplyRemoteUpdate.
func (r *RedisRelay) Subscribe(ctx context.Context, documentName string, core *Core) error {
	sub := r.rdb.Subscribe(ctx, channelName(documentName))
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var rm relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &rm); err != nil {
				r.log.Warn().Err(err).Msg("redisrelay: bad payload")
				continue
			}
			if rm.InstanceID == r.instanceID {
				continue // skip our own publish
			}
			core.ApplyRemoteUpdate(rm.Content)
		}
	}
}
