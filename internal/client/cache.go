package client

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
)

// Cache persists an Engine's document/shadow/versions across client
// restarts so a reconnecting client can resume instead of discarding
// local state (spec §2, component 10 "Local cache"). This is a resume convenience,
// not an offline-merge mechanism: the engine still re-derives its next
// batch from diff(shadow, document) against whatever the server holds.
type Cache struct {
	db *bbolt.DB
}

var cacheBucket = []byte("collabtext")

type cachedState struct {
	Document      string `json:"document"`
	Shadow        string `json:"shadow"`
	ClientVersion uint64 `json:"client_version"`
	ServerVersion uint64 `json:"server_version"`
}

// OpenCache opens (creating if needed) a bbolt database at path.
func OpenCache(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close flushes and closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Save persists the engine's current state under clientID.
func (c *Cache) Save(clientID string, e *Engine) error {
	e.mu.Lock()
	state := cachedState{
		Document:      e.document,
		Shadow:        e.shadow,
		ClientVersion: e.clientVersion,
		ServerVersion: e.serverVersion,
	}
	e.mu.Unlock()

	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(cacheBucket).Put([]byte(clientID), payload)
	})
}

// Load restores a previously-saved Engine for clientID. ok is false if no
// cached state exists yet.
func (c *Cache) Load(clientID string) (eng *Engine, ok bool, err error) {
	var payload []byte
	err = c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(cacheBucket).Get([]byte(clientID))
		if v != nil {
			payload = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || payload == nil {
		return nil, false, err
	}

	var state cachedState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, false, err
	}

	e := &Engine{
		document:      state.Document,
		shadow:        state.Shadow,
		clientVersion: state.ClientVersion,
		serverVersion: state.ServerVersion,
	}
	return e, true, nil
}
