package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetAddress_StringAndSet(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantErr  bool
		wantHost string
		wantPort int
	}{
		{name: "host and port", input: "127.0.0.1:8080", wantHost: "127.0.0.1", wantPort: 8080},
		{name: "hostname and port", input: "localhost:9090", wantHost: "localhost", wantPort: 9090},
		{name: "missing colon", input: "localhost", wantErr: true},
		{name: "non-numeric port", input: "localhost:notaport", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var addr NetAddress
			err := addr.Set(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, addr.Host)
			assert.Equal(t, tt.wantPort, addr.Port)
			assert.Equal(t, tt.input, addr.String())
		})
	}
}

func TestParseServerFlags_Defaults(t *testing.T) {
	cfg, err := ParseServerFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Address.String())
	assert.Equal(t, "documents.db", cfg.DatabasePath)
	assert.Equal(t, "main", cfg.DocumentName)
	assert.False(t, cfg.Advertise)
	assert.Empty(t, cfg.PostgresDSN)
	assert.Empty(t, cfg.RedisAddr)
}

func TestParseServerFlags_Overrides(t *testing.T) {
	cfg, err := ParseServerFlags([]string{
		"-address", "0.0.0.0:9000",
		"-database-path", "/tmp/custom.db",
		"-document-name", "notes",
		"-advertise",
		"-postgres-dsn", "postgres://user@host/db",
		"-redis-addr", "localhost:6379",
	})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Address.String())
	assert.Equal(t, "/tmp/custom.db", cfg.DatabasePath)
	assert.Equal(t, "notes", cfg.DocumentName)
	assert.True(t, cfg.Advertise)
	assert.Equal(t, "postgres://user@host/db", cfg.PostgresDSN)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestParseClientFlags_RequiresClientID(t *testing.T) {
	_, err := ParseClientFlags(nil)
	assert.Error(t, err)
}

func TestParseClientFlags_Overrides(t *testing.T) {
	cfg, err := ParseClientFlags([]string{
		"-server", "10.0.0.1:8080",
		"-client-id", "alice",
		"-discover",
		"-cache-path", "/tmp/alice.cache",
	})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", cfg.Server.String())
	assert.Equal(t, "alice", cfg.ClientID)
	assert.True(t, cfg.Discover)
	assert.Equal(t, "/tmp/alice.cache", cfg.CachePath)
}
