// Package config parses the CLI surface for both binaries (spec §6),
// grounded on GoPassKeeper's internal/config/flags.go NetAddress pattern.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"strconv"
)

// NetAddress implements flag.Value for a "host:port" flag with a
// default, the way GoPassKeeper's config package does for its own server
// address flags.
type NetAddress struct {
	Host string
	Port int
}

func (a *NetAddress) String() string {
	if a.Host == "" && a.Port == 0 {
		return ""
	}
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Set parses "host:port" into the receiver.
func (a *NetAddress) Set(value string) error {
	host, portStr, err := net.SplitHostPort(value)
	if err != nil {
		return fmt.Errorf("config: invalid address %q: %w", value, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return errors.New("config: port must be numeric")
	}
	a.Host = host
	a.Port = port
	return nil
}

// ServerConfig is the server CLI surface (spec §6).
type ServerConfig struct {
	Address      NetAddress
	DatabasePath string
	DocumentName string

	// Advertise enables mDNS service advertisement (spec §6.E), off by
	// default.
	Advertise bool
	// PostgresDSN selects the horizontally-scaled deployment shape when
	// non-empty (spec §1.E); empty means single-instance SQLite.
	PostgresDSN string
	// RedisAddr, when non-empty, enables the cross-instance fan-out relay
	// (spec §4.3.E), whichever store is selected.
	RedisAddr string
}

// ParseServerFlags parses os.Args-style arguments into a ServerConfig.
func ParseServerFlags(args []string) (*ServerConfig, error) {
	fs := flag.NewFlagSet("collabtext-server", flag.ContinueOnError)

	cfg := &ServerConfig{Address: NetAddress{Host: "127.0.0.1", Port: 8080}}
	fs.Var(&cfg.Address, "address", "listen address host:port")
	fs.StringVar(&cfg.DatabasePath, "database-path", "documents.db", "sqlite database file path")
	fs.StringVar(&cfg.DocumentName, "document-name", "main", "name of the document to serve")
	fs.BoolVar(&cfg.Advertise, "advertise", false, "advertise this server over mDNS")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "postgres DSN; enables the horizontally-scaled deployment shape")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for cross-instance fan-out relay")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ClientConfig is the client CLI surface (spec §6).
type ClientConfig struct {
	Server   NetAddress
	ClientID string

	// Discover enables mDNS lookup of the server address; when set, the
	// discovered address is used instead of Server (spec §6.E).
	Discover bool
	// CachePath, when non-empty, enables the bbolt local resume cache.
	CachePath string
}

// ParseClientFlags parses os.Args-style arguments into a ClientConfig.
// ClientID is required, matching spec §6.
func ParseClientFlags(args []string) (*ClientConfig, error) {
	fs := flag.NewFlagSet("collabtext-client", flag.ContinueOnError)

	cfg := &ClientConfig{Server: NetAddress{Host: "127.0.0.1", Port: 8080}}
	fs.Var(&cfg.Server, "server", "server address host:port")
	fs.StringVar(&cfg.ClientID, "client-id", "", "this client's identifier (required)")
	fs.BoolVar(&cfg.Discover, "discover", false, "look up the server via mDNS instead of --server")
	fs.StringVar(&cfg.CachePath, "cache-path", "", "bbolt cache file for resuming across restarts")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		return nil, errors.New("config: --client-id is required")
	}
	return cfg, nil
}
