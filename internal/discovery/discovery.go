// Package discovery provides optional mDNS advertisement and lookup so a
// client can find the server without a configured --server address (spec
// §6.E), grounded on the teacher agent's startDiscovery.
package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

const serviceName = "_collabtext._tcp"

// Advertise registers this server instance on the local network and
// returns a function to unregister it.
func Advertise(port int) (shutdown func(), err error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		fmt.Sprintf("collabtext-%s", host),
		serviceName,
		"local.",
		port,
		[]string{"txtv=0"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("discovery: register: %w", err)
	}
	return server.Shutdown, nil
}

// Lookup browses for a collabtext server for up to timeout and returns
// its first instance's "host:port" address.
func Lookup(ctx context.Context, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("discovery: resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 4)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := resolver.Browse(ctx, serviceName, "local.", entries); err != nil {
		return "", fmt.Errorf("discovery: browse: %w", err)
	}

	select {
	case entry := <-entries:
		if entry == nil || len(entry.AddrIPv4) == 0 {
			return "", fmt.Errorf("discovery: no server found")
		}
		return fmt.Sprintf("%s:%d", entry.AddrIPv4[0], entry.Port), nil
	case <-ctx.Done():
		return "", fmt.Errorf("discovery: no server found within %s", timeout)
	}
}
