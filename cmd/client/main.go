// Command collabtext-client connects to a collabtext server and runs the
// client-side differential-synchronization loop: a periodic tick that
// diffs the local document against its shadow, and an independent
// heartbeat (spec §4.2).
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collabtext/internal/client"
	"collabtext/internal/config"
	"collabtext/internal/discovery"
	"collabtext/internal/logging"
	"collabtext/internal/protocol"
	"collabtext/internal/transport"
)

// syncInterval and heartbeatInterval are the two independent client
// timers named in spec §4.2.
const (
	syncInterval      = 500 * time.Millisecond
	heartbeatInterval = 30 * time.Second
	receiveTimeout    = 60 * time.Second
)

func main() {
	log := logging.New("client")

	cfg, err := config.ParseClientFlags(os.Args[1:])
	if err != nil {
		log.Error().Err(err).Msg("parse flags")
		os.Exit(1)
	}

	serverAddr := cfg.Server.String()
	if cfg.Discover {
		addr, err := discovery.Lookup(context.Background(), 5*time.Second)
		if err != nil {
			log.Error().Err(err).Msg("mDNS discovery failed")
			os.Exit(1)
		}
		serverAddr = addr
	}

	var cache *client.Cache
	if cfg.CachePath != "" {
		cache, err = client.OpenCache(cfg.CachePath)
		if err != nil {
			log.Error().Err(err).Msg("open local cache")
			os.Exit(1)
		}
		defer cache.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		exit := make(chan os.Signal, 1)
		signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
		<-exit
		cancel()
	}()

	for ctx.Err() == nil {
		if err := runSession(ctx, serverAddr, cfg.ClientID, cache, log); err != nil {
			log.Warn().Err(err).Msg("session ended; reconnecting")
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
	}
}

// runSession dials once, performs Connect, and drives the tick/heartbeat/
// receive loop until the connection fails or ctx is cancelled.
func runSession(ctx context.Context, serverAddr, clientID string, cache *client.Cache, log zerolog.Logger) error {
	u := url.URL{Scheme: "ws", Host: serverAddr, Path: "/ws"}

	var conn *transport.Conn
	err := client.RunWithBackoff(ctx, func() error {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		conn = transport.NewConn(ws)
		return nil
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Send(protocol.Envelope{Type: protocol.TypeConnect, Connect: &protocol.Connect{ClientID: clientID}}); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	env, err := conn.Receive()
	if err != nil {
		return fmt.Errorf("receive connect_ok: %w", err)
	}
	if env.Type != protocol.TypeConnectOk || env.ConnectOk == nil {
		return errors.New("expected connect_ok")
	}

	var eng *client.Engine
	if cache != nil {
		if cached, ok, err := cache.Load(clientID); err == nil && ok {
			eng = cached
		}
	}
	if eng == nil {
		eng = client.New(env.ConnectOk.Content)
	}
	log.Info().Str("client_id", clientID).Uint64("version", env.ConnectOk.Version).Msg("connected")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbox := make(chan protocol.Envelope, 8)
	readErr := make(chan error, 1)
	go func() {
		for {
			e, err := conn.Receive()
			if err != nil {
				readErr <- err
				return
			}
			inbox <- e
		}
	}()

	editsFromStdin := make(chan string)
	go readLocalEdits(sessionCtx, editsFromStdin)

	syncTicker := time.NewTicker(syncInterval)
	defer syncTicker.Stop()
	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	receiveTimer := time.NewTimer(receiveTimeout)
	defer receiveTimer.Stop()

	for {
		select {
		case <-sessionCtx.Done():
			return sessionCtx.Err()

		case err := <-readErr:
			return fmt.Errorf("connection read failed: %w", err)

		case text := <-editsFromStdin:
			eng.LocalEdit(text)

		case <-syncTicker.C:
			batch := eng.Tick()
			cs := protocol.ClientSyncFromBatch(clientID, batch)
			if err := conn.Send(protocol.Envelope{Type: protocol.TypeClientSync, ClientSync: &cs}); err != nil {
				return fmt.Errorf("send client_sync: %w", err)
			}
			if cache != nil {
				cache.Save(clientID, eng)
			}

		case <-heartbeatTicker.C:
			conn.Send(protocol.Envelope{Type: protocol.TypeHeartbeat, Heartbeat: &protocol.Heartbeat{ClientID: clientID}})

		case e := <-inbox:
			if !receiveTimer.Stop() {
				<-receiveTimer.C
			}
			receiveTimer.Reset(receiveTimeout)
			switch e.Type {
			case protocol.TypeServerSync:
				if e.ServerSync == nil {
					continue
				}
				result, err := eng.Receive(protocol.BatchFromServerSync(*e.ServerSync))
				if err != nil {
					log.Error().Err(err).Msg("apply server_sync failed")
					continue
				}
				if result.ResyncRequired {
					log.Warn().Msg("checksum mismatch; requesting resync")
					conn.Send(protocol.Envelope{Type: protocol.TypeConnect, Connect: &protocol.Connect{ClientID: clientID}})
					continue
				}
				if result.LiveUpdate {
					log.Info().Str("document", eng.Document()).Msg("live update")
				}
			case protocol.TypeConnectOk:
				eng.Reset(e.ConnectOk.Content, e.ConnectOk.Version)
				log.Info().Uint64("version", e.ConnectOk.Version).Msg("resynced")
			case protocol.TypeError:
				log.Error().Str("code", e.Error.Code).Str("message", e.Error.Message).Msg("server error")
				return fmt.Errorf("server error: %s", e.Error.Message)
			}

		case <-receiveTimer.C:
			return errors.New("receive timeout; soft reconnect")
		}
	}
}

// readLocalEdits treats each line of stdin as the document's new full
// content, the way a REPL-style terminal client would (spec §1 "the
// terminal prompt/REPL" is an external collaborator; this is a minimal
// stand-in so the binary is runnable end-to-end).
func readLocalEdits(ctx context.Context, out chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case out <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}
