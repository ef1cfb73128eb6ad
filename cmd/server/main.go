// Command collabtext-server runs the differential-synchronization
// server: it serves one named document over websockets, mediating
// concurrent client edits through the sync core in internal/server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"collabtext/internal/config"
	"collabtext/internal/discovery"
	"collabtext/internal/logging"
	"collabtext/internal/protocol"
	"collabtext/internal/server"
	"collabtext/internal/storage"
	"collabtext/internal/transport"
)

// syncInterval governs how often the server pushes a queued fan-out
// batch to a peer that hasn't ticked on its own (spec §4.2's
// SYNC_INTERVAL, reused server-side since the websocket transport is
// full-duplex).
const syncInterval = 500 * time.Millisecond

// maxConnections bounds the shared worker pool (spec §5).
const maxConnections = 256

func main() {
	log := logging.New("server")

	cfg, err := config.ParseServerFlags(os.Args[1:])
	if err != nil {
		log.Error().Err(err).Msg("parse flags")
		os.Exit(1)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Error().Err(err).Msg("open storage")
		os.Exit(1)
	}
	defer store.Close()

	core := server.New(store, cfg.DocumentName, log)

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		relay := server.NewRedisRelay(rdb, log)
		core.Relay = relay

		relayCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := relay.Subscribe(relayCtx, cfg.DocumentName, core); err != nil && relayCtx.Err() == nil {
				log.Error().Err(err).Msg("relay subscribe stopped")
			}
		}()
	}

	if cfg.Advertise {
		shutdown, err := discovery.Advertise(cfg.Address.Port)
		if err != nil {
			log.Warn().Err(err).Msg("mDNS advertise failed")
		} else {
			defer shutdown()
		}
	}

	// conns bounds the number of simultaneously active connection
	// goroutines with an errgroup.Group + semaphore, per spec §5's worker
	// pool. handleConnection does not watch the group's context: on
	// shutdown, main waits for in-flight connections to finish only until
	// the shutdown timeout expires.
	groupCtx, cancelGroup := context.WithCancel(context.Background())
	defer cancelGroup()
	conns, _ := errgroup.WithContext(groupCtx)
	sema := semaphore.NewWeighted(maxConnections)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if !sema.TryAcquire(1) {
			http.Error(w, "server busy", http.StatusServiceUnavailable)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			sema.Release(1)
			log.Error().Err(err).Msg("upgrade failed")
			return
		}

		conns.Go(func() error {
			defer sema.Release(1)
			conn := transport.NewConn(ws)
			defer conn.Close()
			handleConnection(core, conn, log)
			return nil
		})
	})

	httpServer := &http.Server{Addr: cfg.Address.String(), Handler: router}

	go func() {
		log.Info().Str("address", cfg.Address.String()).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("listen failed")
			os.Exit(1)
		}
	}()

	waitForShutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
	cancelGroup()
	waitDone := make(chan struct{})
	go func() { conns.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("timed out waiting for in-flight connections to drain")
	}
}

func openStore(cfg *config.ServerConfig) (storage.Store, error) {
	if cfg.PostgresDSN != "" {
		return storage.OpenPostgres(context.Background(), cfg.PostgresDSN)
	}
	return storage.OpenSQLite(cfg.DatabasePath)
}

func waitForShutdown() {
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	<-exit
}

// handleConnection runs one client's read loop (Connect/ClientSync/
// Heartbeat) and an independent push loop that flushes any fan-out batch
// queued for this client by other sessions' edits (spec §4.3 "Fan-out
// policy"). It returns once the connection fails or the client
// disconnects.
func handleConnection(core *server.Core, conn *transport.Conn, log zerolog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var clientID string
	var pushLoopStarted bool
	defer func() {
		if clientID != "" {
			core.OnDisconnect(clientID)
		}
	}()

	for {
		env, err := conn.Receive()
		if err != nil {
			log.Info().Err(err).Msg("connection closed")
			return
		}

		switch env.Type {
		case protocol.TypeConnect:
			if env.Connect == nil {
				sendError(conn, "bad_request", "missing connect payload")
				return
			}
			clientID = env.Connect.ClientID
			ok, err := core.OnConnect(context.Background(), clientID)
			if err != nil {
				log.Error().Err(err).Msg("connect failed")
				sendError(conn, "internal_error", err.Error())
				return
			}
			conn.Send(protocol.Envelope{Type: protocol.TypeConnectOk, ConnectOk: &ok})
			if !pushLoopStarted {
				pushLoopStarted = true
				go pushLoop(ctx, core, conn, clientID)
			}

		case protocol.TypeClientSync:
			if env.ClientSync == nil || clientID == "" {
				sendError(conn, "bad_request", "sync before connect")
				return
			}
			reply, err := core.OnClientSync(context.Background(), clientID, protocol.BatchFromClientSync(*env.ClientSync))
			if errors.Is(err, server.ErrChecksumPersists) {
				ok, connErr := core.OnConnect(context.Background(), clientID)
				if connErr != nil {
					sendError(conn, "internal_error", connErr.Error())
					return
				}
				conn.Send(protocol.Envelope{Type: protocol.TypeConnectOk, ConnectOk: &ok})
				continue
			}
			if err != nil {
				log.Error().Err(err).Str("client_id", clientID).Msg("sync failed")
				sendError(conn, "internal_error", err.Error())
				return
			}
			ss := protocol.ServerSyncFromBatch(reply)
			conn.Send(protocol.Envelope{Type: protocol.TypeServerSync, ServerSync: &ss})

		case protocol.TypeHeartbeat:
			// Independent keep-alive; no sync state attached (spec §9
			// Open Question (b)).
			continue

		default:
			sendError(conn, "unknown_message", string(env.Type))
			return
		}
	}
}

// pushLoop flushes any fan-out batch queued for clientID by other
// sessions' edits, so peers observe updates without waiting on their own
// next tick (spec S3 "live propagation"). It starts only once clientID
// is resolved by a successful Connect, so it never races the read loop's
// assignment of clientID.
func pushLoop(ctx context.Context, core *server.Core, conn *transport.Conn, clientID string) {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, ok := core.DequeueOutbound(clientID)
			if !ok || batch.IsEmpty() {
				continue
			}
			ss := protocol.ServerSyncFromBatch(batch)
			if err := conn.Send(protocol.Envelope{Type: protocol.TypeServerSync, ServerSync: &ss}); err != nil {
				return
			}
		}
	}
}

func sendError(conn *transport.Conn, code, message string) {
	conn.Send(protocol.Envelope{Type: protocol.TypeError, Error: &protocol.Error{Code: code, Message: message}})
}
