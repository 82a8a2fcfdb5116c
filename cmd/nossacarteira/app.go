package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360studio/nossacarteira/api"
	"github.com/c360studio/nossacarteira/config"
	"github.com/c360studio/nossacarteira/confirm"
	"github.com/c360studio/nossacarteira/reconcile"
	"github.com/c360studio/nossacarteira/session"
	"github.com/c360studio/nossacarteira/storage"
	"github.com/c360studio/nossacarteira/syncstatus"
)

// App is the main application that wires together all components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS
	embeddedServer *server.Server
	natsConn       *nats.Conn
	natsClient     *natsclient.Client
	js             jetstream.JetStream

	// Storage
	collections *storage.Collections
	documents   *storage.Documents

	// Reconciliation
	registry *prometheus.Registry
	tracker  *syncstatus.Tracker
	confirm  *confirm.Gate
	coord    *reconcile.Coordinator

	// Session
	tokens *session.TokenFile
	gate   *session.Gate

	// HTTP
	listener net.Listener
	server   *http.Server

	// ctx outlives Start and bounds the session subscriptions.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}
}

// Start initializes and starts all components. On error the caller should
// still call Shutdown to release what was started.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if err := a.startNATS(ctx); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	history := uint8(a.cfg.Store.History)
	collections, err := storage.NewCollections(ctx, a.js, a.cfg.Store.CollectionsBucket,
		storage.WithHistory(history), storage.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	documents, err := storage.NewDocuments(ctx, a.js, a.cfg.Store.DocumentsBucket,
		storage.WithHistory(history), storage.WithLogger(a.logger))
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	a.collections, a.documents = collections, documents

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.tracker = syncstatus.New(a.cfg.Sync.BusyFloor,
		syncstatus.WithLogger(a.logger), syncstatus.WithRegisterer(a.registry))
	a.confirm = confirm.NewGate(a.logger)
	a.coord = reconcile.New(a.tracker, a.confirm, reconcile.WithLogger(a.logger))

	a.tokens = session.NewTokenFile(a.cfg.Session.TokenFile, []byte(a.cfg.Session.Secret),
		session.WithDebounce(a.cfg.Session.Debounce), session.WithTokenLogger(a.logger))
	a.gate = session.NewGate(a.tokens, session.Hooks{
		OnLogin:  a.onLogin,
		OnLogout: a.onLogout,
	}, a.logger)
	if err := a.tokens.Start(a.ctx); err != nil {
		return fmt.Errorf("start session watcher: %w", err)
	}
	a.gate.Start()

	if err := a.startAPI(); err != nil {
		return fmt.Errorf("start API: %w", err)
	}

	a.logger.Info("Components initialized")
	return nil
}

// onLogin attaches the reconciliation layer to the household's stores.
func (a *App) onLogin(id session.Identity) {
	collections, err := a.collections.Scoped(id.Household)
	if err != nil {
		a.logger.Error("Invalid household in session", "household", id.Household, "error", err)
		return
	}
	documents, err := a.documents.Scoped(id.Household)
	if err != nil {
		a.logger.Error("Invalid household in session", "household", id.Household, "error", err)
		return
	}
	if err := a.coord.Attach(a.ctx, collections, documents); err != nil {
		a.logger.Error("Failed to attach session", "user", id.UserID, "error", err)
		return
	}
	a.logger.Info("Signed in", "user", id.UserID, "household", id.Household)
}

// onLogout tears down the session and drops any open confirmation.
func (a *App) onLogout() {
	a.confirm.Cancel()
	a.coord.Detach()
	a.logger.Info("Signed out")
}

func (a *App) startNATS(ctx context.Context) error {
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		client, err := connectToNATS(ctx, a.cfg.NATS.URL, a.logger)
		if err != nil {
			return err
		}
		a.natsClient = client

		js, err := client.JetStream()
		if err != nil {
			return fmt.Errorf("create JetStream context: %w", err)
		}
		a.js = js
		return nil
	}

	// Start embedded NATS server
	a.logger.Info("Starting embedded NATS server", "store_dir", a.cfg.NATS.StoreDir)
	opts := &server.Options{
		Port:      -1, // Random available port
		JetStream: true,
		StoreDir:  a.cfg.NATS.StoreDir,
		NoLog:     true,
		NoSigs:    true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	// Wait for server to be ready
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return fmt.Errorf("embedded NATS server failed to start")
	}

	a.embeddedServer = ns

	conn, err := nats.Connect(ns.ClientURL())
	if err != nil {
		return fmt.Errorf("connect to embedded NATS: %w", err)
	}
	a.natsConn = conn

	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js

	return nil
}

func connectToNATS(ctx context.Context, url string, logger *slog.Logger) (*natsclient.Client, error) {
	logger.Info("Connecting to NATS", "url", url)

	client, err := natsclient.NewClient(url,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20),
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, url)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, url)
	}

	logger.Info("Connected to NATS", "url", url)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

Start a JetStream-enabled server, set %s to point to one,
or remove nats.url to use the embedded server.`, err, url, config.EnvNATSURL)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

func (a *App) startAPI() error {
	handler := api.NewHandler(a.coord, a.tracker, a.confirm, a.gate,
		api.WithLogger(a.logger), api.WithGatherer(a.registry))

	ln, err := net.Listen("tcp", a.cfg.API.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.API.Addr, err)
	}
	a.listener = ln
	a.server = &http.Server{
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("API server stopped", "error", err)
		}
	}()
	a.logger.Info("API listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the API listen address, or "" before Start.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown(timeout time.Duration) {
	a.logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("API shutdown", "error", err)
		}
	}

	// Stopping the gate runs the logout hook, detaching the coordinator.
	if a.gate != nil {
		a.gate.Stop()
	}
	if a.tokens != nil {
		if err := a.tokens.Close(); err != nil {
			a.logger.Warn("Session watcher close", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
	}

	if a.natsClient != nil {
		if err := a.natsClient.Close(ctx); err != nil {
			a.logger.Warn("NATS client close", "error", err)
		}
	}
	if a.natsConn != nil {
		a.natsConn.Drain()
		a.natsConn.Close()
	}

	// Shutdown embedded server
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}

	a.logger.Info("Shutdown complete")
}
