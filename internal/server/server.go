package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gatenode-ai/gatenode/internal/config"
	"github.com/gatenode-ai/gatenode/internal/config/store"
	"github.com/gatenode-ai/gatenode/internal/daemon"
	"github.com/gatenode-ai/gatenode/internal/eventbus"
	"github.com/gatenode-ai/gatenode/internal/observability"
)

// serverSettings groups the listener settings protected by a single
// read-write mutex. The daemon pushes a fresh copy before every (re)bind.
type serverSettings struct {
	settingsMu       sync.RWMutex
	addr             string
	corsOrigins      []string
	allowLocalBypass bool
}

func (sc *serverSettings) apply(s config.ServerSettings) {
	sc.settingsMu.Lock()
	sc.addr = s.ListenAddress()
	sc.corsOrigins = s.CORSOrigins
	sc.allowLocalBypass = s.AllowLocalBypass
	sc.settingsMu.Unlock()
}

func (sc *serverSettings) listenAddr() string {
	sc.settingsMu.RLock()
	defer sc.settingsMu.RUnlock()
	return sc.addr
}

func (sc *serverSettings) localBypass() bool {
	sc.settingsMu.RLock()
	defer sc.settingsMu.RUnlock()
	return sc.allowLocalBypass
}

// APIServer serves the node control API over HTTP. All state reads and
// mutations go through the daemon handle; the server authenticates requests
// and resolves them to identities, nothing more.
type APIServer struct {
	handle *daemon.Handle
	store  *store.Store
	bus    *eventbus.Bus
	logger *log.Logger

	wsHub     *statusHub
	wsRunOnce sync.Once
	metrics   *observability.Exporter

	serverSettings

	serveMu    sync.Mutex
	httpServer *http.Server
	listener   net.Listener

	errCh chan error
}

// Options configure an APIServer.
type Options struct {
	Handle *daemon.Handle
	Store  *store.Store
	Bus    *eventbus.Bus
	Logger *log.Logger

	// Metrics is optional; when set the server exposes /api/metrics and
	// feeds the exporter its websocket client gauge.
	Metrics *observability.Exporter
}

// NewAPIServer creates a new API server bound to the given daemon handle.
func NewAPIServer(opts Options) (*APIServer, error) {
	if opts.Handle == nil {
		return nil, fmt.Errorf("server: daemon handle is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	s := &APIServer{
		handle: opts.Handle,
		store:  opts.Store,
		bus:    opts.Bus,
		logger: logger,
		errCh:  make(chan error, 1),
	}
	s.wsHub = newStatusHub(opts.Bus, s.originAllowed, logger)
	if opts.Metrics != nil {
		s.metrics = opts.Metrics
		s.metrics.WithWSClients(s.wsHub.connectedClients)
	}
	return s, nil
}

// ApplyServerSettings installs the settings used by the next Start. Called
// by the daemon before every bind.
func (s *APIServer) ApplyServerSettings(settings config.ServerSettings) {
	s.serverSettings.apply(settings)
}

// Errors exposes fatal serve errors for lifecycle supervision.
func (s *APIServer) Errors() <-chan error {
	return s.errCh
}

func (s *APIServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/auth/bootstrap/status", s.handleBootstrapStatus)
	mux.HandleFunc("/api/auth/bootstrap/first-user", s.handleBootstrapFirstUser)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/daemon/restart", s.handleRestart)
	mux.HandleFunc("/api/daemon/shutdown", s.handleShutdown)
	if s.metrics != nil {
		mux.HandleFunc("/api/metrics", s.handleMetrics)
	}
	mux.HandleFunc("/ws", s.wsHub.handleWebSocket)
	return s.wrapWithSecurity(mux)
}

// Start binds the listener at the currently applied address and serves in
// the background. The bind itself is synchronous so address conflicts
// surface to the caller.
func (s *APIServer) Start(ctx context.Context) error {
	s.serveMu.Lock()
	defer s.serveMu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("server: already started")
	}

	addr := s.listenAddr()
	if addr == "" {
		return fmt.Errorf("server: no listen address applied")
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("server: bind %s: %w", addr, err)
	}

	s.wsRunOnce.Do(func() {
		go s.wsHub.run()
	})

	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = srv
	s.listener = ln

	s.logger.Printf("[APIServer] listening on %s", ln.Addr())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("[APIServer] serve: %v", err)
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP server down. Idempotent.
func (s *APIServer) Stop(ctx context.Context) error {
	s.serveMu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.serveMu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Shutdown stops the listener and closes the websocket hub.
func (s *APIServer) Shutdown(ctx context.Context) error {
	err := s.Stop(ctx)
	s.wsHub.close()
	return err
}

// Addr returns the bound listener address, empty when not serving. Useful
// when the configured port is 0.
func (s *APIServer) Addr() string {
	s.serveMu.Lock()
	defer s.serveMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
