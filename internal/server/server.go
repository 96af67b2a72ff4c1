// Package server exposes the router control plane over HTTP: session
// endpoints, the merged interface inventory, the two interface mutations,
// and the audit trail. Errors are reported as RFC 7807 problem documents.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/HerbHall/routerctl/internal/audit"
	"github.com/HerbHall/routerctl/internal/netstate"
	"github.com/HerbHall/routerctl/internal/version"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NetworkAPI is the slice of the network-state engine the handlers use.
type NetworkAPI interface {
	Interfaces() ([]netstate.NetworkInterface, error)
	SetLinkState(name string, target netstate.OperState) (netstate.OperState, error)
	SetWirelessMode(name string, mode netstate.WirelessMode) (netstate.WirelessMode, error)
}

// SessionAPI manages the operator session.
type SessionAPI interface {
	SignIn(password string) (uuid.UUID, error)
	Validate(id uuid.UUID) error
	SignOut()
}

// Identifier maps a client IP to a hardware address.
type Identifier interface {
	ResolveMAC(ip netip.Addr) (net.HardwareAddr, error)
}

// Auditor records operator actions and serves the recent trail.
type Auditor interface {
	Record(ctx context.Context, e audit.Event) error
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}

// Server is the routerctl HTTP server.
type Server struct {
	httpServer *http.Server
	network    NetworkAPI
	sessions   SessionAPI
	ident      Identifier
	audit      Auditor
	logger     *zap.Logger
	metrics    *metrics
	mux        *http.ServeMux
}

// New creates a new Server instance.
func New(addr string, network NetworkAPI, sessions SessionAPI, ident Identifier, auditor Auditor, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		network:  network,
		sessions: sessions,
		ident:    ident,
		audit:    auditor,
		logger:   logger,
		metrics:  newMetrics(),
		mux:      mux,
	}

	s.registerRoutes()

	return s
}

// registerRoutes sets up the API surface.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/v1/login", s.instrument("login", s.handleLogin))
	s.mux.HandleFunc("POST /api/v1/logout", s.instrument("logout", s.requireSession(s.handleLogout)))
	s.mux.HandleFunc("GET /api/v1/auth/status", s.instrument("auth_status", s.handleAuthStatus))
	s.mux.HandleFunc("GET /api/v1/net/interfaces", s.instrument("interfaces", s.requireSession(s.handleInterfaces)))
	s.mux.HandleFunc("POST /api/v1/net/interfaces/state", s.instrument("set_state", s.requireSession(s.handleSetLinkState)))
	s.mux.HandleFunc("POST /api/v1/net/interfaces/mode", s.instrument("set_mode", s.requireSession(s.handleSetWirelessMode)))
	s.mux.HandleFunc("GET /api/v1/audit", s.instrument("audit", s.requireSession(s.handleAudit)))
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Routerctl-Version", version.Short())
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "routerctl",
		"version": version.Map(),
	})
}
