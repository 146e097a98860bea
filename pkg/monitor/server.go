// Package monitor provides a strictly read-only REST and WebSocket view
// of the simulator's live state, for a host-side test harness watching
// the modem without consuming the serial line. It never drives the
// registries, the dispatcher, or the bridge.
package monitor

import (
	"context"
	"fmt"
	"net/http"

	"github.com/comx-labs/modemsim/pkg/dispatcher"
	"github.com/comx-labs/modemsim/pkg/events"
	"github.com/comx-labs/modemsim/pkg/logger"
	"github.com/comx-labs/modemsim/pkg/modemconfig"
	"github.com/comx-labs/modemsim/pkg/registry"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the observational REST+WS surface.
type Server struct {
	cfg        modemconfig.MonitorConfig
	dispatcher *dispatcher.CommandDispatcher
	clients    *registry.ClientRegistry
	servers    *registry.ServerRegistry
	events     *events.Bus
	log        *logger.Logger

	srv *http.Server
}

// New builds a monitor Server. It does not start listening until Start
// is called, and does nothing at all if cfg.Enabled is false.
func New(cfg modemconfig.MonitorConfig, d *dispatcher.CommandDispatcher, clients *registry.ClientRegistry, servers *registry.ServerRegistry, bus *events.Bus, log *logger.Logger) *Server {
	return &Server{cfg: cfg, dispatcher: d, clients: clients, servers: servers, events: bus, log: log}
}

// Start binds and serves in a background goroutine. A disabled config
// is a no-op.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}

	r := mux.NewRouter()
	s.registerRoutes(r)

	var handler http.Handler = r
	if s.cfg.AuthJWT {
		handler = newJWTAuth(s.cfg.JWTKey).handler(r)
	}

	addr := s.cfg.Addr
	if addr == "" {
		addr = ":8090"
	}
	s.srv = &http.Server{Addr: addr, Handler: handler}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.log != nil {
				s.log.Error("monitor server error", "error", err)
			}
		}
	}()

	if s.log != nil {
		s.log.Info("monitor server listening", "addr", addr)
	}
	return nil
}

// Stop gracefully shuts the server down. A disabled/never-started
// server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods("GET")
	v1.HandleFunc("/clients", s.handleClients).Methods("GET")

	r.HandleFunc("/ws/events", s.handleEventStream)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
