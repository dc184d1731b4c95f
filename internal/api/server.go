// Package api exposes the monitor state over HTTP: a REST surface for
// point-in-time reads and a websocket stream of change events.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/procsentry/procsentry/internal/config"
	"github.com/procsentry/procsentry/internal/logger"
	"github.com/procsentry/procsentry/internal/monitor"
)

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	engine    *monitor.Engine
	configMgr *config.Manager
	upgrader  websocket.Upgrader
}

// NewServer creates a new API server around a running engine.
func NewServer(engine *monitor.Engine, configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		engine:    engine,
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/stream", s.handleStream)
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the HTTP handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start starts the HTTP server
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logger.WithComponent("api").Info().Str("addr", addr).Msg("API server listening")
	return http.ListenAndServe(addr, s.Handler())
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// stateResponse is the externally persisted shape of the monitor state.
type stateResponse struct {
	Target    string        `json:"target"`
	IsRunning bool          `json:"is_running"`
	State     monitor.State `json:"state"`
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stateResponse{
		Target:    s.engine.Target(),
		IsRunning: s.engine.IsRunning(),
		State:     s.engine.State(),
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.configMgr.Get()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "ok",
		"target":     s.engine.Target(),
		"is_running": s.engine.IsRunning(),
	})
}

// handleStream upgrades to a websocket and forwards change events. The
// current state is sent first so consumers start consistent.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events := s.engine.Subscribe()
	defer s.engine.Unsubscribe(events)

	state := s.engine.State()
	initial := monitor.Event{
		IsActive:     state.IsActive,
		Snapshot:     state.LastMetadata,
		ActiveWindow: state.LastActiveWindow,
		At:           state.LastUpdate,
	}
	if err := conn.WriteJSON(initial); err != nil {
		log.Debug().Err(err).Msg("websocket write failed")
		return
	}

	// Drain client frames so closes are noticed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-clientGone:
			return
		}
	}
}
