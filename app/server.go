package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"pagesync/pkg/config"
	"pagesync/pkg/db"
	"pagesync/pkg/handlers"
	"pagesync/pkg/room"
	"pagesync/pkg/workspace"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Server represents the application server
type Server struct {
	router   *mux.Router
	registry *workspace.Registry
	hub      *room.Hub
	handlers *handlers.Handlers
	docStore db.DocumentStore
	config   *config.Config
	logger   zerolog.Logger

	mutex      sync.Mutex
	httpServer *http.Server
}

// NewServer opens the configured store and wires the registry, hub and handlers
// behind a router.
func NewServer(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	docStore, err := db.OpenDocumentStore(cfg.GetStoreDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return NewServerWithStore(cfg, docStore, logger), nil
}

// NewServerWithStore builds a server around an already opened store.
func NewServerWithStore(cfg *config.Config, docStore db.DocumentStore, logger zerolog.Logger) *Server {
	registry := workspace.NewRegistry(docStore, logger)
	hub := room.NewHub(logger)

	h := handlers.NewHandlers(registry, hub, logger, handlers.Options{
		MaxMessageBytes: cfg.MaxMessageBytes,
		SendBuffer:      cfg.SendBuffer,
	})

	r := mux.NewRouter()

	// WebSocket endpoint for the sync protocol
	r.HandleFunc("/ws", h.HandleWebSocket)

	// REST API endpoints (read-only)
	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.HandleFunc("/api/workspaces/{workspaceId}/meta", h.GetMeta).Methods("GET")
	r.HandleFunc("/api/workspaces/{workspaceId}/pages", h.GetPages).Methods("GET")
	r.HandleFunc("/api/workspaces/{workspaceId}/pages/{pageId}/events", h.GetEvents).Methods("GET")
	r.HandleFunc("/api/workspaces/{workspaceId}/connections", h.GetConnections).Methods("GET")

	return &Server{
		router:   r,
		registry: registry,
		hub:      hub,
		handlers: h,
		docStore: docStore,
		config:   cfg,
		logger:   logger.With().Str("component", "server").Logger(),
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.router)
}

// Start starts the server and blocks until it stops.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.config.GetServerAddr()
	}
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	s.mutex.Lock()
	s.httpServer = srv
	s.mutex.Unlock()

	s.logger.Info().Str("addr", addr).Msg("starting sync server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight HTTP requests.
// Hijacked websocket connections are not tracked by net/http and end with the process.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mutex.Lock()
	srv := s.httpServer
	s.mutex.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// corsMiddleware handles CORS headers and responds to preflight requests
// at the outer layer so they don't get rejected by method-restricted routes.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		w.Header().Set("Access-Control-Max-Age", "600")
		w.Header().Add("Vary", "Origin")
		w.Header().Add("Vary", "Access-Control-Request-Headers")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Close closes the store
func (s *Server) Close() error {
	return s.docStore.Close()
}
