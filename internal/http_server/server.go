package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MisTAiM/movienights/internal/content"
	"github.com/MisTAiM/movienights/internal/room"
	"github.com/MisTAiM/movienights/internal/ticket"
)

// RoomDirectory answers discovery for rooms served by this relay
type RoomDirectory interface {
	Snapshot(ctx context.Context, code string) (*room.Room, error)
}

// RouteRegistrar mounts its own routes, like the websocket handler
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// Pinger is a dependency the health check probes
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Tickets *ticket.Service
	Rooms   RoomDirectory
	Titles  content.Source

	// Websocket endpoint, mounted at /ws
	Sockets RouteRegistrar

	// Probed by /health, keyed by name
	Checks map[string]Pinger

	AllowedOrigins []string
}

type Server struct {
	tickets        *ticket.Service
	rooms          RoomDirectory
	titles         content.Source
	sockets        RouteRegistrar
	checks         map[string]Pinger
	allowedOrigins []string
	log            *slog.Logger
	httpServer     *http.Server
}

func New(addr string, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		tickets:        deps.Tickets,
		rooms:          deps.Rooms,
		titles:         deps.Titles,
		sockets:        deps.Sockets,
		checks:         deps.Checks,
		allowedOrigins: deps.AllowedOrigins,
		log:            logger,
	}

	router := s.setupRoutes()

	// No write timeout: websocket connections outlive any single write
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server shutting down gracefully", "addr", s.httpServer.Addr)
	return s.httpServer.Shutdown(ctx)
}
