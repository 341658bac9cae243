package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MisTAiM/movienights/pkg/httputil"
)

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware block
	r.Use(s.Metrics)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.RequestLogger)
	r.Use(middleware.Recoverer)

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Post("/tickets", httputil.Handler(s.handleIssueTicket, s.log))
		r.Get("/rooms/{code}", httputil.Handler(s.handleGetRoom, s.log))

		r.Route("/titles", func(r chi.Router) {
			r.Get("/", httputil.Handler(s.handleListTitles, s.log))
			r.Get("/{id}", httputil.Handler(s.handleGetTitle, s.log))
		})
	})

	if s.sockets != nil {
		r.Route("/ws", s.sockets.RegisterRoutes)
	} else {
		r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "websocket relay disabled", http.StatusNotImplemented)
		})
	}

	return r
}
