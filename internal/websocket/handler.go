package websocket

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/MisTAiM/movienights/internal/ticket"
	"github.com/MisTAiM/movienights/pkg/httputil"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	manager *Manager
	tickets *ticket.Service
	log     *slog.Logger
}

func NewHandler(manager *Manager, tickets *ticket.Service, log *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		tickets: tickets,
		log:     log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", httputil.Handler(h.HandleConnection, h.log))
}

// HandleConnection authenticates the ticket and hands the request to the
// manager, which serves the connection until it closes
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	// Browsers cannot set headers on websocket requests, so the query param comes first
	token := r.URL.Query().Get("ticket")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		return httputil.Unauthorized("Missing connection ticket")
	}

	claims, err := h.tickets.Validate(token)
	if err != nil {
		return &httputil.HTTPError{
			Status:  http.StatusUnauthorized,
			Message: "Invalid or expired ticket",
			Cause:   err,
		}
	}

	h.log.Info("establishing websocket connection",
		"participant_id", claims.ParticipantID,
		"room_code", claims.RoomCode,
	)

	h.manager.ServeWS(w, r, claims.ParticipantID, claims.RoomCode)
	return nil
}
