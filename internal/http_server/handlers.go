package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MisTAiM/movienights/internal/content"
	"github.com/MisTAiM/movienights/internal/metrics"
	"github.com/MisTAiM/movienights/internal/room"
	"github.com/MisTAiM/movienights/internal/websocket"
	"github.com/MisTAiM/movienights/pkg/httputil"
)

// handleHealth probes every configured dependency
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check, len(s.checks))
	allHealthy := true

	for name, p := range s.checks {
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			s.log.Warn("health check failed", "check", name, "error", err)
			checks[name] = Check{Status: "fail", Message: "connection failed"}
			allHealthy = false
			continue
		}
		checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	_ = httputil.RespondJSON(w, statusCode, HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleIssueTicket issues a connection ticket for the relay websocket.
// The room need not exist yet: a creating host connects before publishing.
func (s *Server) handleIssueTicket(w http.ResponseWriter, r *http.Request) error {
	req := new(IssueTicketRequest)
	if err := httputil.DecodeJSON(r, req); err != nil {
		return err
	}

	code := room.NormalizeCode(req.RoomCode)
	if !room.ValidCode(code) {
		return httputil.BadRequest("Invalid room code")
	}
	participantID := strings.TrimSpace(req.ParticipantID)
	if participantID == "" {
		return httputil.BadRequest("participant_id is required")
	}

	token, expiresAt, err := s.tickets.Issue(code, participantID)
	if err != nil {
		return httputil.Internal(err)
	}
	metrics.TicketsIssued.Inc()

	s.log.Debug("ticket issued",
		"room_code", code,
		"participant_id", participantID,
	)

	return httputil.RespondJSON(w, http.StatusCreated, IssueTicketResponse{
		Ticket:    token,
		ExpiresAt: expiresAt,
	})
}

// handleGetRoom serves the retained snapshot of a live room
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) error {
	code := room.NormalizeCode(chi.URLParam(r, "code"))
	if !room.ValidCode(code) {
		return httputil.NotFound("Room not found")
	}

	snap, err := s.rooms.Snapshot(r.Context(), code)
	if errors.Is(err, websocket.ErrRoomNotFound) {
		return httputil.NotFound("Room not found")
	}
	if err != nil {
		return httputil.Internal(err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	return json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleListTitles(w http.ResponseWriter, r *http.Request) error {
	resp := ListTitlesResponse{Titles: []TitleResponse{}}

	if s.titles != nil {
		titles, err := s.titles.List(r.Context())
		if err != nil {
			return httputil.Internal(err)
		}
		for _, t := range titles {
			resp.Titles = append(resp.Titles, toTitleResponse(t))
		}
	}
	resp.Count = len(resp.Titles)

	return httputil.RespondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTitle(w http.ResponseWriter, r *http.Request) error {
	if s.titles == nil {
		return httputil.NotFound("Title not found")
	}

	t, err := s.titles.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, content.ErrTitleNotFound) {
		return httputil.NotFound("Title not found")
	}
	if err != nil {
		return httputil.Internal(err)
	}

	return httputil.RespondJSON(w, http.StatusOK, toTitleResponse(t))
}

func toTitleResponse(t content.Title) TitleResponse {
	return TitleResponse{
		ID:          t.ID,
		Title:       t.Title,
		PlayableURL: t.PlayableURL,
		PosterURL:   t.PosterURL,
	}
}
