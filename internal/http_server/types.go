package httpserver

import "time"

type IssueTicketRequest struct {
	RoomCode      string `json:"room_code"`
	ParticipantID string `json:"participant_id"`
}

type IssueTicketResponse struct {
	Ticket    string    `json:"ticket"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Check is the result of probing one dependency
type Check struct {
	Status  string `json:"status"` // "pass" or "fail"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

type ListTitlesResponse struct {
	Titles []TitleResponse `json:"titles"`
	Count  int             `json:"count"`
}

type TitleResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	PlayableURL string `json:"playable_url"`
	PosterURL   string `json:"poster_url,omitempty"`
}
