package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerMapsErrors(t *testing.T) {
	log := slog.New(slog.DiscardHandler)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{name: "bad request", err: BadRequest("Invalid room code"), wantStatus: http.StatusBadRequest, wantMsg: "Invalid room code"},
		{name: "not found", err: NotFound("Room not found"), wantStatus: http.StatusNotFound, wantMsg: "Room not found"},
		{name: "unauthorized", err: Unauthorized("Missing connection ticket"), wantStatus: http.StatusUnauthorized, wantMsg: "Missing connection ticket"},
		{name: "internal hides cause", err: Internal(errors.New("pool exhausted")), wantStatus: http.StatusInternalServerError, wantMsg: "Something went wrong"},
		{name: "plain error", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantMsg: "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Handler(func(w http.ResponseWriter, r *http.Request) error { return tt.err }, log)

			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["error"] != tt.wantMsg {
				t.Fatalf("error = %v, want %q", body["error"], tt.wantMsg)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var target struct {
		RoomCode string `json:"room_code"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"room_code":"X7K2QP"}`))
	if err := DecodeJSON(req, &target); err != nil || target.RoomCode != "X7K2QP" {
		t.Fatalf("DecodeJSON = %v, %+v", err, target)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"unknown":1}`))
	var httpErr *HTTPError
	if err := DecodeJSON(req, &target); !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadRequest {
		t.Fatalf("unknown field: err = %v", err)
	}
}
