package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// maxBodySize bounds request bodies read by DecodeJSON
const maxBodySize = 1 << 20

// HandlerFunc is an http handler that reports failure by returning an error
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// Handler adapts h to http.HandlerFunc, answering returned errors with RespondError
func Handler(h HandlerFunc, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			RespondError(w, r, err, log)
		}
	}
}

// RespondError writes err as a JSON error body. Errors that are not an
// *HTTPError become a 500 with a generic message.
func RespondError(w http.ResponseWriter, r *http.Request, err error, log *slog.Logger) {
	reqID := middleware.GetReqID(r.Context())
	if reqID == "" {
		reqID = "unknown"
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		httpErr = &HTTPError{
			Status:  http.StatusInternalServerError,
			Message: "Internal Server Error",
			Cause:   err,
		}
	}

	attrs := []any{
		"error", err,
		"status", httpErr.Status,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", reqID,
	}
	if httpErr.Status >= http.StatusInternalServerError {
		log.Error("request failed", attrs...)
	} else {
		log.Warn("client error", attrs...)
	}

	body := map[string]any{
		"error":      httpErr.Message,
		"request_id": reqID,
	}
	if httpErr.Details != nil {
		body["details"] = httpErr.Details
	}

	_ = RespondJSON(w, httpErr.Status, body)
}

// RespondJSON writes data as a JSON body with the given status
func RespondJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// DecodeJSON strictly decodes the request body into target
func DecodeJSON(r *http.Request, target any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return BadRequest("Request body is required")
	}

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(target); err != nil {
		return BadRequest("Invalid JSON format", map[string]string{
			"parse_error": err.Error(),
		})
	}

	return nil
}
