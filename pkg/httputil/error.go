package httputil

import (
	"net/http"
)

// HTTPError is an error with a client-facing status and message. Cause is
// logged but never sent.
type HTTPError struct {
	Status  int
	Message string
	Cause   error
	Details any
}

func (e *HTTPError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Cause
}

// BadRequest takes optional details, one value or many
func BadRequest(msg string, details ...any) error {
	var d any
	switch len(details) {
	case 0:
	case 1:
		d = details[0]
	default:
		d = details
	}
	return &HTTPError{Status: http.StatusBadRequest, Message: msg, Details: d}
}

func Unauthorized(msg string) error {
	return &HTTPError{Status: http.StatusUnauthorized, Message: msg}
}

func NotFound(msg string) error {
	return &HTTPError{Status: http.StatusNotFound, Message: msg}
}

// Internal hides err from the client
func Internal(err error) error {
	return &HTTPError{
		Status:  http.StatusInternalServerError,
		Message: "Something went wrong",
		Cause:   err,
	}
}
