package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"counters/internal/core"
)

// viewHeader carries the view id on htmx requests.
const viewHeader = "X-View-ID"

func newViewID() string {
	return uuid.NewString()
}

// viewID reads the view id from the header, the form or the query string.
func viewID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(viewHeader)); id != "" {
		return id
	}
	if err := r.ParseForm(); err == nil {
		if id := strings.TrimSpace(r.FormValue("view")); id != "" {
			return id
		}
	}
	return ""
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return stripControl(s)
}

// stripControl removes control characters other than tab and newlines,
// leaving the rest of the input exactly as typed.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// allowMethod writes a 405 unless r uses method.
func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	MethodNotAllowedError(method).Write(w)
	return false
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var fe *core.FieldError
	switch {
	case errors.As(err, &fe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNotConfirmed), errors.Is(err, core.ErrInvalidDelta):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNoSelection):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// userMessage is the notification text shown for err.
func userMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return "The category no longer exists."
	case errors.Is(err, core.ErrNotConfirmed):
		return "Please confirm the deletion."
	case errors.Is(err, core.ErrNoSelection):
		return "Select a category first."
	case errors.Is(err, core.ErrInvalidDelta):
		return "Unsupported counter step."
	default:
		return "The request could not be completed. Please try again."
	}
}
