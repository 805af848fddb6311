package web

// errors.go turns handler errors into responses. The technical error is
// logged with the request id; the client gets the coded message from
// core.MapError as JSON, or as an HTML fragment for HTMX requests.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/stockcount/internal/core"
	"github.com/JonMunkholm/stockcount/internal/logging"
	"github.com/JonMunkholm/stockcount/internal/web/templates"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errNoFile      = errors.New("no file provided")
	errBadRequest  = errors.New("invalid request body")
)

// ErrorResponse represents the JSON structure for API error responses.
// Code is machine-readable; Message and Action are for people.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var mappingErr *core.MappingError
	var totalErr *core.InvalidTotalError

	switch {
	case errors.Is(err, core.ErrOrgNotFound),
		errors.Is(err, core.ErrProductNotFound),
		errors.Is(err, core.ErrSKUNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &mappingErr),
		errors.As(err, &totalErr),
		errors.Is(err, core.ErrNothingToImport):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrZeroDelta),
		errors.Is(err, core.ErrConfirmationRequired),
		errors.Is(err, core.ErrInvalidProduct),
		errors.Is(err, core.ErrEmptyUpdate),
		errors.Is(err, core.ErrEmptyFile),
		errors.Is(err, core.ErrUnknownColumn),
		errors.Is(err, core.ErrUnknownField),
		errors.Is(err, core.ErrUnknownReport),
		errors.Is(err, errNoFile),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	switch core.MapError(err).Code {
	case "DB001", "DB002":
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes the mapped user message with the status
// statusFor picks.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	)

	if errors.Is(err, core.ErrTooManyImports) {
		w.Header().Set("Retry-After", "5")
	}

	if isHTMX(r) {
		renderErrorPartial(w, r, userMsg, status)
		return
	}
	respondErrorJSON(w, userMsg, status)
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// renderErrorPartial renders an HTMX-compatible error fragment.
func renderErrorPartial(w http.ResponseWriter, r *http.Request, msg core.UserMessage, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ErrorAlert(msg.Message, msg.Action, msg.Code).Render(r.Context(), w); err != nil {
		slog.Error("render error partial", "error", err)
	}
}

// isHTMX checks if the request is an HTMX request.
func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
