package web

// errors.go provides unified error response handling for the web layer.
// Handlers call respondError with whatever the engine returned; the error
// is mapped to an HTTP status plus a user-facing message with an action
// suggestion, and the technical detail is logged with the request id.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/formatrack/importd/internal/importer"
)

// ErrorResponse is the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action)
// fields.
type ErrorResponse struct {
	Error              string                 `json:"error"`
	Message            string                 `json:"message"`
	Action             string                 `json:"action,omitempty"`
	Code               string                 `json:"code"`
	RemainingConflicts []importer.ConflictKey `json:"remainingConflicts,omitempty"`
}

// respondError maps an engine error to an HTTP response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := importer.MapError(err)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", chimw.GetReqID(r.Context()),
	)

	resp := ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	}

	// Confirm-before-resolution failures carry the keys still blocking.
	var unresolved *importer.ConflictsUnresolvedError
	if errors.As(err, &unresolved) {
		resp.RemainingConflicts = unresolved.Remaining
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var unresolved *importer.ConflictsUnresolvedError
	switch {
	case errors.Is(err, importer.ErrInvalidInput),
		errors.Is(err, importer.ErrTargetMissing):
		return http.StatusBadRequest
	case errors.Is(err, importer.ErrSessionNotFound),
		errors.Is(err, importer.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, importer.ErrSessionClosed),
		errors.As(err, &unresolved):
		return http.StatusConflict
	case errors.Is(err, importer.ErrTooManyPreviews):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
