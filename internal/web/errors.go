package web

// errors.go provides unified error responses for the API.
//
// Every error is logged with its technical detail and request ID, then
// returned to the client as the user-facing message from core.MapError so
// the same code appears in logs, the load log, and API responses.

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/rollload/internal/core"
	"github.com/JonMunkholm/rollload/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes its user-facing form. A zero status is
// derived from the error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = statusFor(err)
	}
	ue := core.NewUserError(err)

	log := logging.FromContext(r.Context())
	level := slog.LevelError
	if core.IsUserFacing(err) && status < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	log.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", ue.Technical.Error(),
		"code", ue.User.Code,
	)

	writeJSON(w, status, ErrorResponse{
		Error:   ue.Error(),
		Message: ue.User.Message,
		Action:  ue.User.Action,
		Code:    ue.User.Code,
	})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrRunNotFound), errors.Is(err, core.ErrUnknownFileType):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRunInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
