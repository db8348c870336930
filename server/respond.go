package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/c360studio/draftloop/workflow"
)

// errorBody is the error envelope every failing response carries. ErrorID
// correlates the response with the server log line.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	ErrorID string `json:"error_id"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// actionResponse acknowledges a workflow control action (start, stop,
// rollback). Data carries action-specific fields such as the task ID.
type actionResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func respondError(w http.ResponseWriter, logger *slog.Logger, status int, code, message string) {
	errorID := uuid.NewString()
	logger.Warn("request failed",
		"status", status,
		"code", code,
		"message", message,
		"error_id", errorID)
	respondJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		ErrorID: errorID,
	}})
}

// respondDomainError maps workflow sentinel errors onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		respondError(w, logger, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, workflow.ErrConflict):
		respondError(w, logger, http.StatusConflict, "conflict", "workflow already running")
	default:
		respondError(w, logger, http.StatusInternalServerError, "internal", err.Error())
	}
}
