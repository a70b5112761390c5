package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/MHubAI/SlicerMHubRunner/internal/catalog"
	"github.com/MHubAI/SlicerMHubRunner/internal/engine"
	"github.com/MHubAI/SlicerMHubRunner/internal/orchestrator"
	"github.com/MHubAI/SlicerMHubRunner/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusForError maps service errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case catalog.IsModelNotFound(err),
		orchestrator.IsJobNotFound(err),
		engine.IsImageNotFound(err),
		engine.IsNotFound(err):
		return http.StatusNotFound
	case orchestrator.IsAlreadyTerminal(err),
		orchestrator.IsJobActive(err),
		orchestrator.IsInputBusy(err),
		engine.IsImageInUse(err):
		return http.StatusConflict
	case orchestrator.IsInvalidRequest(err):
		return http.StatusBadRequest
	case engine.IsInvalidMount(err):
		return http.StatusUnprocessableEntity
	case engine.IsEngineUnavailable(err):
		return http.StatusServiceUnavailable
	case catalog.IsCatalogUnreachable(err), engine.IsPull(err):
		return http.StatusBadGateway
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeServiceError maps err to a status code and writes the JSON payload.
func writeServiceError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusForError(err), err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
