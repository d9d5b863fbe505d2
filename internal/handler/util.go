package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/calmline-ai/counsel-chat/internal/history"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeStoreError maps the history error taxonomy onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, history.ErrConflict):
		writeError(w, http.StatusConflict, "conversation exists with different members")
	case history.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
