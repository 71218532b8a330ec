package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"labvault/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("[Handler] Failed to encode response: %v", err)
		}
	}
}

// writeError maps the engine's error taxonomy onto HTTP statuses. Not-found
// and kind-mismatch stay distinguishable; conflicts never reach this point,
// the repositories resolve them internally.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrKindMismatch):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		log.Printf("[Handler] Internal error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
