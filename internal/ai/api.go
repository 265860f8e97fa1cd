package ai

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the completion provider status
type Handler struct {
	client *Client
}

// NewHandler creates a new AI handler
func NewHandler(client *Client) *Handler {
	return &Handler{client: client}
}

// Routes registers the AI routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", h.HealthCheck)
	return r
}

// HealthCheck reports whether the completion provider is reachable. A
// disabled provider is healthy: extraction runs on the keyword classifier.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	err := h.client.Health(r.Context())
	switch {
	case errors.Is(err, ErrDisabled):
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "disabled",
			"mode":   "keyword_fallback",
		})
	case err != nil:
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"model":  h.client.Model(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
