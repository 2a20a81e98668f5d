// Package api provides the HTTP control surface: settings, history, and
// uploads.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/replgate/replgate/internal/history"
	"github.com/replgate/replgate/internal/session"
)

// Handler serves the JSON API.
type Handler struct {
	session   *session.Session
	store     *history.Store
	uploadDir string
}

// NewHandler creates a new API handler.
func NewHandler(sess *session.Session, store *history.Store, uploadDir string) *Handler {
	return &Handler{
		session:   sess,
		store:     store,
		uploadDir: uploadDir,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/settings", h.GetSettings)
		r.Post("/settings", h.SaveSettings)
		r.Post("/settings/reset", h.ResetSettings)

		r.Get("/history", h.ListHistory)
		r.Get("/history/{filename}", h.LoadConversation)
		r.Delete("/history/{filename}", h.DeleteConversation)
		r.Delete("/history", h.DeleteAllHistory)

		r.Post("/upload", h.Upload)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Fail writes the error envelope every endpoint uses: human-readable text,
// no structured error codes.
func Fail(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]interface{}{"success": false, "error": message})
}
