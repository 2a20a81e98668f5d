package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/replgate/replgate/internal/history"
)

// ListHistory handles GET /api/history: previews of every persisted
// conversation, newest first. Corrupt files are excluded, not reported.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.store.List()
	if err != nil {
		Fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"conversations": summaries})
}

// LoadConversation handles GET /api/history/{filename}. Loading a
// conversation also installs it as the engine's active message list:
// viewing history resumes it.
func (h *Handler) LoadConversation(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	msgs, err := h.store.Load(filename)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			Fail(w, http.StatusNotFound, "Conversation not found")
			return
		}
		Fail(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := h.session.SetMessages(r.Context(), msgs); err != nil {
		Fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"success": true, "messages": msgs})
}

// DeleteConversation handles DELETE /api/history/{filename}. Idempotent:
// deleting a conversation that never existed succeeds.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if err := h.store.Delete(filename); err != nil && !errors.Is(err, history.ErrNotFound) {
		Fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// DeleteAllHistory handles DELETE /api/history.
func (h *Handler) DeleteAllHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteAll(); err != nil {
		Fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
