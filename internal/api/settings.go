package api

import (
	"encoding/json"
	"net/http"

	"github.com/replgate/replgate/internal/settings"
)

// GetSettings handles GET /api/settings: the current snapshot as flat JSON.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.session.Snapshot())
}

// SaveSettings handles POST /api/settings. The body is the flat settings
// mapping; keys present are applied, keys absent stay untouched, unknown
// keys are ignored.
func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	var patch settings.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		Fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.session.Apply(r.Context(), patch); err != nil {
		Fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Settings saved"})
}

// ResetSettings handles POST /api/settings/reset: discards the engine's
// state entirely and reinitializes from defaults.
func (h *Handler) ResetSettings(w http.ResponseWriter, r *http.Request) {
	if _, err := h.session.Reset(r.Context()); err != nil {
		Fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Settings reset"})
}
