package registry

import (
	"net/http"

	"ipadepot/pkg/db"
)

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReadyz confirms the database answers before the process accepts
// traffic; the blob store and bus degrade per-request instead.
func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := db.Ping(r.Context(), a.store.DB); err != nil {
		respondError(w, http.StatusServiceUnavailable, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
