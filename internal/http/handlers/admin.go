package handlers

import "net/http"

func (api *API) AdminStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	stats, err := api.queueAPI.Stats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load queue stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
