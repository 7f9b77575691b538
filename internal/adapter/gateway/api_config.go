package gateway

import (
	"encoding/json"
	"net/http"

	"cartpilot/internal/infra/config"
)

func (h *Handlers) getConfig(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.automation
	h.mu.Unlock()

	// Credentials.Password is tagged out of JSON; it never leaves the server.
	writeSuccess(w, map[string]any{"config": current})
}

func (h *Handlers) updateConfig(w http.ResponseWriter, r *http.Request) {
	var updated config.AutomationConfig
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config payload: "+err.Error())
		return
	}
	if updated.Search.MinPrice < 0 || updated.Search.MaxPrice < 0 {
		writeError(w, http.StatusBadRequest, "prices must not be negative")
		return
	}
	if updated.Search.MaxPrice > 0 && updated.Search.MinPrice > updated.Search.MaxPrice {
		writeError(w, http.StatusBadRequest, "min_price must not exceed max_price")
		return
	}

	h.mu.Lock()
	// Password is not part of the payload; keep the configured one.
	updated.Credentials.Password = h.automation.Credentials.Password
	h.automation = updated
	path := h.AutomationPath
	h.mu.Unlock()

	if path != "" {
		if err := config.SaveAutomation(path, updated); err != nil {
			writeError(w, http.StatusInternalServerError, "persist config: "+err.Error())
			return
		}
	}

	writeSuccess(w, map[string]any{"config": updated})
}
