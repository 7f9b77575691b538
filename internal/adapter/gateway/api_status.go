package gateway

import (
	"net/http"
	"time"
)

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]any{
		"active_sessions":   h.Tracker.ActiveCount(),
		"total_sessions":    h.Tracker.TotalCount(),
		"sequential_active": h.Runner.Active(),
		"uptime_seconds":    int64(time.Since(h.startTime).Seconds()),
	})
}
