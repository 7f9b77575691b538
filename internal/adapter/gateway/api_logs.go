package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

func (h *Handlers) getLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	limit := h.DrainLimit
	v := r.URL.Query().Get("limit")
	if v == "" {
		v = r.URL.Query().Get("max")
	}
	if v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs := h.Logs.Drain(id, limit)
	writeSuccess(w, map[string]any{
		"session_id": id,
		"logs":       recs,
		"count":      len(recs),
		"running":    h.Tracker.IsRunning(id),
	})
}

// streamLogs pushes new log records over Server-Sent Events. Only records
// appended after the stream opens are sent; heartbeat comments keep the
// connection alive while the worker is quiet.
func (h *Handlers) streamLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub, unsub := h.Logs.Subscribe(id)
	defer unsub()

	heartbeat := time.NewTicker(h.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case rec := <-sub:
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
