package gateway

import (
	"net/http"
)

func (h *Handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	views, err := h.Launcher.ListSessions(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"sessions": views})
}

func (h *Handlers) startSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	handle, err := h.Launcher.StartOne(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, map[string]any{
		"session_id": id,
		"pid":        handle.PID(),
	})
}

func (h *Handlers) stopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Launcher.StopOne(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"session_id": id})
}

func (h *Handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.Tracker.IsRunning(id) {
		if err := h.Launcher.StopOne(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	if err := h.Registry.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"session_id": id})
}

func (h *Handlers) startAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.Launcher.StartAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, map[string]any{
		"started":         result.Started,
		"failed":          result.Failed,
		"total_attempted": result.TotalAttempted,
	})
}

func (h *Handlers) startAllSequential(w http.ResponseWriter, r *http.Request) {
	views, err := h.Launcher.ListSessions(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var ids []string
	for _, v := range views {
		if v.CanStart {
			ids = append(ids, v.ID)
		}
	}
	if err := h.Runner.Begin(ids); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w, map[string]any{"queued": ids})
}

func (h *Handlers) stopAll(w http.ResponseWriter, r *http.Request) {
	sequentialCancelled := h.Runner.Active()
	h.Runner.Cancel()

	result := h.Launcher.StopAll(r.Context())
	writeSuccess(w, map[string]any{
		"stopped":              result.Stopped,
		"failed":               result.Failed,
		"sequential_cancelled": sequentialCancelled,
	})
}
