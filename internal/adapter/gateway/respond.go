package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"cartpilot/internal/domain"
)

// Every REST response carries a status field so the panel can branch on it
// without inspecting HTTP codes.
const (
	statusSuccess = "success"
	statusError   = "error"
)

func writeJSON(w http.ResponseWriter, code int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// writeSuccess merges extra fields into a success envelope.
func writeSuccess(w http.ResponseWriter, extra map[string]any) {
	body := map[string]any{"status": statusSuccess}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// writeError emits an error envelope with the given HTTP code.
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{
		"status":  statusError,
		"message": message,
	})
}

// writeDomainError maps a domain error onto an HTTP status and emits the
// error envelope, including the machine-parseable code.
func writeDomainError(w http.ResponseWriter, err error) {
	code := domain.ErrorCodeOf(err)

	httpStatus := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httpStatus = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		httpStatus = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrSessionInvalid):
		httpStatus = http.StatusBadRequest
	case errors.Is(err, domain.ErrTimeout):
		httpStatus = http.StatusGatewayTimeout
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":  statusError,
		"message": err.Error(),
		"code":    string(code),
	})
}
