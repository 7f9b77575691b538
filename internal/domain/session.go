package domain

import "time"

// SessionState is the lifecycle state of a session's automation worker.
type SessionState string

const (
	SessionStopped  SessionState = "stopped"
	SessionRunning  SessionState = "running"
	SessionFinished SessionState = "finished"
	SessionError    SessionState = "error"
)

// Session-creation states form a parallel lifecycle reported by the login
// flow only; the tracker never stores them.
const (
	SessionCreating      SessionState = "creating"
	SessionAwaitingLogin SessionState = "awaiting_login"
	SessionReady         SessionState = "ready"
)

// SessionRecord is a persisted login session as stored in the registry.
// ID is the user identifier (email or mobile) and is the correlation key
// for every other piece of per-session bookkeeping.
type SessionRecord struct {
	ID          string    `json:"id"`
	ProfilePath string    `json:"profile_path"`
	Valid       bool      `json:"valid"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`

	// Malformed marks a record whose stored form could not be decoded.
	// Listings render such records as a fixed error placeholder instead of
	// failing the whole operation.
	Malformed bool `json:"-"`
}

// SessionView is a SessionRecord merged with live runtime state.
type SessionView struct {
	ID         string       `json:"id"`
	Valid      bool         `json:"valid"`
	CreatedAt  time.Time    `json:"created_at,omitzero"`
	LastUsedAt time.Time    `json:"last_used_at,omitzero"`
	Status     SessionState `json:"status"`
	CanStart   bool         `json:"can_start"`
	CanStop    bool         `json:"can_stop"`
	// Error carries the placeholder message for records that could not be read.
	Error string `json:"error,omitempty"`
}

// LogRecord is one line of worker output attributed to a session.
type LogRecord struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
}

// BatchResult reports the outcome of a start-all operation. Both sides are
// always populated so callers see failures alongside successes.
type BatchResult struct {
	Started        []string     `json:"started"`
	Failed         []BatchError `json:"failed"`
	TotalAttempted int          `json:"total_attempted"`
}

// BatchError pairs a session id with the error that stopped it.
type BatchError struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error"`
}

// StopResult reports the outcome of a stop-all operation.
type StopResult struct {
	Stopped             []string     `json:"stopped"`
	Failed              []BatchError `json:"failed"`
	SequentialCancelled bool         `json:"sequential_cancelled"`
}
