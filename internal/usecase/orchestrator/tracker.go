package orchestrator

import (
	"sync"

	"cartpilot/internal/domain"
)

// MalformedPlaceholder is the fixed message rendered for registry records
// that could not be decoded. Listing never fails because of one bad record.
const MalformedPlaceholder = "error reading session data"

// Tracker is the in-memory runtime state of every session: which worker
// handle is live and what lifecycle state the session is in. All other
// orchestrator components go through it, so its lock is the ordering point
// for start/stop races.
type Tracker struct {
	mu      sync.Mutex
	handles map[string]domain.WorkerHandle
	states  map[string]domain.SessionState
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		handles: make(map[string]domain.WorkerHandle),
		states:  make(map[string]domain.SessionState),
	}
}

// Reserve atomically transitions a session to running. It fails with
// ErrAlreadyRunning when the session is already running, which is what
// guarantees at most one worker per session: the reservation happens before
// any process is spawned.
func (t *Tracker) Reserve(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.states[id] == domain.SessionRunning {
		return domain.NewSubSystemError("launcher", "Tracker.Reserve", domain.ErrConflict, id)
	}
	t.states[id] = domain.SessionRunning
	return nil
}

// Attach associates a live worker handle with a reserved session.
func (t *Tracker) Attach(id string, h domain.WorkerHandle) {
	t.mu.Lock()
	t.handles[id] = h
	t.mu.Unlock()
}

// Handle returns the live worker handle for a session, if any.
func (t *Tracker) Handle(id string) (domain.WorkerHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.handles[id]
	return h, ok
}

// Release drops the worker handle for a session. The lifecycle state stays
// whatever it was last marked as.
func (t *Tracker) Release(id string) {
	t.mu.Lock()
	delete(t.handles, id)
	t.mu.Unlock()
}

// MarkState records a lifecycle state for a session.
func (t *Tracker) MarkState(id string, state domain.SessionState) {
	t.mu.Lock()
	t.states[id] = state
	t.mu.Unlock()
}

// MarkExitIfRunning records the terminal state for a session only when it is
// still marked running. Stop paths set their state before terminating the
// worker, so the exit observer must not overwrite it.
func (t *Tracker) MarkExitIfRunning(id string, state domain.SessionState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.states[id] != domain.SessionRunning {
		return false
	}
	t.states[id] = state
	return true
}

// State returns the current lifecycle state of a session.
// Unknown sessions are stopped.
func (t *Tracker) State(id string) domain.SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[id]; ok {
		return s
	}
	return domain.SessionStopped
}

// IsRunning reports whether a session has a running worker.
func (t *Tracker) IsRunning(id string) bool {
	return t.State(id) == domain.SessionRunning
}

// RunningIDs returns the ids of all sessions currently running.
func (t *Tracker) RunningIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for id, s := range t.states {
		if s == domain.SessionRunning {
			ids = append(ids, id)
		}
	}
	return ids
}

// ActiveCount returns the number of running sessions.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.states {
		if s == domain.SessionRunning {
			n++
		}
	}
	return n
}

// TotalCount returns the number of sessions the tracker has seen.
func (t *Tracker) TotalCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

// MergeViews combines registry records with live runtime state. A malformed
// record becomes a placeholder entry instead of failing the listing.
func (t *Tracker) MergeViews(recs []domain.SessionRecord) []domain.SessionView {
	views := make([]domain.SessionView, 0, len(recs))
	for _, rec := range recs {
		if rec.Malformed {
			views = append(views, domain.SessionView{
				ID:     rec.ID,
				Status: domain.SessionError,
				Error:  MalformedPlaceholder,
			})
			continue
		}
		state := t.State(rec.ID)
		views = append(views, domain.SessionView{
			ID:         rec.ID,
			Valid:      rec.Valid,
			CreatedAt:  rec.CreatedAt,
			LastUsedAt: rec.LastUsedAt,
			Status:     state,
			CanStart:   rec.Valid && state != domain.SessionRunning,
			CanStop:    state == domain.SessionRunning,
		})
	}
	return views
}
