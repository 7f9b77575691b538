package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cartpilot/internal/domain"
	"cartpilot/internal/infra/logger"
)

func testLogger() *slog.Logger { return logger.Discard() }

// memRegistry is an in-memory domain.SessionRegistry for tests.
type memRegistry struct {
	mu   sync.Mutex
	recs map[string]domain.SessionRecord
}

func newMemRegistry(ids ...string) *memRegistry {
	r := &memRegistry{recs: make(map[string]domain.SessionRecord)}
	now := time.Now()
	for i, id := range ids {
		r.recs[id] = domain.SessionRecord{
			ID: id, ProfilePath: "/p/" + id, Valid: true,
			CreatedAt: now.Add(time.Duration(i) * time.Second), LastUsedAt: now,
		}
	}
	return r
}

func (r *memRegistry) List(context.Context) ([]domain.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	recs := make([]domain.SessionRecord, 0, len(r.recs))
	for _, rec := range r.recs {
		recs = append(recs, rec)
	}
	return recs, nil
}

func (r *memRegistry) Get(_ context.Context, id string) (*domain.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, domain.NewSubSystemError("registry", "memRegistry.Get", domain.ErrNotFound, id)
	}
	return &rec, nil
}

func (r *memRegistry) Save(_ context.Context, rec domain.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[rec.ID] = rec
	return nil
}

func (r *memRegistry) MarkUsed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return domain.NewSubSystemError("registry", "memRegistry.MarkUsed", domain.ErrNotFound, id)
	}
	rec.LastUsedAt = time.Now()
	r.recs[id] = rec
	return nil
}

func (r *memRegistry) Invalidate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[id]
	if !ok {
		return domain.NewSubSystemError("registry", "memRegistry.Invalidate", domain.ErrNotFound, id)
	}
	rec.Valid = false
	r.recs[id] = rec
	return nil
}

func (r *memRegistry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recs, id)
	return nil
}

// fakeHandle is a controllable worker handle for tests that must not depend
// on real processes.
type fakeHandle struct {
	pid  int
	out  *io.PipeReader
	w    *io.PipeWriter
	code int
	exit chan struct{}
	once sync.Once
}

func newFakeHandle(pid int) *fakeHandle {
	pr, pw := io.Pipe()
	return &fakeHandle{pid: pid, out: pr, w: pw, exit: make(chan struct{})}
}

func (h *fakeHandle) PID() int          { return h.pid }
func (h *fakeHandle) Output() io.Reader { return h.out }

func (h *fakeHandle) Wait() int {
	<-h.exit
	return h.code
}

func (h *fakeHandle) Terminate() error {
	h.finish(143)
	return nil
}

func (h *fakeHandle) emit(line string) {
	fmt.Fprintln(h.w, line)
}

func (h *fakeHandle) finish(code int) {
	h.once.Do(func() {
		h.code = code
		h.w.Close()
		close(h.exit)
	})
}

// fakeSpawner records spawn order and hands out fakeHandles.
type fakeSpawner struct {
	mu       sync.Mutex
	spawned  []string
	handles  map[string]*fakeHandle
	failFor  map[string]bool
	autoExit bool // workers finish immediately with one log line
	nextPID  int
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{
		handles: make(map[string]*fakeHandle),
		failFor: make(map[string]bool),
		nextPID: 1000,
	}
}

func (s *fakeSpawner) Spawn(_ context.Context, sessionID string) (domain.WorkerHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[sessionID] {
		return nil, domain.NewDomainError("fakeSpawner.Spawn", domain.ErrSpawnFailure, sessionID)
	}
	s.nextPID++
	h := newFakeHandle(s.nextPID)
	s.spawned = append(s.spawned, sessionID)
	s.handles[sessionID] = h
	if s.autoExit {
		go func() {
			h.emit("worker done")
			h.finish(0)
		}()
	}
	return h, nil
}

func (s *fakeSpawner) spawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spawned)
}

func (s *fakeSpawner) spawnOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.spawned))
	copy(out, s.spawned)
	return out
}

func (s *fakeSpawner) handle(sessionID string) *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[sessionID]
}

// newTestLauncher wires a launcher with fakes and short timeouts.
func newTestLauncher(t *testing.T, spawner domain.Spawner, reg domain.SessionRegistry) (*Launcher, *Tracker, *LogHub) {
	t.Helper()
	tracker := NewTracker()
	logs := NewLogHub(200)
	l := NewLauncher(LauncherConfig{StopTimeout: 2 * time.Second}, spawner, tracker, logs, reg, nil, testLogger())
	return l, tracker, logs
}

// waitForState polls until the session reaches the wanted state or the
// deadline passes.
func waitForState(t *testing.T, tracker *Tracker, id string, want domain.SessionState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if tracker.State(id) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never reached state %s (now %s)", id, want, tracker.State(id))
}
