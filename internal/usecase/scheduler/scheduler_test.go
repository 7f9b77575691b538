package scheduler

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"cartpilot/internal/domain"
	"cartpilot/internal/usecase/orchestrator"
)

type stubRegistry struct {
	mu   sync.Mutex
	recs []domain.SessionRecord
}

func (r *stubRegistry) List(context.Context) ([]domain.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SessionRecord, len(r.recs))
	copy(out, r.recs)
	return out, nil
}

func (r *stubRegistry) Get(_ context.Context, id string) (*domain.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.recs {
		if rec.ID == id {
			return &rec, nil
		}
	}
	return nil, domain.NewSubSystemError("registry", "stubRegistry.Get", domain.ErrNotFound, id)
}

func (r *stubRegistry) Save(context.Context, domain.SessionRecord) error { return nil }
func (r *stubRegistry) MarkUsed(context.Context, string) error           { return nil }
func (r *stubRegistry) Invalidate(context.Context, string) error         { return nil }
func (r *stubRegistry) Delete(context.Context, string) error             { return nil }

// instantSpawner hands out handles that exit immediately with success.
type instantSpawner struct {
	mu      sync.Mutex
	spawned []string
}

type doneHandle struct{}

func (doneHandle) PID() int          { return 4242 }
func (doneHandle) Output() io.Reader { return strings.NewReader("") }
func (doneHandle) Wait() int         { return 0 }
func (doneHandle) Terminate() error  { return nil }

func (s *instantSpawner) Spawn(_ context.Context, sessionID string) (domain.WorkerHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spawned = append(s.spawned, sessionID)
	return doneHandle{}, nil
}

func (s *instantSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spawned)
}

func newTestScheduler(t *testing.T, ids ...string) (*Scheduler, *instantSpawner) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := &stubRegistry{}
	now := time.Now()
	for _, id := range ids {
		reg.recs = append(reg.recs, domain.SessionRecord{ID: id, Valid: true, CreatedAt: now, LastUsedAt: now})
	}
	spawner := &instantSpawner{}
	tracker := orchestrator.NewTracker()
	logs := orchestrator.NewLogHub(200)
	launcher := orchestrator.NewLauncher(orchestrator.LauncherConfig{}, spawner, tracker, logs, reg, nil, log)
	runner := orchestrator.NewRunner(launcher, nil, log, 50*time.Millisecond)
	return New(launcher, runner, nil, log), spawner
}

func TestAddTask_RejectsBadMode(t *testing.T) {
	s, _ := newTestScheduler(t)
	if err := s.AddTask(Task{Name: "x", Schedule: "@hourly", Mode: "turbo"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestAddTask_RejectsBadExpression(t *testing.T) {
	s, _ := newTestScheduler(t)
	if err := s.AddTask(Task{Name: "x", Schedule: "not a cron line", Mode: "parallel"}); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}

func TestScheduler_FiresParallelBatch(t *testing.T) {
	s, spawner := newTestScheduler(t, "alice", "bob")
	if err := s.AddTask(Task{Name: "tick", Schedule: "@every 1s", Mode: "parallel"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if spawner.count() >= 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("scheduled batch never started workers (count=%d)", spawner.count())
}

func TestScheduler_FiresSequentialBatch(t *testing.T) {
	s, spawner := newTestScheduler(t, "alice")
	if err := s.AddTask(Task{Name: "tick", Schedule: "@every 1s", Mode: "sequential"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if spawner.count() >= 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("scheduled sequential batch never started a worker")
}
