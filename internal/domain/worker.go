package domain

import (
	"context"
	"io"
)

// WorkerHandle is a live automation worker process. Exactly one live handle
// exists per session id at any time.
type WorkerHandle interface {
	// PID returns the OS process id.
	PID() int
	// Output is the merged stdout+stderr stream of the worker. It yields
	// newline-delimited progress text and reaches EOF when the process exits.
	Output() io.Reader
	// Wait blocks until the process exits and returns its exit code.
	// Safe to call from multiple goroutines; all callers observe the same code.
	Wait() int
	// Terminate sends a graceful termination signal. It does not wait.
	Terminate() error
}

// Spawner creates a worker process for the given session id. The concrete
// implementation execs the configured worker command; tests substitute fakes.
type Spawner interface {
	Spawn(ctx context.Context, sessionID string) (WorkerHandle, error)
}

// SessionRegistry is the durable store of login sessions.
type SessionRegistry interface {
	List(ctx context.Context) ([]SessionRecord, error)
	Get(ctx context.Context, id string) (*SessionRecord, error)
	Save(ctx context.Context, rec SessionRecord) error
	MarkUsed(ctx context.Context, id string) error
	Invalidate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}
