package orchestrator

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"cartpilot/internal/domain"
)

// ExecSpawner launches the configured worker executable, one process per
// session. The session id is passed via --use-session so a worker can find
// its browser profile.
type ExecSpawner struct {
	Command string
	Args    []string
	WorkDir string
}

// Spawn starts a worker for the session and returns its handle. Stdout and
// stderr are merged into a single stream so log order matches what the
// worker printed.
func (s *ExecSpawner) Spawn(ctx context.Context, sessionID string) (domain.WorkerHandle, error) {
	args := make([]string, 0, len(s.Args)+2)
	args = append(args, s.Args...)
	args = append(args, "--use-session", sessionID)

	// The worker outlives the request that started it; request contexts are
	// cancelled as soon as the handler returns. Only Terminate (via StopOne)
	// ends a worker. WithoutCancel keeps the caller's values without
	// inheriting its cancellation.
	cmd := exec.CommandContext(context.WithoutCancel(ctx), s.Command, args...)
	cmd.Dir = s.WorkDir

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, domain.NewDomainError("Spawner.Spawn", domain.ErrSpawnFailure, err.Error())
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, domain.NewDomainError("Spawner.Spawn", domain.ErrSpawnFailure, err.Error())
	}
	// The child holds its own copy of the write end. Closing ours makes the
	// read end hit EOF when the child exits.
	pw.Close()

	return &execHandle{cmd: cmd, out: pr, done: make(chan struct{})}, nil
}

type execHandle struct {
	cmd  *exec.Cmd
	out  io.ReadCloser
	once sync.Once
	code int
	done chan struct{}
}

func (h *execHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Output() io.Reader {
	return h.out
}

// Wait blocks until the worker exits and returns its exit code. Safe for
// concurrent callers; all observe the same code.
func (h *execHandle) Wait() int {
	h.once.Do(func() {
		err := h.cmd.Wait()
		switch e := err.(type) {
		case nil:
			h.code = 0
		case *exec.ExitError:
			h.code = e.ExitCode()
		default:
			h.code = -1
		}
		h.out.Close()
		close(h.done)
	})
	<-h.done
	return h.code
}

// Terminate asks the worker to exit gracefully. It does not wait.
func (h *execHandle) Terminate() error {
	return h.cmd.Process.Signal(syscall.SIGTERM)
}
