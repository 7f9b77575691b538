package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cartpilot/internal/domain"
)

// endOfBatch is the sentinel enqueued after the real entries. Dequeuing it
// tells the loop the batch is drained, without the loop having to count.
const endOfBatch = "\x00end-of-batch"

// Runner executes sequential batches: one worker at a time, each entry
// waiting for the previous worker to exit before starting. At most one batch
// is active; a second Begin is rejected while the loop goroutine lives.
type Runner struct {
	launcher    *Launcher
	bus         domain.EventBus
	logger      *slog.Logger
	dequeueWait time.Duration

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
}

// NewRunner creates a sequential runner.
func NewRunner(launcher *Launcher, bus domain.EventBus, logger *slog.Logger, dequeueWait time.Duration) *Runner {
	if dequeueWait <= 0 {
		dequeueWait = time.Second
	}
	return &Runner{
		launcher:    launcher,
		bus:         bus,
		logger:      logger,
		dequeueWait: dequeueWait,
	}
}

// Active reports whether a sequential batch is in progress.
func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Begin starts a sequential batch over the given session ids. It returns
// immediately; the batch runs in a single loop goroutine. A batch already in
// progress is rejected with ErrAlreadyActive.
func (r *Runner) Begin(sessionIDs []string) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return domain.NewSubSystemError("runner", "Runner.Begin", domain.ErrConflict, "sequential batch in progress")
	}
	r.active = true
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.mu.Unlock()

	queue := make(chan string, len(sessionIDs)+1)
	for _, id := range sessionIDs {
		queue <- id
	}
	queue <- endOfBatch

	r.emitEvent(ctx, domain.EventRunnerBegan)
	r.logger.Info("sequential batch began", "sessions", len(sessionIDs))

	go r.loop(ctx, queue)
	return nil
}

// Cancel stops the active batch: no further entries are started. The
// in-flight worker keeps running; StopAll is the forceful counterpart that
// kills it. Cancelling an idle runner is a no-op.
func (r *Runner) Cancel() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// loop is the only goroutine that dequeues. The bounded dequeue wait keeps
// cancellation responsive even if the queue ever sits empty.
func (r *Runner) loop(ctx context.Context, queue chan string) {
	defer r.finish()

	for {
		select {
		case <-ctx.Done():
			r.emitEvent(context.Background(), domain.EventRunnerCancelled)
			r.logger.Info("sequential batch cancelled")
			return
		case id := <-queue:
			if id == endOfBatch {
				r.emitEvent(context.Background(), domain.EventRunnerDrained)
				r.logger.Info("sequential batch drained")
				return
			}
			r.runEntry(ctx, id)
		case <-time.After(r.dequeueWait):
			// Re-check cancellation.
		}
	}
}

// runEntry starts one session and blocks until its worker exits. A failed
// start is logged and skipped so the rest of the batch still runs.
func (r *Runner) runEntry(ctx context.Context, sessionID string) {
	handle, err := r.launcher.StartOne(ctx, sessionID)
	if err != nil {
		r.logger.Warn("sequential entry failed to start", "session_id", sessionID, "error", err)
		return
	}

	exited := make(chan struct{})
	go func() {
		handle.Wait()
		close(exited)
	}()

	select {
	case <-exited:
	case <-ctx.Done():
		// Cancellation is cooperative: the in-flight worker is left running.
		r.logger.Info("batch cancelled with worker in flight", "session_id", sessionID)
	}
}

func (r *Runner) finish() {
	r.mu.Lock()
	r.active = false
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()
}

func (r *Runner) emitEvent(ctx context.Context, eventType domain.EventType) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(ctx, domain.Event{Type: eventType, Timestamp: time.Now()})
}
