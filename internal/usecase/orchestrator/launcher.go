package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"cartpilot/internal/domain"
	"cartpilot/internal/infra/tracer"
)

// LauncherConfig holds configuration for the Launcher.
type LauncherConfig struct {
	StopTimeout   time.Duration // graceful terminate wait (default: 10s)
	StartInterval time.Duration // pacing between start-all spawns (0 disables)
}

// Launcher starts and stops automation workers, one per session. It owns the
// parallel batch operations; sequential batches go through the Runner, which
// delegates individual starts back here.
type Launcher struct {
	config   LauncherConfig
	spawner  domain.Spawner
	tracker  *Tracker
	logs     *LogHub
	registry domain.SessionRegistry
	bus      domain.EventBus
	logger   *slog.Logger
	limiter  *rate.Limiter
}

// NewLauncher creates a Launcher.
func NewLauncher(cfg LauncherConfig, spawner domain.Spawner, tracker *Tracker, logs *LogHub, reg domain.SessionRegistry, bus domain.EventBus, logger *slog.Logger) *Launcher {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	l := &Launcher{
		config:   cfg,
		spawner:  spawner,
		tracker:  tracker,
		logs:     logs,
		registry: reg,
		bus:      bus,
		logger:   logger,
	}
	if cfg.StartInterval > 0 {
		l.limiter = rate.NewLimiter(rate.Every(cfg.StartInterval), 1)
	}
	return l
}

// StartOne launches a worker for the session. The reservation in the tracker
// happens before the spawn, so a concurrent second start observes
// ErrAlreadyRunning without a second process ever being created.
func (l *Launcher) StartOne(ctx context.Context, sessionID string) (domain.WorkerHandle, error) {
	ctx, span := tracer.StartSpan(ctx, "launcher.start_one",
		trace.WithAttributes(tracer.SessionAttr(sessionID)),
	)
	defer span.End()

	rec, err := l.registry.Get(ctx, sessionID)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if !rec.Valid {
		err := domain.NewDomainError("Launcher.StartOne", domain.ErrSessionInvalid, sessionID)
		tracer.RecordError(span, err)
		return nil, err
	}

	if err := l.tracker.Reserve(sessionID); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	l.logs.Reset(sessionID)

	handle, err := l.spawner.Spawn(ctx, sessionID)
	if err != nil {
		l.tracker.MarkState(sessionID, domain.SessionError)
		l.logs.Append(sessionID, "failed to start worker: "+err.Error())
		l.emitEvent(ctx, domain.EventSessionFailed, sessionID, nil)
		l.logger.Error("worker spawn failed", "session_id", sessionID, "error", err)
		tracer.RecordError(span, err)
		return nil, err
	}

	runID := l.newRunID()
	l.tracker.Attach(sessionID, handle)

	if err := l.registry.MarkUsed(ctx, sessionID); err != nil {
		l.logger.Warn("mark session used", "session_id", sessionID, "error", err)
	}

	readerDone := l.logs.Capture(sessionID, handle.Output())
	l.emitEvent(ctx, domain.EventSessionStarted, sessionID, map[string]any{
		"run_id": runID,
		"pid":    handle.PID(),
	})
	l.logger.Info("worker started", "session_id", sessionID, "run_id", runID, "pid", handle.PID())

	l.forwardLogs(sessionID, handle)

	go l.observe(sessionID, runID, handle, readerDone)
	tracer.SetOK(span)
	return handle, nil
}

// forwardLogs republishes the session's new log records on the event bus so
// WebSocket clients see worker progress without polling.
func (l *Launcher) forwardLogs(sessionID string, handle domain.WorkerHandle) {
	if l.bus == nil {
		return
	}
	sub, unsub := l.logs.Subscribe(sessionID)
	exited := make(chan struct{})
	go func() {
		handle.Wait()
		close(exited)
	}()
	go func() {
		defer unsub()
		for {
			select {
			case rec := <-sub:
				payload, _ := json.Marshal(rec)
				l.bus.Publish(context.Background(), domain.Event{
					Type:      domain.EventSessionLog,
					Timestamp: rec.Timestamp,
					SessionID: sessionID,
					Payload:   payload,
				})
			case <-exited:
				return
			}
		}
	}()
}

// observe waits for the worker to finish and records its terminal state.
// Stop paths mark the session stopped before terminating, so the exit state
// is only applied when the session is still running.
func (l *Launcher) observe(sessionID, runID string, handle domain.WorkerHandle, readerDone <-chan error) {
	readerErr := <-readerDone
	code := handle.Wait()

	state := domain.SessionFinished
	if code != 0 || readerErr != nil {
		state = domain.SessionError
	}

	changed := l.tracker.MarkExitIfRunning(sessionID, state)
	l.tracker.Release(sessionID)

	if changed {
		eventType := domain.EventSessionFinished
		if state == domain.SessionError {
			eventType = domain.EventSessionFailed
		}
		l.emitEvent(context.Background(), eventType, sessionID, map[string]any{
			"run_id":    runID,
			"exit_code": code,
		})
	}
	l.logger.Info("worker exited",
		"session_id", sessionID, "run_id", runID,
		"exit_code", code, "state", string(state),
	)
}

// StopOne terminates a running worker, waiting up to StopTimeout for it to
// exit. A session with no running worker is a successful no-op. The stop is
// best effort: a worker that ignores the signal is still reported stopped.
func (l *Launcher) StopOne(ctx context.Context, sessionID string) error {
	ctx, span := tracer.StartSpan(ctx, "launcher.stop_one",
		trace.WithAttributes(tracer.SessionAttr(sessionID)),
	)
	defer span.End()

	handle, ok := l.tracker.Handle(sessionID)
	if !ok || !l.tracker.IsRunning(sessionID) {
		return nil
	}

	// Mark before terminating so the exit observer keeps its hands off.
	l.tracker.MarkState(sessionID, domain.SessionStopped)

	if err := handle.Terminate(); err != nil {
		l.logger.Warn("terminate worker", "session_id", sessionID, "error", err)
	}

	exited := make(chan struct{})
	go func() {
		handle.Wait()
		close(exited)
	}()

	select {
	case <-exited:
	case <-time.After(l.config.StopTimeout):
		l.logger.Warn("worker did not exit in time", "session_id", sessionID)
	case <-ctx.Done():
	}

	l.tracker.Release(sessionID)
	l.emitEvent(ctx, domain.EventSessionStopped, sessionID, nil)
	l.logger.Info("worker stopped", "session_id", sessionID)
	return nil
}

// StartAll starts every startable session from a snapshot of the registry.
// One session failing to start never prevents the others from being
// attempted; the result reports both sides.
func (l *Launcher) StartAll(ctx context.Context) (domain.BatchResult, error) {
	ctx, span := tracer.StartSpan(ctx, "launcher.start_all")
	defer span.End()

	recs, err := l.registry.List(ctx)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.BatchResult{}, err
	}

	result := domain.BatchResult{Started: []string{}, Failed: []domain.BatchError{}}
	for _, rec := range recs {
		// Only startable sessions count: malformed, invalidated, and already
		// running entries are skipped, not attempted.
		if rec.Malformed || !rec.Valid || l.tracker.IsRunning(rec.ID) {
			continue
		}
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				result.Failed = append(result.Failed, domain.BatchError{SessionID: rec.ID, Error: err.Error()})
				continue
			}
		}
		if _, err := l.StartOne(ctx, rec.ID); err != nil {
			result.Failed = append(result.Failed, domain.BatchError{SessionID: rec.ID, Error: err.Error()})
		} else {
			result.Started = append(result.Started, rec.ID)
		}
	}
	result.TotalAttempted = len(result.Started) + len(result.Failed)

	l.logger.Info("start-all complete",
		"started", len(result.Started), "failed", len(result.Failed),
	)
	return result, nil
}

// StopAll stops every running worker.
func (l *Launcher) StopAll(ctx context.Context) domain.StopResult {
	result := domain.StopResult{Stopped: []string{}, Failed: []domain.BatchError{}}
	for _, id := range l.tracker.RunningIDs() {
		if err := l.StopOne(ctx, id); err != nil {
			result.Failed = append(result.Failed, domain.BatchError{SessionID: id, Error: err.Error()})
			continue
		}
		result.Stopped = append(result.Stopped, id)
	}
	return result
}

// ListSessions returns every registry session merged with runtime state.
func (l *Launcher) ListSessions(ctx context.Context) ([]domain.SessionView, error) {
	recs, err := l.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	return l.tracker.MergeViews(recs), nil
}

func (l *Launcher) emitEvent(ctx context.Context, eventType domain.EventType, sessionID string, payload map[string]any) {
	if l.bus == nil {
		return
	}
	var data []byte
	if payload != nil {
		data, _ = json.Marshal(payload)
	}
	l.bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Payload:   data,
	})
}

func (l *Launcher) newRunID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
