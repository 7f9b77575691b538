package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"cartpilot/internal/domain"
	"cartpilot/internal/usecase/orchestrator"
)

// Task is one scheduled batch trigger.
type Task struct {
	Name     string
	Schedule string // cron expression, @every and @hourly style descriptors included
	Mode     string // "parallel" or "sequential"
}

// Scheduler fires batch starts on cron schedules. Parallel tasks go through
// the launcher's start-all; sequential tasks hand the startable sessions to
// the runner.
type Scheduler struct {
	cron     *cron.Cron
	launcher *orchestrator.Launcher
	runner   *orchestrator.Runner
	bus      domain.EventBus
	logger   *slog.Logger
}

// New creates a Scheduler. Tasks are registered with AddTask before Start.
func New(launcher *orchestrator.Launcher, runner *orchestrator.Runner, bus domain.EventBus, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		launcher: launcher,
		runner:   runner,
		bus:      bus,
		logger:   logger,
	}
}

// AddTask registers a task. Invalid expressions and modes are rejected
// before anything is scheduled.
func (s *Scheduler) AddTask(task Task) error {
	var fire func(context.Context)
	switch task.Mode {
	case "parallel":
		fire = s.fireParallel
	case "sequential":
		fire = s.fireSequential
	default:
		return fmt.Errorf("scheduler task %q: unknown mode %q", task.Name, task.Mode)
	}

	_, err := s.cron.AddFunc(task.Schedule, func() {
		s.emitFired(task)
		s.logger.Info("scheduled batch fired", "task", task.Name, "mode", task.Mode)
		fire(context.Background())
	})
	if err != nil {
		return fmt.Errorf("scheduler task %q: %w", task.Name, err)
	}
	return nil
}

// Start begins firing registered tasks.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the schedule and waits for in-flight task callbacks.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) fireParallel(ctx context.Context) {
	result, err := s.launcher.StartAll(ctx)
	if err != nil {
		s.logger.Error("scheduled start-all failed", "error", err)
		return
	}
	s.logger.Info("scheduled start-all complete",
		"started", len(result.Started), "failed", len(result.Failed),
	)
}

func (s *Scheduler) fireSequential(ctx context.Context) {
	views, err := s.launcher.ListSessions(ctx)
	if err != nil {
		s.logger.Error("scheduled sequential listing failed", "error", err)
		return
	}
	var ids []string
	for _, v := range views {
		if v.CanStart {
			ids = append(ids, v.ID)
		}
	}
	if len(ids) == 0 {
		s.logger.Info("scheduled sequential batch: nothing to start")
		return
	}
	if err := s.runner.Begin(ids); err != nil {
		// A batch already in flight wins; the schedule fires again later.
		s.logger.Warn("scheduled sequential batch rejected", "error", err)
	}
}

func (s *Scheduler) emitFired(task Task) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"task": task.Name, "mode": task.Mode})
	s.bus.Publish(context.Background(), domain.Event{
		Type:      domain.EventScheduleFired,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
