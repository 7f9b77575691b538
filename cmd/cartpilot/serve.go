package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"cartpilot/internal/adapter/gateway"
	"cartpilot/internal/infra/config"
	"cartpilot/internal/infra/logger"
	"cartpilot/internal/infra/tracer"
	"cartpilot/internal/registry"
	"cartpilot/internal/usecase/eventbus"
	"cartpilot/internal/usecase/orchestrator"
	"cartpilot/internal/usecase/scheduler"
)

func newServeCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control panel server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(opts.configPath)
		},
	}
}

func runServe(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	// Panel edits to the automation settings persist next to the config file
	// and take precedence over it on restart.
	automationPath := filepath.Join(filepath.Dir(cfgPath), "automation.yaml")
	if saved, err := config.LoadAutomation(automationPath); err == nil && saved != nil {
		cfg.Automation = *saved
	}

	if err := os.MkdirAll(cfg.Registry.ProfilesDir, 0o700); err != nil {
		return fmt.Errorf("profiles dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Registry.DBPath), 0o700); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	reg, err := registry.NewSQLiteRegistry(cfg.Registry.DBPath)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	defer reg.Close()

	bus := eventbus.New(log)
	defer bus.Close()

	tracker := orchestrator.NewTracker()
	hub := orchestrator.NewLogHub(cfg.Logs.Capacity)
	spawner := &orchestrator.ExecSpawner{
		Command: cfg.Worker.Command,
		Args:    cfg.Worker.Args,
		WorkDir: cfg.Worker.WorkDir,
	}
	launcher := orchestrator.NewLauncher(orchestrator.LauncherConfig{
		StopTimeout:   cfg.Worker.StopTimeout,
		StartInterval: cfg.Launcher.StartInterval,
	}, spawner, tracker, hub, reg, bus, log)
	runner := orchestrator.NewRunner(launcher, bus, log, cfg.Runner.DequeueWait)

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(launcher, runner, bus, log)
		for _, task := range cfg.Scheduler.Tasks {
			if err := sched.AddTask(scheduler.Task{
				Name:     task.Name,
				Schedule: task.Schedule,
				Mode:     task.Mode,
			}); err != nil {
				return err
			}
		}
		sched.Start()
		defer sched.Stop()
		log.Info("scheduler enabled", "tasks", len(cfg.Scheduler.Tasks))
	}

	var auth gateway.Authenticator
	if cfg.Server.Auth.Type == "static" {
		entries := make([]gateway.TokenEntry, 0, len(cfg.Server.Auth.Tokens))
		for _, tok := range cfg.Server.Auth.Tokens {
			entries = append(entries, gateway.TokenEntry{Token: tok.Token, Name: tok.Name})
		}
		auth = gateway.NewStaticTokenAuth(entries)
	}

	srv := gateway.NewServer(bus, auth, cfg.Server.Addr, log)
	handlers := gateway.NewHandlers(launcher, runner, hub, tracker, reg, cfg.Automation)
	handlers.Heartbeat = cfg.Logs.Heartbeat
	handlers.DrainLimit = cfg.Logs.DrainLimit
	handlers.AutomationPath = automationPath
	handlers.Register(srv)

	serveErr := srv.Start(ctx)

	// Shutdown: cancel any sequential batch, then terminate every worker.
	runner.Cancel()
	result := launcher.StopAll(context.Background())
	if len(result.Stopped) > 0 {
		log.Info("workers stopped on shutdown", "count", len(result.Stopped))
	}

	return serveErr
}
