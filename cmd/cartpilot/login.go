package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cartpilot/internal/adapter/browser"
	"cartpilot/internal/infra/config"
	"cartpilot/internal/infra/logger"
	"cartpilot/internal/registry"
)

func newLoginCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "login <id>",
		Short: "Create a session by logging in through a browser window",
		Long:  "Opens a browser on the login page with a fresh per-session profile. Complete the login manually; the session is registered once the site reports you as logged in.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, opts.configPath, args[0])
		},
	}
}

func runLogin(cmd *cobra.Command, cfgPath, sessionID string) error {
	if err := browser.ValidateSessionID(sessionID); err != nil {
		return err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()

	if err := os.MkdirAll(cfg.Registry.ProfilesDir, 0o700); err != nil {
		return fmt.Errorf("profiles dir: %w", err)
	}
	reg, err := registry.NewSQLiteRegistry(cfg.Registry.DBPath)
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	defer reg.Close()

	flow := browser.NewLoginFlow(cfg.Browser, cfg.Registry.ProfilesDir, reg, nil, log)
	rec, err := flow.Login(cmd.Context(), sessionID, func(p browser.Progress) {
		switch p.Phase {
		case browser.PhaseCreating:
			fmt.Fprintf(cmd.OutOrStdout(), "creating profile for %s...\n", p.SessionID)
		case browser.PhaseAwaitingLogin:
			fmt.Fprintln(cmd.OutOrStdout(), "browser open, complete the login...")
		case browser.PhaseReady:
			fmt.Fprintln(cmd.OutOrStdout(), "login detected")
		}
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "session %s registered (profile %s)\n", rec.ID, rec.ProfilePath)
	return nil
}
