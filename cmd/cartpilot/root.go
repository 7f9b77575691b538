package main

import (
	"github.com/spf13/cobra"
)

// rootOpts carries the flags shared by every subcommand.
type rootOpts struct {
	configPath string
	serverURL  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOpts{}

	rootCmd := &cobra.Command{
		Use:           "cartpilot",
		Short:         "cartpilot: multi-session shopping automation control panel",
		Long:          "cartpilot manages persistent retail-site login sessions and runs one automation worker per session, with parallel and sequential batch modes.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&opts.serverURL, "server", "http://127.0.0.1:8090", "control panel base URL for client commands")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newSessionsCmd(opts),
		newLogsCmd(opts),
		newLoginCmd(opts),
		newHealthCmd(opts),
	)

	return rootCmd
}
