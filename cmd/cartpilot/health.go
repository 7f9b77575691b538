package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHealthCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show control panel status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp healthResponse
			if err := newPanelClient(opts.serverURL).get("/api/health", &resp); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "active sessions:   %d\n", resp.ActiveSessions)
			fmt.Fprintf(cmd.OutOrStdout(), "tracked sessions:  %d\n", resp.TotalSessions)
			fmt.Fprintf(cmd.OutOrStdout(), "sequential run:    %t\n", resp.SequentialActive)
			fmt.Fprintf(cmd.OutOrStdout(), "uptime:            %s\n", (time.Duration(resp.UptimeSeconds) * time.Second).String())
			return nil
		},
	}
}
