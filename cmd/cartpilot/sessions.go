package main

import (
	"fmt"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSessionsCmd(opts *rootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage login sessions and their workers",
	}

	cmd.AddCommand(
		newSessionsListCmd(opts),
		newSessionsStartCmd(opts),
		newSessionsStopCmd(opts),
		newSessionsStartAllCmd(opts),
		newSessionsStopAllCmd(opts),
		newSessionsDeleteCmd(opts),
	)

	return cmd
}

func newSessionsListCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions with live status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp sessionListResponse
			if err := newPanelClient(opts.serverURL).get("/api/sessions", &resp); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tVALID\tLAST USED")
			for _, s := range resp.Sessions {
				lastUsed := "-"
				if !s.LastUsedAt.IsZero() {
					lastUsed = s.LastUsedAt.Format("2006-01-02 15:04:05")
				}
				status := string(s.Status)
				if s.Error != "" {
					status = s.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", s.ID, status, s.Valid, lastUsed)
			}
			return w.Flush()
		},
	}
}

func newSessionsStartCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start the automation worker for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp sessionActionResponse
			path := "/api/sessions/" + url.PathEscape(args[0]) + "/start"
			if err := newPanelClient(opts.serverURL).post(path, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started %s (pid %d)\n", resp.SessionID, resp.PID)
			return nil
		},
	}
}

func newSessionsStopCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop the automation worker for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp sessionActionResponse
			path := "/api/sessions/" + url.PathEscape(args[0]) + "/stop"
			if err := newPanelClient(opts.serverURL).post(path, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", resp.SessionID)
			return nil
		},
	}
}

func newSessionsStartAllCmd(opts *rootOpts) *cobra.Command {
	var sequential bool

	cmd := &cobra.Command{
		Use:   "start-all",
		Short: "Start workers for every startable session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := newPanelClient(opts.serverURL)
			var resp batchResponse

			if sequential {
				if err := client.post("/api/sessions/start-all-sequential", &resp); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %d sessions for sequential run\n", len(resp.Queued))
				return nil
			}

			if err := client.post("/api/sessions/start-all", &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started %d of %d sessions\n", len(resp.Started), resp.TotalAttempted)
			for _, f := range resp.Failed {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", f.SessionID, f.Error)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&sequential, "sequential", false, "run sessions one at a time instead of in parallel")
	return cmd
}

func newSessionsStopAllCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every running worker and cancel any sequential run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp stopAllResponse
			if err := newPanelClient(opts.serverURL).post("/api/sessions/stop-all", &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped %d sessions\n", len(resp.Stopped))
			if resp.SequentialCancelled {
				fmt.Fprintln(cmd.OutOrStdout(), "sequential run cancelled")
			}
			return nil
		},
	}
}

func newSessionsDeleteCmd(opts *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a session from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp sessionActionResponse
			path := "/api/sessions/" + url.PathEscape(args[0])
			if err := newPanelClient(opts.serverURL).doJSON("DELETE", path, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", resp.SessionID)
			return nil
		},
	}
}
