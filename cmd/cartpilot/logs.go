package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"cartpilot/internal/domain"
)

func newLogsCmd(opts *rootOpts) *cobra.Command {
	var follow bool
	var limit int

	cmd := &cobra.Command{
		Use:   "logs <id>",
		Short: "Show buffered worker output for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := url.PathEscape(args[0])
			client := newPanelClient(opts.serverURL)

			var resp logsResponse
			path := fmt.Sprintf("/api/logs/%s?limit=%d", id, limit)
			if err := client.get(path, &resp); err != nil {
				return err
			}
			for _, rec := range resp.Logs {
				printLogRecord(cmd, rec)
			}

			if !follow {
				return nil
			}
			return followLogs(cmd, client, id)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new output as it arrives")
	cmd.Flags().IntVar(&limit, "limit", 100, "max buffered records to show")
	return cmd
}

// followLogs tails the SSE stream, printing each record until the server
// closes the connection or the command is interrupted.
func followLogs(cmd *cobra.Command, client *panelClient, id string) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, client.base+"/api/logs/"+id+"/stream", nil)
	if err != nil {
		return err
	}
	// Streaming must not be cut short by the client timeout.
	hc := &http.Client{}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("control panel unreachable: %w", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue // heartbeat comment or frame separator
		}
		var rec domain.LogRecord
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &rec); err != nil {
			continue
		}
		printLogRecord(cmd, rec)
	}
	return scanner.Err()
}

func printLogRecord(cmd *cobra.Command, rec domain.LogRecord) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", rec.Timestamp.Format("15:04:05"), rec.Message)
}
