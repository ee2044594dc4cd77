package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var historyLimit int

type historyEntry struct {
	ID         string    `json:"id"`
	Function   string    `json:"function"`
	Success    bool      `json:"success"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"durationMs"`
	RequestID  string    `json:"requestId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent invocations recorded by the server",
	Run: func(cmd *cobra.Command, args []string) {
		if err := validateOutput(); err != nil {
			exitWithError(cmd, err)
			return
		}
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		entries, err := fetchHistory(cmd.Context(), client, historyLimit)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if outputFormat == "json" {
			if err := printJSON(cmd.OutOrStdout(), entries); err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "Function\tStatus\tDuration\tError\tWhen")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%dms\t%s\t%s\n", e.Function, e.Status, e.DurationMS, orDash(e.Error), relativeTime(e.CreatedAt))
		}
		flushTable(tw)
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of invocations to show")
}

func fetchHistory(ctx context.Context, client *Client, limit int) ([]historyEntry, error) {
	path := "/invocations"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var resp struct {
		Invocations []historyEntry `json:"invocations"`
	}
	if err := client.GetJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Invocations, nil
}
