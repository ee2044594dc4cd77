package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	eventsLimit int
	eventsTypes []string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow invocation events from the server",
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		seen := 0
		err = client.StreamEvents(ctx, eventsTypes, func(evt EventEnvelope) bool {
			if outputFormat == "json" {
				_ = printJSON(cmd.OutOrStdout(), evt)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s\n", evt.Timestamp.Format("15:04:05"), evt.Type, string(evt.Data))
			}
			seen++
			return eventsLimit <= 0 || seen < eventsLimit
		})
		if err != nil && err != context.Canceled {
			exitWithError(cmd, err)
		}
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 0, "Stop after this many events (0 follows forever)")
	eventsCmd.Flags().StringSliceVar(&eventsTypes, "type", nil, "Only show these event types")
}
