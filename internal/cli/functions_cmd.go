package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "List registered AJAX functions",
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
		names, err := fetchFunctions(cmd.Context(), client)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if outputFormat == "json" {
			if err := printJSON(cmd.OutOrStdout(), names); err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		tw := newTable(cmd.OutOrStdout())
		fmt.Fprintln(tw, "Function")
		for _, name := range names {
			fmt.Fprintln(tw, name)
		}
		flushTable(tw)
	},
}

func fetchFunctions(ctx context.Context, client *Client) ([]string, error) {
	var resp struct {
		Functions []string `json:"functions"`
	}
	if err := client.GetJSON(ctx, "/functions", &resp); err != nil {
		return nil, err
	}
	return resp.Functions, nil
}
