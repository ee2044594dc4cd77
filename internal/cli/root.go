// Package cli implements ajaxc, the command line client for the AJAX bridge.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oremus-labs/ol-ajax-bridge/internal/logutil"
	"github.com/spf13/cobra"
)

var (
	cfgFile       string
	contextName   string
	overrideURL   string
	overrideToken string
	outputFormat  string
	logLevel      string

	appConfig *Config
)

// Execute runs the CLI.
func Execute() error {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	return rootCmd.Execute()
}

var rootCmd = &cobra.Command{
	Use:   "ajaxc",
	Short: "Invoke AJAX bridge functions and apply their envelopes",
	Long: `ajaxc calls functions exposed by an AJAX bridge server and applies the
returned envelopes to a headless document, loading scripts the way a browser
page would. Most commands require a configured context (see 'ajaxc config set-context').`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logutil.Setup(logLevel, "console")
		// Config commands load/save the file manually.
		if strings.HasPrefix(cmd.CommandPath(), "ajaxc config") {
			return nil
		}
		if appConfig == nil {
			var err error
			appConfig, err = LoadConfig(cfgFile)
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath(), "Path to the ajaxc config file")
	rootCmd.PersistentFlags().StringVar(&contextName, "context", "", "Context name to use (overrides current)")
	rootCmd.PersistentFlags().StringVar(&overrideURL, "server", "", "Override API server URL")
	rootCmd.PersistentFlags().StringVar(&overrideToken, "token", "", "Override API token")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table|json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug|info|warn|error")

	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(functionsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(configCmd)
}

// resolvedContext merges config state with flag overrides.
func resolvedContext() (*Context, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	ctxName := contextName
	if ctxName == "" {
		ctxName = appConfig.CurrentContext
	}
	ctx, ok := appConfig.Contexts[ctxName]
	if !ok {
		if overrideURL == "" {
			return nil, fmt.Errorf("context %q not found; use 'ajaxc config set-context'", ctxName)
		}
		ctx = Context{Name: "flags"}
	}
	if overrideURL != "" {
		ctx.Server = overrideURL
	}
	if overrideToken != "" {
		ctx.Token = overrideToken
	}
	if ctx.AjaxPrefix == "" {
		ctx.AjaxPrefix = defaultAjaxPrefix
	}
	if ctx.Server == "" {
		return nil, fmt.Errorf("context %q is missing a server URL", ctxName)
	}
	return &ctx, nil
}

func mustClient() (*Client, *Context, error) {
	ctx, err := resolvedContext()
	if err != nil {
		return nil, nil, err
	}
	client := &Client{
		BaseURL:    ctx.Server,
		Token:      ctx.Token,
		AjaxPrefix: ctx.AjaxPrefix,
		Timeout:    15 * time.Second,
	}
	return client, ctx, nil
}

func validateOutput() error {
	switch strings.ToLower(outputFormat) {
	case "json", "table", "":
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", outputFormat)
	}
}

func exitWithError(cmd *cobra.Command, err error) {
	cmd.SilenceUsage = true
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
