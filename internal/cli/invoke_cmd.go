package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/oremus-labs/ol-ajax-bridge/internal/dom"
	"github.com/oremus-labs/ol-ajax-bridge/internal/envelope"
	"github.com/oremus-labs/ol-ajax-bridge/internal/loader"
	"github.com/oremus-labs/ol-ajax-bridge/internal/logutil"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	invokeData    []string
	invokeCeiling time.Duration
	invokePage    string
	invokeHTML    bool
	invokeExtract []string
)

type invokeOptions struct {
	Function string
	Params   url.Values
	Ceiling  time.Duration
	// Page is an HTML file the envelope is applied to. Empty means a blank page.
	Page string
	HTML bool
	// Extract holds JSONPath expressions evaluated against the envelope value.
	Extract []string
}

type invokeOutcome struct {
	Function      string          `json:"function"`
	HTTPStatus    string          `json:"httpStatus"`
	DecodeError   string          `json:"decodeError,omitempty"`
	Value         json.RawMessage `json:"value,omitempty"`
	Callbacks     []string        `json:"callbacks"`
	Report        loader.Report   `json:"report"`
	Notifications []string        `json:"notifications,omitempty"`
	Console       []string        `json:"console,omitempty"`
	Scripts       []string        `json:"scripts,omitempty"`
	Stylesheets   []string        `json:"stylesheets,omitempty"`
	HTML          string          `json:"html,omitempty"`

	Extracted     map[string]interface{} `json:"extracted,omitempty"`
	ExtractErrors map[string]string      `json:"extractErrors,omitempty"`
}

var invokeCmd = &cobra.Command{
	Use:   "invoke <function>",
	Short: "Call an AJAX function and apply its envelope to a headless page",
	Args:  cobra.ExactArgs(1),
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
		params, err := parseData(invokeData)
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		outcome, err := runInvoke(cmd.Context(), client, invokeOptions{
			Function: args[0],
			Params:   params,
			Ceiling:  invokeCeiling,
			Page:     invokePage,
			HTML:     invokeHTML,
			Extract:  invokeExtract,
		}, logutil.Component("ajaxc"))
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		if outputFormat == "json" {
			if err := printJSON(cmd.OutOrStdout(), outcome); err != nil {
				exitWithError(cmd, err)
			}
			return
		}
		printOutcome(cmd.OutOrStdout(), outcome)
	},
}

func init() {
	invokeCmd.Flags().StringArrayVarP(&invokeData, "data", "d", nil, "Request parameter as key=value (repeatable)")
	invokeCmd.Flags().DurationVar(&invokeCeiling, "ceiling", loader.DefaultCeiling, "Maximum wait for external scripts before the inline script runs")
	invokeCmd.Flags().StringVar(&invokePage, "page", "", "HTML file to apply the envelope to (default: blank page)")
	invokeCmd.Flags().BoolVar(&invokeHTML, "html", false, "Print the resulting document")
	invokeCmd.Flags().StringArrayVar(&invokeExtract, "extract", nil, "JSONPath evaluated against the envelope value, e.g. $.items[0].id (repeatable)")
}

func parseData(pairs []string) (url.Values, error) {
	values := url.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --data %q, expected key=value", pair)
		}
		values.Add(strings.TrimSpace(key), value)
	}
	return values, nil
}

// runInvoke calls the function and runs the envelope through the loader on a
// fresh document whose relative URLs resolve against the server.
func runInvoke(ctx context.Context, client *Client, opts invokeOptions, logger zerolog.Logger) (*invokeOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := client.Invoke(ctx, opts.Function, opts.Params)
	if err != nil {
		return nil, err
	}

	out := &invokeOutcome{Function: opts.Function, HTTPStatus: res.Status}
	textStatus := "success"
	env, decodeErr := envelope.Decode(res.Body)
	if decodeErr != nil {
		textStatus = "parsererror"
		out.DecodeError = decodeErr.Error()
		logger.Warn().Err(decodeErr).Str("function", opts.Function).Msg("server returned a malformed envelope")
	}

	doc, err := newDocument(opts.Page, dom.Options{BaseURL: client.BaseURL, Logger: &logger})
	if err != nil {
		return nil, err
	}

	before := func(value json.RawMessage, status string, _ interface{}) {
		out.Callbacks = append(out.Callbacks, "before:"+status)
		out.Value = value
	}
	after := func(_ json.RawMessage, status string, _ interface{}) {
		out.Callbacks = append(out.Callbacks, "after:"+status)
	}

	sync := loader.New(doc, loader.Options{Ceiling: opts.Ceiling, Logger: &logger})
	out.Report = sync.HandleResponse(ctx, env, before, after, loader.CallMeta{TextStatus: textStatus, Transport: res})

	out.Notifications = doc.Notifications()
	out.Console = doc.Console()
	out.Scripts = doc.Scripts()
	out.Stylesheets = doc.Stylesheets()
	if len(opts.Extract) > 0 && out.Value != nil {
		out.Extracted, out.ExtractErrors = extractValues(out.Value, opts.Extract)
	}
	if opts.HTML {
		html, err := doc.Render()
		if err != nil {
			return nil, err
		}
		out.HTML = html
	}
	return out, nil
}

// extractValues evaluates each JSONPath expression against value. Failed
// expressions are reported per expression and do not stop the others.
func extractValues(value json.RawMessage, exprs []string) (map[string]interface{}, map[string]string) {
	found := map[string]interface{}{}
	failed := map[string]string{}
	var doc interface{}
	if err := json.Unmarshal(value, &doc); err != nil {
		for _, expr := range exprs {
			failed[expr] = "value is not valid JSON"
		}
		return found, failed
	}
	for _, expr := range exprs {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		v, err := jsonpath.Get(expr, doc)
		if err != nil {
			failed[expr] = err.Error()
			continue
		}
		found[expr] = v
	}
	return found, failed
}

func newDocument(page string, opts dom.Options) (*dom.Document, error) {
	if page == "" {
		return dom.New(opts)
	}
	f, err := os.Open(page)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return dom.Parse(f, opts)
}

func printOutcome(w io.Writer, out *invokeOutcome) {
	tw := newTable(w)
	fmt.Fprintf(tw, "Field\tValue\n")
	fmt.Fprintf(tw, "Function\t%s\n", out.Function)
	fmt.Fprintf(tw, "HTTP\t%s\n", out.HTTPStatus)
	if out.Report.Notified {
		fmt.Fprintf(tw, "Result\tfailure\n")
		fmt.Fprintf(tw, "Message\t%s\n", orDash(out.Report.Message))
	} else {
		fmt.Fprintf(tw, "Result\tsuccess\n")
		fmt.Fprintf(tw, "Value\t%s\n", orDash(string(out.Value)))
		fmt.Fprintf(tw, "Scripts\t%d dispatched, %d failed\n", out.Report.ScriptsDispatched, len(out.Report.Failed))
		fmt.Fprintf(tw, "Stylesheets\t%d\n", out.Report.StylesheetsInserted)
		fmt.Fprintf(tw, "Inline script\t%t\n", out.Report.InlineExecuted)
		if out.Report.InlineError != "" {
			fmt.Fprintf(tw, "Inline error\t%s\n", out.Report.InlineError)
		}
		fmt.Fprintf(tw, "Ceiling reached\t%t\n", out.Report.CeilingReached)
		fmt.Fprintf(tw, "Waited\t%s\n", orDash(out.Report.Waited))
	}
	if out.DecodeError != "" {
		fmt.Fprintf(tw, "Decode error\t%s\n", out.DecodeError)
	}
	for _, expr := range sortedKeys(out.Extracted) {
		fmt.Fprintf(tw, "%s\t%v\n", expr, out.Extracted[expr])
	}
	for _, expr := range sortedKeys(out.ExtractErrors) {
		fmt.Fprintf(tw, "%s\terror: %s\n", expr, out.ExtractErrors[expr])
	}
	for _, line := range out.Console {
		fmt.Fprintf(tw, "Console\t%s\n", line)
	}
	flushTable(tw)
	if out.HTML != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, out.HTML)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
