package cli

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newBridgeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ajax/greet", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("name") != "Ada" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true,"value":{"hi":"Ada"},"externaljs":["/static/a.js"],"externalcss":["/static/site.css"],"inlinejs":"console.log('ready', window.a)"}`)
	})
	mux.HandleFunc("/ajax/denied", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"errormessage":"nope"}`)
	})
	mux.HandleFunc("/ajax/garbled", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	})
	mux.HandleFunc("/ajax/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/static/a.js", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(w, "window.a = 7;")
	})
	mux.HandleFunc("/functions", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"functions":["denied","greet"]}`)
	})
	mux.HandleFunc("/invocations", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"invocations":[{"id":"1","function":"greet","success":true,"status":"success","durationMs":4,"createdAt":"2024-05-01T12:00:00Z"}]}`)
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "ajax.invoked" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: ajax.invoked\ndata: {\"id\":\"e1\",\"data\":{\"function\":\"greet\"}}\n\n")
		fmt.Fprint(w, "event: ajax.invoked\ndata: {\"id\":\"e2\",\"type\":\"ajax.invoked\"}\n\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testClient(srv *httptest.Server) *Client {
	return &Client{BaseURL: srv.URL, AjaxPrefix: "/ajax", Timeout: 5 * time.Second}
}

func TestRunInvokeAppliesEnvelope(t *testing.T) {
	t.Parallel()
	srv := newBridgeServer(t)
	params, err := parseData([]string{"name=Ada"})
	if err != nil {
		t.Fatalf("parseData: %v", err)
	}

	out, err := runInvoke(context.Background(), testClient(srv), invokeOptions{
		Function: "greet",
		Params:   params,
		Ceiling:  2 * time.Second,
		HTML:     true,
		Extract:  []string{"$.hi", "$.missing"},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("runInvoke: %v", err)
	}

	if want := []string{"before:success", "after:success"}; !reflect.DeepEqual(out.Callbacks, want) {
		t.Fatalf("callbacks = %v, want %v", out.Callbacks, want)
	}
	if string(out.Value) != `{"hi":"Ada"}` {
		t.Fatalf("unexpected value %s", out.Value)
	}
	if !out.Report.InlineExecuted || out.Report.CeilingReached {
		t.Fatalf("unexpected report %+v", out.Report)
	}
	if want := []string{"ready 7"}; !reflect.DeepEqual(out.Console, want) {
		t.Fatalf("console = %v, want %v", out.Console, want)
	}
	if want := []string{"/static/a.js"}; !reflect.DeepEqual(out.Scripts, want) {
		t.Fatalf("scripts = %v", out.Scripts)
	}
	if want := []string{"/static/site.css"}; !reflect.DeepEqual(out.Stylesheets, want) {
		t.Fatalf("stylesheets = %v", out.Stylesheets)
	}
	if len(out.Notifications) != 0 {
		t.Fatalf("unexpected notifications %v", out.Notifications)
	}
	if out.Extracted["$.hi"] != "Ada" {
		t.Fatalf("unexpected extraction %+v", out.Extracted)
	}
	if _, ok := out.ExtractErrors["$.missing"]; !ok {
		t.Fatalf("expected an error for a missing key, got %+v", out.ExtractErrors)
	}
	if !strings.Contains(out.HTML, "dynamicallyLoadedJS") {
		t.Fatalf("rendered page misses the script element: %s", out.HTML)
	}
}

func TestRunInvokeFailureOnlyNotifies(t *testing.T) {
	t.Parallel()
	srv := newBridgeServer(t)

	out, err := runInvoke(context.Background(), testClient(srv), invokeOptions{Function: "denied"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("runInvoke: %v", err)
	}
	const want = "Error invoking AJAX function! nope"
	if !out.Report.Notified || out.Report.Message != want {
		t.Fatalf("unexpected report %+v", out.Report)
	}
	if !reflect.DeepEqual(out.Notifications, []string{want}) {
		t.Fatalf("notifications = %v", out.Notifications)
	}
	if len(out.Callbacks) != 0 || len(out.Scripts) != 0 {
		t.Fatalf("failure must not run callbacks or load scripts: %+v", out)
	}
}

func TestRunInvokeMalformedEnvelope(t *testing.T) {
	t.Parallel()
	srv := newBridgeServer(t)

	out, err := runInvoke(context.Background(), testClient(srv), invokeOptions{Function: "garbled"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("runInvoke: %v", err)
	}
	if out.DecodeError == "" {
		t.Fatal("expected a decode error")
	}
	if len(out.Notifications) != 1 || len(out.Callbacks) != 0 {
		t.Fatalf("malformed envelope should notify once: %+v", out)
	}
}

func TestRunInvokeHTTPError(t *testing.T) {
	t.Parallel()
	srv := newBridgeServer(t)

	if _, err := runInvoke(context.Background(), testClient(srv), invokeOptions{Function: "missing"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestParseData(t *testing.T) {
	t.Parallel()
	values, err := parseData([]string{"a=1", "a=2", "b="})
	if err != nil {
		t.Fatalf("parseData: %v", err)
	}
	if !reflect.DeepEqual(values["a"], []string{"1", "2"}) || values.Get("b") != "" {
		t.Fatalf("unexpected values %v", values)
	}
	if _, err := parseData([]string{"novalue"}); err == nil {
		t.Fatal("expected error for missing =")
	}
	if _, err := parseData([]string{"=x"}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestFetchFunctionsAndHistory(t *testing.T) {
	t.Parallel()
	srv := newBridgeServer(t)
	client := testClient(srv)

	names, err := fetchFunctions(context.Background(), client)
	if err != nil {
		t.Fatalf("fetchFunctions: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"denied", "greet"}) {
		t.Fatalf("unexpected functions %v", names)
	}

	entries, err := fetchHistory(context.Background(), client, 5)
	if err != nil {
		t.Fatalf("fetchHistory: %v", err)
	}
	if len(entries) != 1 || entries[0].Function != "greet" || entries[0].DurationMS != 4 {
		t.Fatalf("unexpected history %+v", entries)
	}
}

func TestStreamEventsStopsWhenHandlerReturnsFalse(t *testing.T) {
	t.Parallel()
	srv := newBridgeServer(t)

	var got []EventEnvelope
	err := testClient(srv).StreamEvents(context.Background(), []string{"ajax.invoked"}, func(evt EventEnvelope) bool {
		got = append(got, evt)
		return false
	})
	if err != nil {
		t.Fatalf("StreamEvents: %v", err)
	}
	if len(got) != 1 || got[0].ID != "e1" || got[0].Type != "ajax.invoked" {
		t.Fatalf("unexpected events %+v", got)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig on missing file: %v", err)
	}
	setContext(cfg, Context{Name: "local", Server: "http://localhost:8080"}, false)
	setContext(cfg, Context{Name: "prod", Server: "https://bridge.example.com", Token: "secret", AjaxPrefix: "/rpc"}, false)
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.CurrentContext != "local" {
		t.Fatalf("first context should become current, got %q", loaded.CurrentContext)
	}
	if loaded.Contexts["prod"].Token != "secret" || loaded.Contexts["prod"].AjaxPrefix != "/rpc" {
		t.Fatalf("unexpected prod context %+v", loaded.Contexts["prod"])
	}
	if err := ensureContextExists(loaded, "staging"); err == nil {
		t.Fatal("expected error for unknown context")
	}
}

func TestResolvedContextFlagOverrides(t *testing.T) {
	prevConfig, prevName, prevURL, prevToken := appConfig, contextName, overrideURL, overrideToken
	t.Cleanup(func() {
		appConfig, contextName, overrideURL, overrideToken = prevConfig, prevName, prevURL, prevToken
	})

	appConfig = &Config{Contexts: map[string]Context{}}
	contextName, overrideURL, overrideToken = "", "", ""
	if _, err := resolvedContext(); err == nil {
		t.Fatal("expected error without context or server flag")
	}

	overrideURL = "http://127.0.0.1:9000"
	overrideToken = "tok"
	ctx, err := resolvedContext()
	if err != nil {
		t.Fatalf("resolvedContext: %v", err)
	}
	if ctx.Name != "flags" || ctx.Server != overrideURL || ctx.Token != "tok" || ctx.AjaxPrefix != defaultAjaxPrefix {
		t.Fatalf("unexpected context %+v", ctx)
	}
}
