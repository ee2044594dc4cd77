package ajax

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oremus-labs/ol-ajax-bridge/internal/envelope"
)

type includingHandler struct {
	css, js []string
	resp    *envelope.Response
}

func (h *includingHandler) RegisterExternalResources(includes *Includes) {
	for _, c := range h.css {
		includes.AddCSS(c)
	}
	for _, j := range h.js {
		includes.AddJS(j)
	}
}

func (h *includingHandler) HandleRequest(context.Context, *Request) (*envelope.Response, error) {
	return h.resp, nil
}

func TestRegisterValidatesNames(t *testing.T) {
	t.Parallel()
	inv := NewInvoker(Options{})
	ok := HandlerFunc(func(context.Context, *Request) (*envelope.Response, error) {
		return envelope.Success(nil), nil
	})

	for _, name := range []string{"", "has space", "slash/name", "dot.name", "ümlaut"} {
		if err := inv.RegisterHandler(name, ok); !errors.Is(err, ErrInvalidFunctionName) {
			t.Fatalf("expected invalid name error for %q, got %v", name, err)
		}
	}
	if err := inv.RegisterHandler("valid-Name_1", ok); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}
	if err := inv.RegisterHandler("valid-Name_1", ok); !errors.Is(err, ErrDuplicateFunction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if got := inv.Functions(); len(got) != 1 || got[0] != "valid-Name_1" {
		t.Fatalf("unexpected functions %v", got)
	}
}

func TestInvokeUnknownFunction(t *testing.T) {
	t.Parallel()
	inv := NewInvoker(Options{})
	if _, err := inv.Invoke(context.Background(), "missing", nil); !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("expected unknown function error, got %v", err)
	}
}

func TestInvokeNilHandlerFromFactory(t *testing.T) {
	t.Parallel()
	inv := NewInvoker(Options{})
	if err := inv.Register("nil", func() Handler { return nil }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := inv.Invoke(context.Background(), "nil", nil); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("expected nil handler error, got %v", err)
	}
}

func TestInvokeMergesConvertedIncludes(t *testing.T) {
	t.Parallel()
	inv := NewInvoker(Options{Converter: StreamConverter{Prefix: "/stream"}})
	h := &includingHandler{
		css: []string{"css/site.css"},
		js:  []string{"js/a.js", "https://cdn.example.com/b.js"},
		resp: envelope.Success(map[string]int{"n": 1}).
			AddExternalJS("/stream/js/own.js").
			AddInlineJS("window.x = 1;"),
	}
	if err := inv.RegisterHandler("withIncludes", h); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	resp, err := inv.Invoke(context.Background(), "withIncludes", &Request{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	wantJS := []string{"/stream/js/a.js", "https://cdn.example.com/b.js", "/stream/js/own.js"}
	if got := resp.ExternalJS(); strings.Join(got, ",") != strings.Join(wantJS, ",") {
		t.Fatalf("expected js %v, got %v", wantJS, got)
	}
	if got := resp.ExternalCSS(); len(got) != 1 || got[0] != "/stream/css/site.css" {
		t.Fatalf("unexpected css %v", got)
	}
}

func TestInvokeFailureKeepsIncludesOut(t *testing.T) {
	t.Parallel()
	inv := NewInvoker(Options{})
	h := &includingHandler{js: []string{"/a.js"}, resp: envelope.Failure("nope")}
	if err := inv.RegisterHandler("fails", h); err != nil {
		t.Fatalf("RegisterHandler: %v", err)
	}

	var got Result
	inv.SetAfterHook(func(_ context.Context, res Result) { got = res })

	resp, err := inv.Invoke(context.Background(), "fails", nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !resp.IsFailure() || len(resp.ExternalJS()) != 0 {
		t.Fatalf("unexpected response %s", resp)
	}
	if got.Status != StatusFailure || got.Function != "fails" {
		t.Fatalf("unexpected after hook result %+v", got)
	}
}

func TestHooksRunAroundHandler(t *testing.T) {
	t.Parallel()
	inv := NewInvoker(Options{})
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}
	_ = inv.RegisterHandler("fn", HandlerFunc(func(_ context.Context, req *Request) (*envelope.Response, error) {
		record("handle:" + req.Param("q"))
		return envelope.Success(nil), nil
	}))
	inv.SetBeforeHook(func(_ context.Context, function string, _ *Request) { record("before:" + function) })
	inv.SetAfterHook(func(_ context.Context, res Result) { record("after:" + res.Status) })

	req := &Request{Params: url.Values{"q": {"1"}}}
	if _, err := inv.Invoke(context.Background(), "fn", req); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	want := "before:fn,handle:1,after:success"
	if got := strings.Join(order, ","); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestHookPanicsAreContained(t *testing.T) {
	t.Parallel()
	inv := NewInvoker(Options{})
	_ = inv.RegisterHandler("fn", HandlerFunc(func(context.Context, *Request) (*envelope.Response, error) {
		return envelope.Success("ok"), nil
	}))
	inv.SetBeforeHook(func(context.Context, string, *Request) { panic("before") })
	inv.SetAfterHook(func(context.Context, Result) { panic("after") })

	resp, err := inv.Invoke(context.Background(), "fn", nil)
	if err != nil || resp == nil || !resp.IsSuccess() {
		t.Fatalf("expected success despite hook panics, got %v %v", resp, err)
	}
}

func TestHandlerPanicBecomesError(t *testing.T) {
	t.Parallel()
	inv := NewInvoker(Options{})
	_ = inv.RegisterHandler("boom", HandlerFunc(func(context.Context, *Request) (*envelope.Response, error) {
		panic("kaboom")
	}))
	_, err := inv.Invoke(context.Background(), "boom", nil)
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("expected panic error, got %v", err)
	}
}

func TestNilResponseIsError(t *testing.T) {
	t.Parallel()
	inv := NewInvoker(Options{})
	_ = inv.RegisterHandler("empty", HandlerFunc(func(context.Context, *Request) (*envelope.Response, error) {
		return nil, nil
	}))
	if _, err := inv.Invoke(context.Background(), "empty", nil); !errors.Is(err, ErrNilResponse) {
		t.Fatalf("expected nil response error, got %v", err)
	}
}

func TestLongRunningHandler(t *testing.T) {
	t.Parallel()
	inv := NewInvoker(Options{})
	if inv.LongRunningLimit() != DefaultLongRunningLimit {
		t.Fatalf("unexpected default limit %s", inv.LongRunningLimit())
	}
	_ = inv.RegisterHandler("slow", HandlerFunc(func(context.Context, *Request) (*envelope.Response, error) {
		time.Sleep(20 * time.Millisecond)
		return envelope.Success(nil), nil
	}))

	var calls int
	inv.SetLongRunningHandler(func(_ context.Context, function string, _ *Request, elapsed time.Duration) {
		if function != "slow" || elapsed < 5*time.Millisecond {
			t.Errorf("unexpected long-running call %s %s", function, elapsed)
		}
		calls++
	})

	inv.SetLongRunningLimit(5 * time.Millisecond)
	_, _ = inv.Invoke(context.Background(), "slow", nil)
	if calls != 1 {
		t.Fatalf("expected one long-running notification, got %d", calls)
	}

	inv.SetLongRunningLimit(0)
	_, _ = inv.Invoke(context.Background(), "slow", nil)
	if calls != 1 {
		t.Fatalf("disabled limit must not notify, got %d", calls)
	}
}

func TestStreamConverter(t *testing.T) {
	t.Parallel()
	c := StreamConverter{Prefix: "/stream/"}
	cases := map[string]string{
		"js/app.js":              "/stream/js/app.js",
		"/css/site.css":          "/stream/css/site.css",
		"/stream/js/app.js":      "/stream/js/app.js",
		"https://cdn.test/x.js":  "https://cdn.test/x.js",
		"//cdn.test/protocol.js": "//cdn.test/protocol.js",
		"":                       "",
	}
	for in, want := range cases {
		if got := c.Convert(in); got != want {
			t.Errorf("Convert(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestManifestFunctions(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "functions.yaml")
	manifest := `
functions:
  - name: greet
    value:
      message: hello
    externalJs: ["js/greet.js"]
    externalCss: ["css/greet.css"]
    inlineCss: ".greet { color: red; }"
    inlineJs: "window.greeted = true;"
  - name: echo
    echoParams: true
  - name: card
    html: '<div>card</div><script src="js/card.js"></script>'
  - name: broken
    error: "Something went wrong"
    externalJs: ["js/never.js"]
`
	if err := os.WriteFile(path, []byte(manifest), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	inv := NewInvoker(Options{Converter: StreamConverter{Prefix: "/stream"}})
	if err := m.Register(inv); err != nil {
		t.Fatalf("Register: %v", err)
	}

	resp, err := inv.Invoke(context.Background(), "greet", nil)
	if err != nil {
		t.Fatalf("Invoke greet: %v", err)
	}
	env, err := resp.Envelope()
	if err != nil {
		t.Fatalf("Envelope: %v", err)
	}
	if string(env.Value) != `{"message":"hello"}` {
		t.Fatalf("unexpected value %s", env.Value)
	}
	if len(env.ExternalJS) != 1 || env.ExternalJS[0] != "/stream/js/greet.js" {
		t.Fatalf("unexpected js %v", env.ExternalJS)
	}
	if env.InlineCSS == "" || env.InlineJS != "window.greeted = true;" {
		t.Fatalf("unexpected inline parts %+v", env)
	}

	resp, err = inv.Invoke(context.Background(), "echo", &Request{Params: url.Values{"a": {"b"}}})
	if err != nil {
		t.Fatalf("Invoke echo: %v", err)
	}
	env, _ = resp.Envelope()
	if string(env.Value) != `{"a":"b"}` {
		t.Fatalf("unexpected echo value %s", env.Value)
	}

	resp, err = inv.Invoke(context.Background(), "card", nil)
	if err != nil {
		t.Fatalf("Invoke card: %v", err)
	}
	env, _ = resp.Envelope()
	if string(env.Value) != `{"html":"\u003cdiv\u003ecard\u003c/div\u003e"}` {
		t.Fatalf("unexpected card value %s", env.Value)
	}
	if len(env.ExternalJS) != 1 || env.ExternalJS[0] != "js/card.js" {
		t.Fatalf("embedded script should be lifted unconverted, got %v", env.ExternalJS)
	}

	resp, err = inv.Invoke(context.Background(), "broken", nil)
	if err != nil {
		t.Fatalf("Invoke broken: %v", err)
	}
	if !resp.IsFailure() || resp.ErrorMessage() != "Something went wrong" || len(resp.ExternalJS()) != 0 {
		t.Fatalf("unexpected failure response %s", resp)
	}
}

func TestParseManifestRejectsBadNames(t *testing.T) {
	t.Parallel()
	if _, err := ParseManifest([]byte("functions:\n  - name: bad name\n")); !errors.Is(err, ErrInvalidFunctionName) {
		t.Fatalf("expected invalid name error, got %v", err)
	}
	if _, err := ParseManifest([]byte("functions:\n  - name: a\n  - name: a\n")); !errors.Is(err, ErrDuplicateFunction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}
