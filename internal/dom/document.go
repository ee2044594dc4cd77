// Package dom provides a headless document that AJAX envelopes can be applied
// to: an HTML tree for script and stylesheet references plus a JavaScript
// runtime for the scripts themselves.
package dom

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const blankPage = "<!DOCTYPE html><html><head></head><body></body></html>"

const (
	dynamicScriptTitle = "dynamicallyLoadedJS"
	dynamicStyleTitle  = "dynamicallyLoadedCSS"
	maxScriptBytes     = 8 << 20
)

// Options configures a Document.
type Options struct {
	// BaseURL resolves relative script URLs.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Document is a headless page. Tree mutations and script evaluation are
// serialized; script loads run concurrently.
type Document struct {
	domMu sync.RWMutex
	root  *html.Node

	// vmMu guards vm. JS callbacks only ever take domMu.
	vmMu sync.Mutex
	vm   *goja.Runtime

	base   *url.URL
	client *http.Client
	logger zerolog.Logger

	stateMu       sync.Mutex
	notifications []string
	console       []string
}

// New returns an empty document.
func New(opts Options) (*Document, error) {
	return Parse(strings.NewReader(blankPage), opts)
}

// Parse builds a document from existing markup.
func Parse(r io.Reader, opts Options) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	d := &Document{
		root:   root,
		vm:     goja.New(),
		client: opts.HTTPClient,
		logger: zerolog.Nop(),
	}
	if opts.Logger != nil {
		d.logger = opts.Logger.With().Str("component", "dom").Logger()
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.BaseURL != "" {
		base, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
		}
		d.base = base
	}
	d.initRuntime()
	return d, nil
}

// LoadScript inserts a script element before the first script of the page (or
// at the end of head), then fetches and evaluates it in the background. The
// returned channel receives the outcome exactly once.
func (d *Document) LoadScript(ctx context.Context, src string) <-chan error {
	done := make(chan error, 1)

	d.domMu.Lock()
	node := element(atom.Script,
		html.Attribute{Key: "type", Val: "text/javascript"},
		html.Attribute{Key: "src", Val: src},
		html.Attribute{Key: "title", Val: dynamicScriptTitle},
	)
	d.insertBeforeFirst("//script[not(@title='"+dynamicScriptTitle+"')]", node)
	d.domMu.Unlock()

	target, err := d.resolve(src)
	if err != nil {
		done <- err
		return done
	}
	go func() {
		done <- d.fetchAndRun(ctx, target)
	}()
	return done
}

// InsertStylesheet inserts a stylesheet link before the first link of the
// page (or at the end of head). The stylesheet itself is never fetched.
func (d *Document) InsertStylesheet(href string) {
	d.domMu.Lock()
	defer d.domMu.Unlock()
	node := element(atom.Link,
		html.Attribute{Key: "type", Val: "text/css"},
		html.Attribute{Key: "rel", Val: "stylesheet"},
		html.Attribute{Key: "href", Val: href},
		html.Attribute{Key: "title", Val: dynamicStyleTitle},
	)
	d.insertBeforeFirst("//link[not(@title='"+dynamicStyleTitle+"')]", node)
}

// InsertInlineStyle appends a style element to head.
func (d *Document) InsertInlineStyle(css string) {
	d.domMu.Lock()
	defer d.domMu.Unlock()
	node := element(atom.Style, html.Attribute{Key: "type", Val: "text/css"})
	node.AppendChild(&html.Node{Type: html.TextNode, Data: css})
	d.head().AppendChild(node)
}

// EvalScript runs src in the document's runtime.
func (d *Document) EvalScript(src string) error {
	d.vmMu.Lock()
	defer d.vmMu.Unlock()
	if _, err := d.vm.RunString(src); err != nil {
		return err
	}
	return nil
}

// Notify records a user-visible message.
func (d *Document) Notify(message string) {
	d.stateMu.Lock()
	d.notifications = append(d.notifications, message)
	d.stateMu.Unlock()
	d.logger.Warn().Str("message", message).Msg("notification")
}

// Notifications returns the messages shown so far.
func (d *Document) Notifications() []string {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return append([]string(nil), d.notifications...)
}

// Console returns lines written through console.log and friends.
func (d *Document) Console() []string {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return append([]string(nil), d.console...)
}

// Global returns the exported value of a global variable, or nil.
func (d *Document) Global(name string) interface{} {
	d.vmMu.Lock()
	defer d.vmMu.Unlock()
	v := d.vm.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

// Scripts returns the src of every script element in document order.
func (d *Document) Scripts() []string {
	return d.attrs("//script[@src]", "src")
}

// Stylesheets returns the href of every stylesheet link in document order.
func (d *Document) Stylesheets() []string {
	return d.attrs("//link[@rel='stylesheet']", "href")
}

// Render serializes the current tree.
func (d *Document) Render() (string, error) {
	d.domMu.RLock()
	defer d.domMu.RUnlock()
	var b strings.Builder
	if err := html.Render(&b, d.root); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (d *Document) attrs(expr, attr string) []string {
	d.domMu.RLock()
	defer d.domMu.RUnlock()
	var out []string
	for _, n := range htmlquery.Find(d.root, expr) {
		out = append(out, htmlquery.SelectAttr(n, attr))
	}
	return out
}

func (d *Document) resolve(src string) (string, error) {
	ref, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("invalid script url %q: %w", src, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if d.base == nil {
		return "", fmt.Errorf("relative script url %q without base url", src)
	}
	return d.base.ResolveReference(ref).String(), nil
}

func (d *Document) fetchAndRun(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/javascript, text/javascript, */*")
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("load %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("load %s: %s", target, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptBytes))
	if err != nil {
		return fmt.Errorf("read %s: %w", target, err)
	}
	if err := d.EvalScript(string(body)); err != nil {
		return fmt.Errorf("evaluate %s: %w", target, err)
	}
	return nil
}

// insertBeforeFirst places node before the first match of expr, falling back
// to the end of head. Dynamic elements are excluded from expr so that a batch
// keeps its order. Callers hold domMu.
func (d *Document) insertBeforeFirst(expr string, node *html.Node) {
	if first := htmlquery.FindOne(d.root, expr); first != nil && first.Parent != nil {
		first.Parent.InsertBefore(node, first)
		return
	}
	d.head().AppendChild(node)
}

// head returns the head element. html.Parse always synthesizes one.
func (d *Document) head() *html.Node {
	if h := htmlquery.FindOne(d.root, "//head"); h != nil {
		return h
	}
	return d.root
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: a,
		Data:     a.String(),
		Attr:     attrs,
	}
}
