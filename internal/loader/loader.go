// Package loader applies AJAX response envelopes to a host document: it loads
// external scripts and stylesheets and runs the inline script once every
// external script has finished loading, or once the wait ceiling elapsed.
package loader

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/oremus-labs/ol-ajax-bridge/internal/envelope"
	"github.com/oremus-labs/ol-ajax-bridge/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTickInterval and DefaultMaxTicks describe the historical
	// polling budget; DefaultCeiling is their product.
	DefaultTickInterval = 50 * time.Millisecond
	DefaultMaxTicks     = 100
	DefaultCeiling      = DefaultMaxTicks * DefaultTickInterval
)

// Host is the document the envelope is applied to.
type Host interface {
	// LoadScript inserts a script reference immediately and returns a
	// channel that receives exactly one value once the load finished.
	LoadScript(ctx context.Context, url string) <-chan error
	InsertStylesheet(url string)
	InsertInlineStyle(css string)
	EvalScript(src string) error
	Notify(message string)
}

// Callback receives the envelope value around resource loading.
type Callback func(value json.RawMessage, textStatus string, transport interface{})

// CallMeta is passed unchanged to both callbacks.
type CallMeta struct {
	TextStatus string
	Transport  interface{}
}

// Options configures a Synchronizer.
type Options struct {
	// Ceiling bounds the wait for external scripts before the inline script
	// runs anyway. Zero means DefaultCeiling.
	Ceiling time.Duration
	Logger  *zerolog.Logger
}

// Report summarizes one HandleResponse call.
type Report struct {
	Notified            bool   `json:"notified"`
	Message             string `json:"message,omitempty"`
	ScriptsDispatched   int    `json:"scriptsDispatched"`
	StylesheetsInserted int    `json:"stylesheetsInserted"`
	InlineStyleApplied  bool   `json:"inlineStyleApplied"`
	InlineExecuted      bool   `json:"inlineExecuted"`
	InlineError         string `json:"inlineError,omitempty"`
	CeilingReached      bool   `json:"ceilingReached"`
	Waited              string `json:"waited,omitempty"`
	// Failed lists the script loads that had failed when HandleResponse
	// returned. Loads still running at that point are not included.
	Failed []string `json:"failed,omitempty"`
}

// Synchronizer applies envelopes to a Host. It keeps no state between calls
// and is safe for concurrent use.
type Synchronizer struct {
	host    Host
	ceiling time.Duration
	logger  zerolog.Logger
}

// New creates a Synchronizer bound to host.
func New(host Host, opts Options) *Synchronizer {
	if opts.Ceiling <= 0 {
		opts.Ceiling = DefaultCeiling
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "loader").Logger()
	}
	return &Synchronizer{host: host, ceiling: opts.Ceiling, logger: logger}
}

// Ceiling returns the configured wait ceiling.
func (s *Synchronizer) Ceiling() time.Duration { return s.ceiling }

// HandleResponse applies env to the host. A nil or failed envelope produces
// exactly one notification and nothing else. Otherwise before runs first,
// external scripts are dispatched in order, stylesheets are inserted without
// waiting, the inline script runs once all scripts completed (or the ceiling
// elapsed), and after runs last.
func (s *Synchronizer) HandleResponse(ctx context.Context, env *envelope.Envelope, before, after Callback, meta CallMeta) Report {
	if env == nil || !env.Success {
		msg := env.FailureMessage()
		s.host.Notify(msg)
		metrics.ObserveEnvelope("failure")
		s.logger.Warn().Str("message", msg).Msg("envelope reported failure")
		return Report{Notified: true, Message: msg}
	}
	metrics.ObserveEnvelope("success")

	if before != nil {
		before(env.Value, meta.TextStatus, meta.Transport)
	}

	var report Report
	hasInline := env.HasInlineJS()

	var pending *pendingSet
	if len(env.ExternalJS) > 0 {
		loadCtx, release := ctx, context.CancelFunc(func() {})
		if !hasInline {
			// Unawaited loads are bounded by the ceiling.
			loadCtx, release = context.WithTimeout(ctx, s.ceiling)
		}
		pending = s.dispatch(loadCtx, append([]string(nil), env.ExternalJS...), release)
		report.ScriptsDispatched = len(env.ExternalJS)
	}

	for _, href := range env.ExternalCSS {
		s.host.InsertStylesheet(href)
		report.StylesheetsInserted++
	}
	if env.InlineCSS != "" {
		s.host.InsertInlineStyle(env.InlineCSS)
		report.InlineStyleApplied = true
	}

	if hasInline {
		if pending != nil {
			start := time.Now()
			completed := pending.wait(ctx, s.ceiling)
			waited := time.Since(start)
			report.CeilingReached = !completed
			report.Waited = waited.String()
			metrics.ObserveLoaderWait(waited, !completed)
			if !completed {
				s.logger.Warn().
					Int("pending", pending.remaining()).
					Dur("ceiling", s.ceiling).
					Msg("running inline script with external scripts still pending")
			}
		}
		report.InlineExecuted = true
		if err := s.host.EvalScript(env.InlineJS); err != nil {
			report.InlineError = err.Error()
			s.logger.Warn().Err(err).Msg("inline script failed")
		}
	}

	if pending != nil {
		report.Failed = pending.failures()
	}

	if after != nil {
		after(env.Value, meta.TextStatus, meta.Transport)
	}
	return report
}

// dispatch starts one load per URL in input order and tracks completion.
// release runs once every load finished.
func (s *Synchronizer) dispatch(ctx context.Context, urls []string, release context.CancelFunc) *pendingSet {
	set := newPendingSet(urls)
	var g errgroup.Group
	for _, u := range urls {
		u := u
		done := s.host.LoadScript(ctx, u)
		g.Go(func() error {
			err := <-done
			set.complete(u, err)
			metrics.ObserveScriptLoad(err == nil)
			if err != nil {
				s.logger.Warn().Err(err).Str("url", u).Msg("external script failed to load")
			} else {
				s.logger.Debug().Str("url", u).Msg("external script loaded")
			}
			// Failed loads count as completed; they are never retried.
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		release()
		close(set.done)
	}()
	return set
}

// pendingSet holds the script URLs not yet confirmed loaded. It only shrinks.
type pendingSet struct {
	mu      sync.Mutex
	pending map[string]int
	left    int
	failed  []string
	done    chan struct{}
}

func newPendingSet(urls []string) *pendingSet {
	set := &pendingSet{
		pending: make(map[string]int, len(urls)),
		left:    len(urls),
		done:    make(chan struct{}),
	}
	for _, u := range urls {
		set.pending[u]++
	}
	return set
}

func (p *pendingSet) complete(url string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending[url] == 0 {
		return
	}
	p.pending[url]--
	if p.pending[url] == 0 {
		delete(p.pending, url)
	}
	p.left--
	if err != nil {
		p.failed = append(p.failed, url)
	}
}

func (p *pendingSet) remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.left
}

func (p *pendingSet) failures() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.failed...)
}

// wait blocks until every load completed, the ceiling elapsed or ctx ended.
// It reports whether all loads completed.
func (p *pendingSet) wait(ctx context.Context, ceiling time.Duration) bool {
	timer := time.NewTimer(ceiling)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}
	// A completion racing the timer still counts.
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
