// Package ajax registers named AJAX functions and invokes them, producing the
// response envelopes consumed by the loader.
package ajax

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/oremus-labs/ol-ajax-bridge/internal/envelope"
	"github.com/oremus-labs/ol-ajax-bridge/internal/logutil"
	"github.com/oremus-labs/ol-ajax-bridge/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultLongRunningLimit is the duration after which an invocation is
// reported as long running.
const DefaultLongRunningLimit = time.Second

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusError   = "error"
)

var (
	ErrInvalidFunctionName = errors.New("invalid AJAX function name")
	ErrDuplicateFunction   = errors.New("AJAX function already registered")
	ErrUnknownFunction     = errors.New("unknown AJAX function")
	ErrNilHandler          = errors.New("AJAX factory returned no handler")
	ErrNilResponse         = errors.New("AJAX handler returned no response")
)

var functionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`)

// ValidFunctionName reports whether name may be registered. Allowed names are
// usable in URLs without escaping.
func ValidFunctionName(name string) bool {
	return functionNamePattern.MatchString(name)
}

// Handler serves one AJAX function invocation.
type Handler interface {
	// RegisterExternalResources adds the CSS and JS the response depends on.
	RegisterExternalResources(includes *Includes)
	HandleRequest(ctx context.Context, req *Request) (*envelope.Response, error)
}

// Factory creates a fresh Handler per invocation.
type Factory func() Handler

// HandlerFunc adapts a plain function to Handler. It registers no resources.
type HandlerFunc func(ctx context.Context, req *Request) (*envelope.Response, error)

func (f HandlerFunc) RegisterExternalResources(*Includes) {}

func (f HandlerFunc) HandleRequest(ctx context.Context, req *Request) (*envelope.Response, error) {
	return f(ctx, req)
}

// Result describes a finished invocation and is handed to the after hook.
type Result struct {
	Function  string
	RequestID string
	Status    string
	Response  *envelope.Response
	Err       error
	Duration  time.Duration
}

// BeforeHook runs before a handler is created.
type BeforeHook func(ctx context.Context, function string, req *Request)

// AfterHook runs once the handler returned.
type AfterHook func(ctx context.Context, res Result)

// LongRunningHandler is notified about invocations that exceeded the limit.
type LongRunningHandler func(ctx context.Context, function string, req *Request, elapsed time.Duration)

// Options configures an Invoker.
type Options struct {
	// Converter turns handler-registered resource URIs into public URLs.
	Converter URLConverter
	Logger    *zerolog.Logger
}

// Invoker holds the registered functions. It is safe for concurrent use.
type Invoker struct {
	converter URLConverter
	logger    zerolog.Logger

	mu               sync.RWMutex
	factories        map[string]Factory
	before           BeforeHook
	after            AfterHook
	longRunningLimit time.Duration
	longRunning      LongRunningHandler
}

// NewInvoker creates an empty Invoker.
func NewInvoker(opts Options) *Invoker {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "ajax").Logger()
	}
	converter := opts.Converter
	if converter == nil {
		converter = IdentityConverter{}
	}
	inv := &Invoker{
		converter:        converter,
		logger:           logger,
		factories:        make(map[string]Factory),
		longRunningLimit: DefaultLongRunningLimit,
	}
	inv.longRunning = inv.logLongRunning
	return inv
}

// Register adds a function under name.
func (inv *Invoker) Register(name string, factory Factory) error {
	if !ValidFunctionName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidFunctionName, name)
	}
	if factory == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, name)
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if _, exists := inv.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFunction, name)
	}
	inv.factories[name] = factory
	return nil
}

// RegisterHandler registers a handler that is shared by all invocations.
func (inv *Invoker) RegisterHandler(name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, name)
	}
	return inv.Register(name, func() Handler { return h })
}

// IsRegistered reports whether name is known.
func (inv *Invoker) IsRegistered(name string) bool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	_, ok := inv.factories[name]
	return ok
}

// Functions returns the registered names in sorted order.
func (inv *Invoker) Functions() []string {
	inv.mu.RLock()
	names := make([]string, 0, len(inv.factories))
	for name := range inv.factories {
		names = append(names, name)
	}
	inv.mu.RUnlock()
	sort.Strings(names)
	return names
}

// SetBeforeHook replaces the before hook. Nil removes it.
func (inv *Invoker) SetBeforeHook(h BeforeHook) {
	inv.mu.Lock()
	inv.before = h
	inv.mu.Unlock()
}

// SetAfterHook replaces the after hook. Nil removes it.
func (inv *Invoker) SetAfterHook(h AfterHook) {
	inv.mu.Lock()
	inv.after = h
	inv.mu.Unlock()
}

// SetLongRunningLimit changes the long-running threshold. Zero or negative
// disables the check.
func (inv *Invoker) SetLongRunningLimit(d time.Duration) {
	inv.mu.Lock()
	inv.longRunningLimit = d
	inv.mu.Unlock()
}

// LongRunningLimit returns the current threshold.
func (inv *Invoker) LongRunningLimit() time.Duration {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.longRunningLimit
}

// SetLongRunningHandler replaces the long-running handler. Nil restores the
// logging default.
func (inv *Invoker) SetLongRunningHandler(h LongRunningHandler) {
	inv.mu.Lock()
	if h == nil {
		h = inv.logLongRunning
	}
	inv.longRunning = h
	inv.mu.Unlock()
}

// Invoke runs the function registered under name. Success responses carry the
// handler's registered resources ahead of anything the handler added itself.
func (inv *Invoker) Invoke(ctx context.Context, name string, req *Request) (*envelope.Response, error) {
	inv.mu.RLock()
	factory, ok := inv.factories[name]
	before, after := inv.before, inv.after
	limit, longRunning := inv.longRunningLimit, inv.longRunning
	inv.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	if req == nil {
		req = &Request{}
	}
	req.Function = name
	logger := logutil.FromContextOr(ctx, inv.logger).With().Str("function", name).Str("request_id", req.RequestID).Logger()

	if before != nil {
		inv.guard(logger, "before hook", func() { before(ctx, name, req) })
	}

	start := time.Now()
	resp, err := inv.handle(ctx, factory, name, req)
	elapsed := time.Since(start)

	status := StatusSuccess
	switch {
	case err != nil:
		status = StatusError
		logger.Error().Err(err).Msg("AJAX function failed")
	case resp.IsFailure():
		status = StatusFailure
		logger.Warn().Str("message", resp.ErrorMessage()).Msg("AJAX function returned a failure response")
	}
	metrics.ObserveInvocation(name, status, elapsed)

	if limit > 0 && elapsed > limit && longRunning != nil {
		inv.guard(logger, "long-running handler", func() { longRunning(ctx, name, req, elapsed) })
	}

	if after != nil {
		res := Result{
			Function:  name,
			RequestID: req.RequestID,
			Status:    status,
			Response:  resp,
			Err:       err,
			Duration:  elapsed,
		}
		inv.guard(logger, "after hook", func() { after(ctx, res) })
	}
	return resp, err
}

func (inv *Invoker) handle(ctx context.Context, factory Factory, name string, req *Request) (resp *envelope.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("AJAX function %s panicked: %v", name, r)
		}
	}()

	handler := factory()
	if handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrNilHandler, name)
	}
	includes := NewIncludes()
	handler.RegisterExternalResources(includes)

	resp, err = handler.HandleRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: %s", ErrNilResponse, name)
	}
	if resp.IsSuccess() {
		resp.MergeIncludes(inv.convertAll(includes.CSS()), inv.convertAll(includes.JS()))
	}
	return resp, nil
}

func (inv *Invoker) convertAll(uris []string) []string {
	out := make([]string, 0, len(uris))
	for _, uri := range uris {
		out = append(out, inv.converter.Convert(uri))
	}
	return out
}

// guard runs fn and logs instead of propagating a panic.
func (inv *Invoker) guard(logger zerolog.Logger, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msgf("%s panicked", what)
		}
	}()
	fn()
}

func (inv *Invoker) logLongRunning(_ context.Context, function string, req *Request, elapsed time.Duration) {
	metrics.ObserveLongRunning(function)
	inv.logger.Warn().
		Str("function", function).
		Str("request_id", req.RequestID).
		Dur("elapsed", elapsed).
		Msg("AJAX function is long running")
}
