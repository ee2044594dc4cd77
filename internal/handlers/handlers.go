// Package handlers provides HTTP request handlers for the AJAX bridge API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oremus-labs/ol-ajax-bridge/internal/ajax"
	"github.com/oremus-labs/ol-ajax-bridge/internal/envelope"
	"github.com/oremus-labs/ol-ajax-bridge/internal/events"
	"github.com/oremus-labs/ol-ajax-bridge/internal/logutil"
	"github.com/oremus-labs/ol-ajax-bridge/internal/openapi"
	"github.com/oremus-labs/ol-ajax-bridge/internal/store"
	"github.com/rs/zerolog"
)

// Options configures handler runtime behavior.
type Options struct {
	// Gate decides whether a request may call function. Nil allows every call.
	Gate func(c *gin.Context, function string) bool
	// ExceptionHandler is told about handler errors before the 500 is written.
	ExceptionHandler func(c *gin.Context, function string, err error)
	HistoryLimit     int
	Version          string
	Logger           *zerolog.Logger
}

type invoker interface {
	Invoke(ctx context.Context, name string, req *ajax.Request) (*envelope.Response, error)
	Functions() []string
}

type invocationStore interface {
	ListInvocations(limit int) ([]store.Invocation, error)
}

type eventSource interface {
	Subscribe(ctx context.Context, filter events.Filter) (<-chan events.Event, func(), error)
}

// Handler encapsulates dependencies for HTTP handlers.
type Handler struct {
	invoker invoker
	store   invocationStore
	bus     eventSource
	opts    Options
	logger  zerolog.Logger
}

// New creates a new Handler instance. store and bus may be nil.
func New(inv invoker, st invocationStore, bus eventSource, opts Options) *Handler {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	if st != nil && isNilInterface(st) {
		st = nil
	}
	if bus != nil && isNilInterface(bus) {
		bus = nil
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "handlers").Logger()
	}
	return &Handler{
		invoker: inv,
		store:   st,
		bus:     bus,
		opts:    opts,
		logger:  logger,
	}
}

// Health handles health check requests.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   h.opts.Version,
		"functions": len(h.invoker.Functions()),
	})
}

// InvokeAjax runs the function named by the path and writes its envelope.
func (h *Handler) InvokeAjax(c *gin.Context) {
	name := strings.Trim(c.Param("function"), "/")
	if name == "" {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if h.opts.Gate != nil && !h.opts.Gate(c, name) {
		c.AbortWithStatus(http.StatusNotAcceptable)
		return
	}

	req := &ajax.Request{
		Method:     c.Request.Method,
		RequestID:  c.GetString("requestID"),
		RemoteAddr: c.ClientIP(),
	}
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request parameters: " + err.Error()})
		return
	}
	req.Params = c.Request.Form

	resp, err := h.invoker.Invoke(c.Request.Context(), name, req)
	if errors.Is(err, ajax.ErrUnknownFunction) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown AJAX function", "function": name})
		return
	}
	if err != nil {
		h.handleException(c, name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "AJAX function failed", "function": name})
		return
	}

	body, err := json.Marshal(resp)
	if err != nil {
		h.handleException(c, name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode AJAX response", "function": name})
		return
	}
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (h *Handler) handleException(c *gin.Context, name string, err error) {
	logger := logutil.FromContextOr(c.Request.Context(), h.logger)
	logger.Error().Err(err).
		Str("function", name).
		Str("request_id", c.GetString("requestID")).
		Msg("error running AJAX function")
	if h.opts.ExceptionHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Str("function", name).Msg("exception handler panicked")
		}
	}()
	h.opts.ExceptionHandler(c, name, err)
}

// ListFunctions returns the registered function names.
func (h *Handler) ListFunctions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"functions": h.invoker.Functions()})
}

// ListInvocations returns recent invocation records.
func (h *Handler) ListInvocations(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "invocation history is disabled"})
		return
	}
	limit := h.opts.HistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	invocations, err := h.store.ListInvocations(limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list invocations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list invocations"})
		return
	}
	if invocations == nil {
		invocations = []store.Invocation{}
	}
	c.JSON(http.StatusOK, gin.H{"invocations": invocations})
}

// StreamEvents streams bus events as server-sent events until the client
// disconnects. Repeated type query parameters restrict the event types.
func (h *Handler) StreamEvents(c *gin.Context) {
	if h.bus == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event streaming is disabled"})
		return
	}
	ctx := c.Request.Context()
	ch, cancel, err := h.bus.Subscribe(ctx, events.Filter{Types: c.QueryArray("type")})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to subscribe to events"})
		return
	}
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(evt.Type, evt)
			c.Writer.Flush()
		}
	}
}

// OpenAPISpec serves the API description.
func (h *Handler) OpenAPISpec(c *gin.Context) {
	doc, err := openapi.JSON()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render OpenAPI document"})
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

func isNilInterface(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
