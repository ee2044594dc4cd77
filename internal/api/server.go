package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oremus-labs/ol-ajax-bridge/internal/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Options configures the HTTP server wiring.
type Options struct {
	APIToken string
	// AjaxPrefix and StreamPrefix are absolute paths without a trailing slash.
	AjaxPrefix   string
	StreamPrefix string
	// StaticRoot is served below StreamPrefix. Empty disables static files.
	StaticRoot string
	Logger     *zerolog.Logger
}

// Server wraps the Gin engine and associated configuration.
type Server struct {
	engine *gin.Engine
}

// NewServer constructs a Server with all HTTP routes configured.
func NewServer(handler *handlers.Handler, opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	if opts.AjaxPrefix == "" {
		opts.AjaxPrefix = "/ajax"
	}
	if opts.StreamPrefix == "" {
		opts.StreamPrefix = "/stream"
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "http").Logger()
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestIDMiddleware(), metricsMiddleware(), requestLogger(logger))

	// Health + meta
	engine.GET("/healthz", handler.Health)
	engine.GET("/openapi", handler.OpenAPISpec)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/functions", handler.ListFunctions)

	// AJAX functions
	engine.GET(opts.AjaxPrefix+"/*function", handler.InvokeAjax)
	engine.POST(opts.AjaxPrefix+"/*function", handler.InvokeAjax)

	// Resources referenced by envelopes
	if opts.StaticRoot != "" {
		engine.Static(opts.StreamPrefix, opts.StaticRoot)
	}

	protected := engine.Group("/")
	protected.Use(authMiddleware(opts.APIToken))
	protected.GET("/invocations", handler.ListInvocations)
	protected.GET("/events", handler.StreamEvents)

	return &Server{engine: engine}
}

// Engine exposes the underlying Gin engine for advanced use (testing, etc.).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start launches the HTTP server on the provided address. Errors other than
// http.ErrServerClosed are delivered on the returned channel.
func (s *Server) Start(addr string) (*http.Server, <-chan error) {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.engine,
		ReadTimeout: 15 * time.Second,
		// No write timeout: /events keeps the response open.
		IdleTimeout: 60 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
		close(errs)
	}()
	return srv, errs
}
