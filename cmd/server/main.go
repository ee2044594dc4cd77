// Package main is the entry point for the AJAX bridge service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oremus-labs/ol-ajax-bridge/config"
	"github.com/oremus-labs/ol-ajax-bridge/internal/ajax"
	"github.com/oremus-labs/ol-ajax-bridge/internal/api"
	"github.com/oremus-labs/ol-ajax-bridge/internal/events"
	"github.com/oremus-labs/ol-ajax-bridge/internal/handlers"
	"github.com/oremus-labs/ol-ajax-bridge/internal/logutil"
	"github.com/oremus-labs/ol-ajax-bridge/internal/redisx"
	"github.com/oremus-labs/ol-ajax-bridge/internal/store"
	"github.com/rs/zerolog"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 5 * time.Second
)

func main() {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Load configuration
	cfg := config.Load()
	logger := logutil.Setup(cfg.LogLevel, cfg.LogFormat)
	logger.Info().
		Str("version", version).
		Str("ajax_prefix", cfg.AjaxPathPrefix).
		Str("stream_prefix", cfg.StreamPathPrefix).
		Str("datastore", cfg.DataStoreDriver).
		Msg("starting AJAX bridge")

	stateStore, err := store.Open(cfg.DataStoreDSN, cfg.DataStoreDriver)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize state store")
	}
	defer stateStore.Close()

	redisClient, err := redisx.NewClient(rootCtx, redisx.Config{
		Addr:        cfg.RedisAddr,
		Username:    cfg.RedisUsername,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		TLSEnabled:  cfg.RedisTLSEnabled,
		TLSInsecure: cfg.RedisTLSInsecure,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	if redisClient != nil {
		defer redisClient.Close()
	} else {
		logger.Info().Msg("redis not configured, events stay local")
	}
	bus := events.NewBus(events.Options{
		Client:  redisClient,
		Logger:  &logger,
		Channel: cfg.EventsChannel,
	})
	defer bus.Close()

	invoker := ajax.NewInvoker(ajax.Options{
		Converter: ajax.StreamConverter{Prefix: cfg.StreamPathPrefix},
		Logger:    &logger,
	})
	invoker.SetLongRunningLimit(cfg.LongRunningLimit)
	invoker.SetAfterHook(recordInvocations(stateStore, bus, logger))

	if cfg.FunctionsManifest != "" {
		manifest, err := ajax.LoadManifest(cfg.FunctionsManifest)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.FunctionsManifest).Msg("failed to load functions manifest")
		}
		if err := manifest.Register(invoker); err != nil {
			logger.Fatal().Err(err).Msg("failed to register manifest functions")
		}
		logger.Info().Int("functions", len(manifest.Functions)).Msg("registered manifest functions")
	}

	h := handlers.New(invoker, stateStore, bus, handlers.Options{
		Version: version,
		Logger:  &logger,
	})

	startRetention(rootCtx, retentionOptions{
		Store:     stateStore,
		Interval:  cfg.RetentionInterval,
		Retention: cfg.InvocationRetention,
		Logger:    logger,
	})

	// Setup HTTP server
	server := api.NewServer(h, api.Options{
		APIToken:     cfg.APIToken,
		AjaxPrefix:   cfg.AjaxPathPrefix,
		StreamPrefix: cfg.StreamPathPrefix,
		StaticRoot:   staticRoot(cfg.StaticRoot, logger),
		Logger:       &logger,
	})
	srv, serveErrs := server.Start(":" + cfg.ServerPort)
	logger.Info().Str("port", cfg.ServerPort).Msg("server listening")

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err, ok := <-serveErrs:
		if ok && err != nil {
			logger.Error().Err(err).Msg("server failed")
		}
	}

	rootCancel()
	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// staticRoot returns root when it is a directory and "" otherwise.
func staticRoot(root string, logger zerolog.Logger) string {
	if root == "" {
		return ""
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		logger.Warn().Str("path", root).Msg("static root not found, stream resources disabled")
		return ""
	}
	return root
}
