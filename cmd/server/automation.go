package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type invocationPruner interface {
	DeleteInvocationsBefore(cutoff time.Time) (int64, error)
}

type retentionOptions struct {
	Store     invocationPruner
	Interval  time.Duration
	Retention time.Duration
	Logger    zerolog.Logger
}

// startRetention periodically removes invocation records older than the
// retention window until ctx is cancelled.
func startRetention(ctx context.Context, opts retentionOptions) {
	if opts.Store == nil || opts.Interval <= 0 || opts.Retention <= 0 {
		return
	}
	opts.Logger.Info().
		Dur("interval", opts.Interval).
		Dur("retention", opts.Retention).
		Msg("starting invocation retention loop")
	ticker := time.NewTicker(opts.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runRetentionSweep(opts, time.Now().UTC())
			}
		}
	}()
}

func runRetentionSweep(opts retentionOptions, now time.Time) int64 {
	removed, err := opts.Store.DeleteInvocationsBefore(now.Add(-opts.Retention))
	if err != nil {
		opts.Logger.Error().Err(err).Msg("retention sweep failed")
		return 0
	}
	if removed > 0 {
		opts.Logger.Info().Int64("removed", removed).Msg("purged old invocation records")
	}
	return removed
}
