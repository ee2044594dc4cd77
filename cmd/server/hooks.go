package main

import (
	"context"

	"github.com/oremus-labs/ol-ajax-bridge/internal/ajax"
	"github.com/oremus-labs/ol-ajax-bridge/internal/events"
	"github.com/oremus-labs/ol-ajax-bridge/internal/store"
	"github.com/rs/zerolog"
)

type invocationRecorder interface {
	AppendInvocation(inv *store.Invocation) error
}

type eventPublisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

// invokedEvent is the payload of events.TypeInvoked.
type invokedEvent struct {
	Function   string `json:"function"`
	Status     string `json:"status"`
	RequestID  string `json:"requestId,omitempty"`
	DurationMS int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// recordInvocations returns an after hook that persists every invocation and
// announces it on the bus. Either sink may be nil.
func recordInvocations(rec invocationRecorder, pub eventPublisher, logger zerolog.Logger) ajax.AfterHook {
	return func(ctx context.Context, res ajax.Result) {
		errText := ""
		switch {
		case res.Err != nil:
			errText = res.Err.Error()
		case res.Response != nil && res.Response.IsFailure():
			errText = res.Response.ErrorMessage()
		}

		if rec != nil {
			inv := &store.Invocation{
				Function:   res.Function,
				Success:    res.Status == ajax.StatusSuccess,
				Status:     res.Status,
				Error:      errText,
				DurationMS: res.Duration.Milliseconds(),
				RequestID:  res.RequestID,
			}
			if err := rec.AppendInvocation(inv); err != nil {
				logger.Error().Err(err).Str("function", res.Function).Msg("failed to record invocation")
			}
		}

		if pub != nil {
			evt := events.Event{
				Type: events.TypeInvoked,
				Data: invokedEvent{
					Function:   res.Function,
					Status:     res.Status,
					RequestID:  res.RequestID,
					DurationMS: res.Duration.Milliseconds(),
					Error:      errText,
				},
			}
			if err := pub.Publish(context.WithoutCancel(ctx), evt); err != nil {
				logger.Warn().Err(err).Str("function", res.Function).Msg("failed to publish invocation event")
			}
		}
	}
}
