package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oremus-labs/ol-ajax-bridge/internal/ajax"
	"github.com/oremus-labs/ol-ajax-bridge/internal/envelope"
	"github.com/oremus-labs/ol-ajax-bridge/internal/events"
	"github.com/oremus-labs/ol-ajax-bridge/internal/store"
	"github.com/rs/zerolog"
)

type fakeRecorder struct {
	got []store.Invocation
}

func (f *fakeRecorder) AppendInvocation(inv *store.Invocation) error {
	f.got = append(f.got, *inv)
	return nil
}

type fakePublisher struct {
	got []events.Event
	err error
}

func (f *fakePublisher) Publish(_ context.Context, evt events.Event) error {
	f.got = append(f.got, evt)
	return f.err
}

func TestRecordInvocations(t *testing.T) {
	t.Parallel()
	rec := &fakeRecorder{}
	pub := &fakePublisher{err: errors.New("redis down")}
	hook := recordInvocations(rec, pub, zerolog.Nop())

	hook(context.Background(), ajax.Result{
		Function:  "greet",
		RequestID: "req-1",
		Status:    ajax.StatusFailure,
		Response:  envelope.Failure("nope"),
		Duration:  30 * time.Millisecond,
	})

	if len(rec.got) != 1 {
		t.Fatalf("expected one record, got %d", len(rec.got))
	}
	inv := rec.got[0]
	if inv.Success || inv.Error != "nope" || inv.DurationMS != 30 || inv.RequestID != "req-1" {
		t.Fatalf("unexpected record %+v", inv)
	}
	if len(pub.got) != 1 || pub.got[0].Type != events.TypeInvoked {
		t.Fatalf("unexpected events %+v", pub.got)
	}
	data, ok := pub.got[0].Data.(invokedEvent)
	if !ok || data.Function != "greet" || data.Status != ajax.StatusFailure {
		t.Fatalf("unexpected event payload %+v", pub.got[0].Data)
	}
}

func TestRecordInvocationsWithoutSinks(t *testing.T) {
	t.Parallel()
	hook := recordInvocations(nil, nil, zerolog.Nop())
	hook(context.Background(), ajax.Result{Function: "greet", Status: ajax.StatusError, Err: errors.New("boom")})
}

type fakePruner struct {
	cutoff time.Time
	n      int64
}

func (f *fakePruner) DeleteInvocationsBefore(cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, nil
}

func TestRunRetentionSweep(t *testing.T) {
	t.Parallel()
	pruner := &fakePruner{n: 3}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	removed := runRetentionSweep(retentionOptions{Store: pruner, Retention: 24 * time.Hour, Logger: zerolog.Nop()}, now)
	if removed != 3 {
		t.Fatalf("expected 3 removed got %d", removed)
	}
	if !pruner.cutoff.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("unexpected cutoff %s", pruner.cutoff)
	}
}
