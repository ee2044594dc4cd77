package events

import (
	"context"
	"testing"
	"time"
)

func TestLocalPublishReachesSubscribers(t *testing.T) {
	t.Parallel()
	bus := NewBus(Options{})
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, unsubscribe, err := bus.Subscribe(ctx, Filter{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsubscribe()

	if err := bus.Publish(context.Background(), Event{Type: TypeInvoked, Data: map[string]string{"function": "greet"}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Type != TypeInvoked || evt.ID == "" || evt.Timestamp.IsZero() {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFilterSkipsOtherTypes(t *testing.T) {
	t.Parallel()
	bus := NewBus(Options{})
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _, err := bus.Subscribe(ctx, Filter{Types: []string{TypeInvoked}})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	_ = bus.Publish(context.Background(), Event{Type: "other"})
	_ = bus.Publish(context.Background(), Event{Type: TypeInvoked, ID: "wanted"})

	select {
	case evt := <-ch:
		if evt.ID != "wanted" {
			t.Fatalf("filter let %+v through", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	t.Parallel()
	bus := NewBus(Options{})
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, unsubscribe, err := bus.Subscribe(ctx, Filter{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed")
	}
	unsubscribe()
}
