package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TypeInvoked is published after every AJAX function invocation.
const TypeInvoked = "ajax.invoked"

const (
	defaultChannel   = "ajax-bridge-events"
	subscriberBuffer = 16
	resubscribeDelay = 2 * time.Second
)

// Event is a notification fanned out to SSE clients and other replicas.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Filter restricts a subscription to some event types. The zero Filter
// matches everything.
type Filter struct {
	Types []string
}

// Match reports whether evt passes the filter.
func (f Filter) Match(evt Event) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == evt.Type {
			return true
		}
	}
	return false
}

// Options configure the bus.
type Options struct {
	// Client enables cross-replica delivery through Redis pub/sub.
	Client  redis.UniversalClient
	Logger  *zerolog.Logger
	Channel string
}

// Bus delivers events to in-process subscribers. With a Redis client every
// publish goes through the shared channel so all replicas see it once.
type Bus struct {
	client  redis.UniversalClient
	channel string
	logger  zerolog.Logger
	stop    context.CancelFunc

	mu   sync.RWMutex
	subs map[chan Event]Filter
}

// NewBus creates a bus. When a Redis client is configured it returns after
// the channel subscription is in place.
func NewBus(opts Options) *Bus {
	if opts.Channel == "" {
		opts.Channel = defaultChannel
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "events").Logger()
	}
	ctx, stop := context.WithCancel(context.Background())
	b := &Bus{
		client:  opts.Client,
		channel: opts.Channel,
		logger:  logger,
		stop:    stop,
		subs:    make(map[chan Event]Filter),
	}
	if b.client != nil {
		ready := make(chan struct{})
		go b.relay(ctx, ready)
		<-ready
	}
	return b
}

// Close stops the Redis relay.
func (b *Bus) Close() {
	b.stop()
}

// Publish stamps evt with an id and timestamp when missing and delivers it.
func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if b.client == nil {
		b.deliver(evt)
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe registers a subscriber for events matching filter. The channel is
// closed when ctx ends or the returned func is called.
func (b *Bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = filter
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return ch, unsubscribe, nil
}

// deliver never blocks; slow subscribers lose events.
func (b *Bus) deliver(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, filter := range b.subs {
		if !filter.Match(evt) {
			continue
		}
		select {
		case ch <- evt:
		default:
			b.logger.Warn().Str("event_id", evt.ID).Str("type", evt.Type).Msg("subscriber backlog full, dropping event")
		}
	}
}

// relay forwards messages from the Redis channel to local subscribers until
// ctx ends.
func (b *Bus) relay(ctx context.Context, ready chan<- struct{}) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()
	close(ready)

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error().Err(err).Msg("redis receive failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeDelay):
			}
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			b.logger.Warn().Err(err).Msg("discarding malformed event")
			continue
		}
		b.deliver(evt)
	}
}
