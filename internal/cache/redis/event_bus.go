package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bitredict/oddyssey-engine/internal/domain"
)

// eventsChannel is the Pub/Sub channel carrying engine events.
const eventsChannel = "oddyssey:events"

// EventBus implements domain.EventBus using Redis Pub/Sub. Events are
// ephemeral: consumers that need durability (the oracle bot) also poll the
// store on a fallback ticker.
type EventBus struct {
	rdb *redis.Client
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

// Publish sends an engine event to all subscribers.
func (b *EventBus) Publish(ctx context.Context, event domain.EngineEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, eventsChannel, data).Err(); err != nil {
		return fmt.Errorf("redis: publish event %s: %w", event.Type, err)
	}
	return nil
}

// Subscribe returns a channel of engine events. Malformed payloads are
// dropped. The channel is closed when cancel is called or the context ends.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan domain.EngineEvent, func(), error) {
	pubsub := b.rdb.Subscribe(ctx, eventsChannel)

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("redis: subscribe events: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan domain.EngineEvent, 64)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event domain.EngineEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return out, cancel, nil
}

// Compile-time interface check.
var _ domain.EventBus = (*EventBus)(nil)
