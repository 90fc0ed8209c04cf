package redisclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultEventsChannel = "appointments:events"

// EventPublisher publishes JSON payloads on a single Pub/Sub channel.
type EventPublisher struct {
	client  *redis.Client
	channel string
}

func NewEventPublisher(client *redis.Client, channel string) *EventPublisher {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	return &EventPublisher{client: client, channel: channel}
}

func (p *EventPublisher) Publish(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe streams raw payloads from channel until ctx is done.
// The returned channel is closed when the subscription ends.
func Subscribe(ctx context.Context, client *redis.Client, channel string) (<-chan []byte, error) {
	if channel == "" {
		channel = DefaultEventsChannel
	}

	pubsub := client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so errors surface here.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 100)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
