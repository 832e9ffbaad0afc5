// Package redispush carries gamenight push events over Redis pub/sub.
package redispush

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	gamenight "github.com/gamenight-app/gamenight/sdk/golang"
)

// DefaultChannelPrefix namespaces push topics on the Redis server.
const DefaultChannelPrefix = "gamenight:push:"

// Transport publishes and subscribes push events on Redis channels.
type Transport struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// New wraps a Redis client.
func New(client redis.UniversalClient, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{client: client, prefix: DefaultChannelPrefix, logger: logger}
}

// Channel returns the Redis channel of a push topic.
func (t *Transport) Channel(topic string) string {
	return t.prefix + topic
}

func (t *Transport) Publish(ctx context.Context, ev gamenight.PushEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}
	if err := t.client.Publish(ctx, t.Channel(ev.Topic), data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", t.Channel(ev.Topic), err)
	}
	return nil
}

type subscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

func (s *subscription) Unsubscribe() error {
	err := s.pubsub.Close()
	<-s.done
	return err
}

// Subscribe waits for the server to confirm the subscription, then delivers
// events from a background goroutine until Unsubscribe.
func (t *Transport) Subscribe(ctx context.Context, topic string, handler gamenight.PushHandler) (gamenight.Subscription, error) {
	channel := t.Channel(topic)
	pubsub := t.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	sub := &subscription{pubsub: pubsub, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for msg := range pubsub.Channel() {
			var ev gamenight.PushEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				t.logger.Error("invalid push event", "channel", msg.Channel, "error", err)
				continue
			}
			if ev.Topic == "" {
				ev.Topic = topic
			}
			handler(context.Background(), ev)
		}
	}()
	return sub, nil
}

var (
	_ gamenight.PushTransport = (*Transport)(nil)
	_ gamenight.Publisher     = (*Transport)(nil)
)
