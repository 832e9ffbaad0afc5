package gamenight

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Broker is an in-process PushTransport. Publish delivers synchronously on
// the caller's goroutine, in subscription order.
type Broker struct {
	mu     sync.RWMutex
	next   uint64
	topics map[string]map[uint64]PushHandler
	logger *slog.Logger
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		topics: make(map[string]map[uint64]PushHandler),
		logger: logger,
	}
}

type brokerSub struct {
	b     *Broker
	topic string
	id    uint64
	once  sync.Once
}

func (s *brokerSub) Unsubscribe() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		if subs := s.b.topics[s.topic]; subs != nil {
			delete(subs, s.id)
			if len(subs) == 0 {
				delete(s.b.topics, s.topic)
			}
		}
	})
	return nil
}

func (b *Broker) Subscribe(_ context.Context, topic string, handler PushHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[uint64]PushHandler)
	}
	b.topics[topic][b.next] = handler
	return &brokerSub{b: b, topic: topic, id: b.next}, nil
}

// Publish delivers ev to every current subscriber of ev.Topic.
func (b *Broker) Publish(ctx context.Context, ev PushEvent) error {
	b.mu.RLock()
	subs := b.topics[ev.Topic]
	ids := make([]uint64, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	handlers := make([]PushHandler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, subs[id])
	}
	b.mu.RUnlock()

	b.logger.Debug("push publish", "topic", ev.Topic, "event", ev.Name, "subscribers", len(handlers))
	for _, h := range handlers {
		h(ctx, ev)
	}
	return nil
}

// Subscribers returns the number of handlers bound to topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

var (
	_ PushTransport = (*Broker)(nil)
	_ Publisher     = (*Broker)(nil)
)
