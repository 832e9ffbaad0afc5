package gamenight

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Push event names delivered on a user's topic.
const (
	EventInvitationCreated   = "friend-invitation"
	EventInvitationResponded = "friend-invitation-response"
	EventInvitationCancelled = "friend-invitation-cancelled"
	EventFriendRemoved       = "friend-removed"
	EventFriendAdded         = "friend-added"
	EventFriendBlocked       = "friend-blocked"
	EventMessageNew          = "new-message"
)

// relationshipEvents invalidate the subscriber's relationship state.
var relationshipEvents = map[string]bool{
	EventInvitationCreated:   true,
	EventInvitationResponded: true,
	EventInvitationCancelled: true,
	EventFriendRemoved:       true,
	EventFriendAdded:         true,
	EventFriendBlocked:       true,
}

// IsRelationshipEvent reports whether name changes relationship state.
func IsRelationshipEvent(name string) bool { return relationshipEvents[name] }

// TopicFor returns the push topic of a user.
func TopicFor(userID string) string {
	return "user-" + NormalizeID(userID)
}

// PushEvent is a notification delivered on a topic. Payload is the object
// itself, or a minimal {"id": ...} for removal events.
type PushEvent struct {
	Topic   string          `json:"topic,omitempty"`
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (e PushEvent) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("push event %q has no payload", e.Name)
	}
	return json.Unmarshal(e.Payload, v)
}

// NewPushEvent builds an event on topic, marshaling payload.
func NewPushEvent(topic, name string, payload any) (PushEvent, error) {
	ev := PushEvent{Topic: topic, Name: name}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return ev, fmt.Errorf("marshal %s payload: %w", name, err)
		}
		ev.Payload = b
	}
	return ev, nil
}

// PushHandler consumes events of one subscription.
type PushHandler func(ctx context.Context, ev PushEvent)

// Subscription is an active topic binding.
type Subscription interface {
	Unsubscribe() error
}

// PushTransport delivers events published on a topic.
type PushTransport interface {
	Subscribe(ctx context.Context, topic string, handler PushHandler) (Subscription, error)
}

// Publisher emits events on ev.Topic.
type Publisher interface {
	Publish(ctx context.Context, ev PushEvent) error
}

// ============================================================================
// Subscriber
// ============================================================================

// Subscriber binds the signed-in user's topic and turns relationship events
// into invalidate-and-refetch cycles. Message events go to registered
// listeners. At most one binding exists per user id.
type Subscriber struct {
	transport PushTransport
	rel       *Relationships
	logger    *slog.Logger

	mu       sync.Mutex
	current  string
	bindings map[string]Subscription

	lmu       sync.RWMutex
	onMessage []func(context.Context, Message)
	onEvent   []func(context.Context, PushEvent)
}

// NewSubscriber creates a subscriber over transport.
func NewSubscriber(transport PushTransport, rel *Relationships, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		transport: transport,
		rel:       rel,
		logger:    logger,
		bindings:  make(map[string]Subscription),
	}
}

// OnMessage registers a listener for push-delivered messages.
func (s *Subscriber) OnMessage(h func(context.Context, Message)) {
	s.lmu.Lock()
	s.onMessage = append(s.onMessage, h)
	s.lmu.Unlock()
}

// OnEvent registers a listener called for every event after it is handled.
func (s *Subscriber) OnEvent(h func(context.Context, PushEvent)) {
	s.lmu.Lock()
	s.onEvent = append(s.onEvent, h)
	s.lmu.Unlock()
}

// User returns the currently bound user id.
func (s *Subscriber) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetUser binds userID's topic, releasing the previous user's binding when
// the id changes. An empty id unbinds.
func (s *Subscriber) SetUser(ctx context.Context, userID string) error {
	userID = NormalizeID(userID)

	s.mu.Lock()
	if _, bound := s.bindings[userID]; userID == s.current && (bound || userID == "") {
		s.mu.Unlock()
		return nil
	}
	var stale []Subscription
	if s.current != "" && s.current != userID {
		stale = s.detachLocked(s.current)
	}
	s.current = userID
	if userID == "" {
		s.mu.Unlock()
		s.release(stale)
		return nil
	}

	// Events arriving before the binding is stored wait on s.mu.
	sub, err := s.transport.Subscribe(ctx, TopicFor(userID), func(ctx context.Context, ev PushEvent) {
		s.handle(ctx, userID, ev)
	})
	if err != nil {
		s.current = ""
		s.mu.Unlock()
		s.release(stale)
		return fmt.Errorf("subscribe %s: %w", TopicFor(userID), err)
	}
	s.bindings[userID] = sub
	s.mu.Unlock()

	s.release(stale)
	s.logger.Debug("push subscribed", "topic", TopicFor(userID))
	return nil
}

// Close releases every binding.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	var subs []Subscription
	for id := range s.bindings {
		subs = append(subs, s.detachLocked(id)...)
	}
	s.current = ""
	s.mu.Unlock()
	return s.release(subs)
}

// Bound reports whether userID currently has a binding.
func (s *Subscriber) Bound(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bindings[NormalizeID(userID)]
	return ok
}

func (s *Subscriber) detachLocked(userID string) []Subscription {
	sub, ok := s.bindings[userID]
	if !ok {
		return nil
	}
	delete(s.bindings, userID)
	return []Subscription{sub}
}

// release unsubscribes outside s.mu; transports may wait for in-flight
// handlers, which take s.mu.
func (s *Subscriber) release(subs []Subscription) error {
	var firstErr error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("push unsubscribe failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// handle is invoked by the transport for events on userID's topic.
func (s *Subscriber) handle(ctx context.Context, userID string, ev PushEvent) {
	// Deliveries racing an unbind are dropped.
	s.mu.Lock()
	_, bound := s.bindings[userID]
	s.mu.Unlock()
	if !bound {
		return
	}

	switch {
	case IsRelationshipEvent(ev.Name):
		if _, err := s.rel.Reload(ctx, userID); err != nil {
			s.logger.Warn("refetch after push event failed", "event", ev.Name, "user_id", userID, "error", err)
		}
	case ev.Name == EventMessageNew:
		var msg Message
		if err := ev.Decode(&msg); err != nil {
			s.logger.Warn("bad message payload", "event", ev.Name, "error", err)
			break
		}
		s.lmu.RLock()
		handlers := append([]func(context.Context, Message){}, s.onMessage...)
		s.lmu.RUnlock()
		for _, h := range handlers {
			h(ctx, msg)
		}
	default:
		s.logger.Debug("ignoring push event", "event", ev.Name)
	}

	s.lmu.RLock()
	listeners := append([]func(context.Context, PushEvent){}, s.onEvent...)
	s.lmu.RUnlock()
	for _, h := range listeners {
		h(ctx, ev)
	}
}
