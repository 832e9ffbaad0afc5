package gamenight

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type failingTransport struct{ err error }

func (t failingTransport) Subscribe(context.Context, string, PushHandler) (Subscription, error) {
	return nil, t.err
}

func TestSubscriberBinding(t *testing.T) {
	f := newRelFixture()
	sub := NewSubscriber(f.broker, f.rel, nil)
	ctx := context.Background()

	t.Run("same user twice keeps one binding", func(t *testing.T) {
		if err := sub.SetUser(ctx, "a"); err != nil {
			t.Fatalf("set user: %v", err)
		}
		if err := sub.SetUser(ctx, " a "); err != nil {
			t.Fatalf("set user: %v", err)
		}
		if n := f.broker.Subscribers(TopicFor("a")); n != 1 {
			t.Fatalf("expected 1 subscriber, got %d", n)
		}
	})

	t.Run("switching user releases the old topic", func(t *testing.T) {
		if err := sub.SetUser(ctx, "b"); err != nil {
			t.Fatalf("set user: %v", err)
		}
		if n := f.broker.Subscribers(TopicFor("a")); n != 0 {
			t.Fatalf("old topic leaked %d subscribers", n)
		}
		if n := f.broker.Subscribers(TopicFor("b")); n != 1 {
			t.Fatalf("expected 1 subscriber on new topic, got %d", n)
		}
		if sub.User() != "b" || sub.Bound("a") || !sub.Bound("b") {
			t.Fatalf("unexpected binding state, user=%q", sub.User())
		}
	})

	t.Run("empty id unbinds", func(t *testing.T) {
		if err := sub.SetUser(ctx, ""); err != nil {
			t.Fatalf("set user: %v", err)
		}
		if n := f.broker.Subscribers(TopicFor("b")); n != 0 {
			t.Fatalf("expected no subscribers, got %d", n)
		}
		if sub.User() != "" {
			t.Fatalf("expected no user, got %q", sub.User())
		}
	})
}

func TestSubscriberSubscribeError(t *testing.T) {
	f := newRelFixture()
	boom := errors.New("transport down")
	sub := NewSubscriber(failingTransport{err: boom}, f.rel, nil)
	if err := sub.SetUser(context.Background(), "a"); !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if sub.User() != "" || sub.Bound("a") {
		t.Fatal("failed subscribe must leave the subscriber unbound")
	}
}

func TestSubscriberRefetchesOnRelationshipEvent(t *testing.T) {
	f := newRelFixture()
	ctx := context.Background()
	sub := NewSubscriber(f.broker, f.rel, nil)
	if err := sub.SetUser(ctx, "b"); err != nil {
		t.Fatalf("set user: %v", err)
	}

	var mu sync.Mutex
	var seen []string
	sub.OnEvent(func(_ context.Context, ev PushEvent) {
		mu.Lock()
		seen = append(seen, ev.Name)
		mu.Unlock()
	})

	if got := mustStatus(t, f.rel, "b", "a"); got != RelationNone {
		t.Fatalf("expected none, got %s", got)
	}
	before := f.loader.Fetches()

	// A acts through its own client; B only learns about it by push.
	res := NewInvitations(f.store, f.rel, nil).Send(ctx, "a", "b")
	if !res.Success {
		t.Fatalf("send failed: %+v", res.Error)
	}
	e, ok := f.loader.Cache().Get(RelationshipKey("b"))
	if !ok {
		t.Fatal("expected b's state to be refetched by the push handler")
	}
	if got := e.Data.Status("a"); got != RelationPendingReceived {
		t.Fatalf("expected pending-received, got %s", got)
	}
	if f.loader.Fetches() <= before {
		t.Fatal("expected a refetch")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != EventInvitationCreated {
		t.Fatalf("expected one invitation event, got %v", seen)
	}
}

func TestSubscriberDuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newRelFixture()
	ctx := context.Background()
	sub := NewSubscriber(f.broker, f.rel, nil)
	sub.SetUser(ctx, "b")

	f.store.SendInvitation(ctx, "a", "b")
	ev, _ := NewPushEvent(TopicFor("b"), EventInvitationCreated, map[string]string{"id": "dup"})
	f.broker.Publish(ctx, ev)
	f.broker.Publish(ctx, ev)

	if got := mustStatus(t, f.rel, "b", "a"); got != RelationPendingReceived {
		t.Fatalf("expected pending-received, got %s", got)
	}
	snap, _ := f.rel.State(ctx, "b")
	if len(snap.Received) != 1 {
		t.Fatalf("redelivery must not duplicate state, got %d invitations", len(snap.Received))
	}
}

func TestSubscriberForwardsMessages(t *testing.T) {
	f := newRelFixture()
	ctx := context.Background()
	sub := NewSubscriber(f.broker, f.rel, nil)
	sub.SetUser(ctx, "b")

	var got []Message
	sub.OnMessage(func(_ context.Context, m Message) { got = append(got, m) })

	friendsBefore := f.store.count("Friends")
	_, err := f.store.SendMessage(ctx, ConversationID("a", "b"), SendMessageRequest{
		SenderID: "a", ReceiverID: "b", Content: "hi", ClientID: "c1",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(got) != 1 || got[0].Content != "hi" || got[0].ClientID != "c1" {
		t.Fatalf("expected forwarded message, got %+v", got)
	}
	if f.store.count("Friends") != friendsBefore {
		t.Fatal("message events must not refetch relationships")
	}
}

func TestSubscriberIgnoresEventsAfterClose(t *testing.T) {
	f := newRelFixture()
	ctx := context.Background()
	sub := NewSubscriber(f.broker, f.rel, nil)
	sub.SetUser(ctx, "b")

	// Capture the handler so a late delivery can be replayed after Close.
	var late PushHandler
	spy := transportFunc(func(ctx context.Context, topic string, h PushHandler) (Subscription, error) {
		late = h
		return f.broker.Subscribe(ctx, topic, h)
	})
	spied := NewSubscriber(spy, f.rel, nil)
	spied.SetUser(ctx, "c")

	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := spied.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := f.broker.Subscribers(TopicFor("b")); n != 0 {
		t.Fatalf("expected no subscribers after close, got %d", n)
	}

	fetches := f.loader.Fetches()
	f.store.SendInvitation(ctx, "a", "b")
	ev, _ := NewPushEvent(TopicFor("c"), EventFriendRemoved, map[string]string{"id": "a"})
	late(ctx, ev)
	if f.loader.Fetches() != fetches {
		t.Fatal("events after close must not trigger refetches")
	}
}

type transportFunc func(ctx context.Context, topic string, h PushHandler) (Subscription, error)

func (f transportFunc) Subscribe(ctx context.Context, topic string, h PushHandler) (Subscription, error) {
	return f(ctx, topic, h)
}

func TestPushEventDecode(t *testing.T) {
	ev, err := NewPushEvent(TopicFor("b"), EventInvitationCancelled, map[string]string{"id": "i1"})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	var body struct{ ID string }
	if err := ev.Decode(&body); err != nil || body.ID != "i1" {
		t.Fatalf("decode: %q %v", body.ID, err)
	}
	if err := (PushEvent{Name: "x"}).Decode(&body); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if !IsRelationshipEvent(EventFriendBlocked) || IsRelationshipEvent(EventMessageNew) {
		t.Fatal("unexpected event classification")
	}
}
