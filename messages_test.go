package gamenight

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// scriptedMessages is a MessageStore whose SendMessage is supplied by the test.
type scriptedMessages struct {
	send func(ctx context.Context, conversationID string, req SendMessageRequest) (*Message, error)
}

func (s *scriptedMessages) Messages(context.Context, string, PageOptions) ([]Message, error) {
	return []Message{}, nil
}

func (s *scriptedMessages) SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (*Message, error) {
	return s.send(ctx, conversationID, req)
}

func (s *scriptedMessages) MarkRead(context.Context, string, string) error { return nil }

func seedMessages(t *testing.T, store *fakeStore, from, to string, n int) {
	t.Helper()
	conv := ConversationID(from, to)
	for i := 0; i < n; i++ {
		_, err := store.MemoryStore.SendMessage(context.Background(), conv, SendMessageRequest{
			SenderID: from, ReceiverID: to, Content: fmt.Sprintf("m%03d", i),
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestConversationID(t *testing.T) {
	if ConversationID("b", "a") != ConversationID("a", "b") {
		t.Fatal("conversation id must not depend on order")
	}
	if ConversationID("a", "b") == ConversationID("a", "c") {
		t.Fatal("distinct pairs must differ")
	}
}

func TestSendSuccess(t *testing.T) {
	store := newFakeStore(WithClock(tickingClock()))
	stream := NewMessageStream(store, "a", "b", 0, nil)
	ctx := context.Background()

	msg, err := stream.Send(ctx, "  hello  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if isLocal(msg) || msg.IsOptimistic || msg.Content != "hello" {
		t.Fatalf("expected confirmed message, got %+v", msg)
	}
	list := stream.Messages()
	if len(list) != 1 || list[0].ID != msg.ID {
		t.Fatalf("expected the confirmed message only, got %+v", list)
	}
}

func TestSendShowsOptimisticEntry(t *testing.T) {
	store := newFakeStore()
	stream := NewMessageStream(store, "a", "b", 0, nil)
	release := store.hold("SendMessage")
	defer release()

	done := make(chan struct{})
	go func() {
		defer close(done)
		stream.Send(context.Background(), "hello")
	}()

	waitFor(t, "optimistic entry", func() bool { return len(stream.Messages()) == 1 })
	m := stream.Messages()[0]
	if !m.IsOptimistic || !isLocal(m) || m.ID != localIDPrefix+m.ClientID {
		t.Fatalf("unexpected placeholder: %+v", m)
	}
	release()
	<-done
	if list := stream.Messages(); len(list) != 1 || isLocal(list[0]) {
		t.Fatalf("placeholder should be replaced, got %+v", list)
	}
}

func TestSendFailureAndRetry(t *testing.T) {
	store := newFakeStore()
	stream := NewMessageStream(store, "a", "b", 0, nil)
	ctx := context.Background()
	boom := errors.New("network down")
	store.failOn("SendMessage", boom)

	failed, err := stream.Send(ctx, "hello")
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if failed.Error != "Failed to send message" || failed.RetryCount != 1 || failed.IsOptimistic {
		t.Fatalf("unexpected failed entry: %+v", failed)
	}
	clientID := failed.ClientID

	again, err := stream.Retry(ctx, failed.ID)
	if err == nil || again.RetryCount != 2 || again.ClientID != clientID {
		t.Fatalf("expected second failure with same client id, got %+v %v", again, err)
	}

	store.failOn("SendMessage", nil)
	sent, err := stream.Retry(ctx, failed.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if sent.ClientID != clientID || sent.Failed() || isLocal(sent) {
		t.Fatalf("unexpected confirmed message: %+v", sent)
	}
	list := stream.Messages()
	if len(list) != 1 || list[0].ID != sent.ID {
		t.Fatalf("expected one confirmed message, got %+v", list)
	}

	if _, err := stream.Retry(ctx, sent.ID); !errors.Is(err, ErrMessageNotFailed) {
		t.Fatalf("expected ErrMessageNotFailed, got %v", err)
	}
	if _, err := stream.Retry(ctx, "nope"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestSendBlankIsNoop(t *testing.T) {
	store := newFakeStore()
	stream := NewMessageStream(store, "a", "b", 0, nil)
	for _, content := range []string{"", "   ", "\n\t"} {
		msg, err := stream.Send(context.Background(), content)
		if err != nil || msg.ID != "" {
			t.Fatalf("blank send %q: %+v %v", content, msg, err)
		}
	}
	if store.count("SendMessage") != 0 || len(stream.Messages()) != 0 {
		t.Fatal("blank content must not reach the store or the list")
	}
}

func TestLoadPagination(t *testing.T) {
	store := newFakeStore(WithClock(tickingClock()))
	seedMessages(t, store, "b", "a", 120)
	stream := NewMessageStream(store, "a", "b", 50, nil)
	ctx := context.Background()

	if err := stream.LoadPage(ctx, 1, false); err != nil {
		t.Fatalf("load: %v", err)
	}
	if n := len(stream.Messages()); n != 50 || !stream.HasMore() {
		t.Fatalf("page 1: len=%d hasMore=%v", n, stream.HasMore())
	}
	if stream.Messages()[0].Content != "m119" {
		t.Fatalf("expected newest first, got %q", stream.Messages()[0].Content)
	}
	if _, ok := store.LastRead(stream.ConversationID(), "a"); !ok {
		t.Fatal("loading page 1 must mark the conversation read")
	}

	stream.LoadOlder(ctx)
	if n := len(stream.Messages()); n != 100 || !stream.HasMore() {
		t.Fatalf("page 2: len=%d hasMore=%v", n, stream.HasMore())
	}
	stream.LoadOlder(ctx)
	if n := len(stream.Messages()); n != 120 || stream.HasMore() {
		t.Fatalf("page 3: len=%d hasMore=%v", n, stream.HasMore())
	}
	if stream.Page() != 3 {
		t.Fatalf("expected page 3, got %d", stream.Page())
	}

	calls := store.count("Messages")
	stream.LoadOlder(ctx)
	if store.count("Messages") != calls {
		t.Fatal("no fetch expected once hasMore is false")
	}

	// Overlapping page appended again adds nothing.
	stream.LoadPage(ctx, 2, true)
	if n := len(stream.Messages()); n != 120 {
		t.Fatalf("duplicates appended, len=%d", n)
	}
}

func TestReloadKeepsLocalEntries(t *testing.T) {
	store := newFakeStore(WithClock(tickingClock()))
	seedMessages(t, store, "b", "a", 3)
	stream := NewMessageStream(store, "a", "b", 0, nil)
	ctx := context.Background()
	stream.LoadPage(ctx, 1, false)

	store.failOn("SendMessage", errors.New("offline"))
	failed, _ := stream.Send(ctx, "not yet")
	store.failOn("SendMessage", nil)

	if err := stream.LoadPage(ctx, 1, false); err != nil {
		t.Fatalf("reload: %v", err)
	}
	list := stream.Messages()
	if len(list) != 4 || list[0].ID != failed.ID {
		t.Fatalf("failed entry must survive reload at the head, got %+v", list)
	}
}

func TestReceiveDedup(t *testing.T) {
	store := newFakeStore()
	stream := NewMessageStream(store, "a", "b", 0, nil)
	incoming := Message{ID: "srv-1", SenderID: "b", ReceiverID: "a", Content: "yo"}

	if !stream.Receive(incoming) {
		t.Fatal("expected first delivery to be added")
	}
	if stream.Receive(incoming) {
		t.Fatal("duplicate delivery must be dropped")
	}
	if stream.Receive(Message{ID: "srv-2", SenderID: "b", ReceiverID: "c", Content: "other"}) {
		t.Fatal("message for another conversation must be dropped")
	}
	if n := len(stream.Messages()); n != 1 {
		t.Fatalf("expected 1 message, got %d", n)
	}
}

func TestPushArrivesBeforeSendResponse(t *testing.T) {
	var stream *MessageStream
	store := &scriptedMessages{}
	store.send = func(_ context.Context, conv string, req SendMessageRequest) (*Message, error) {
		confirmed := &Message{
			ID: "srv-1", ClientID: req.ClientID, ConversationID: conv,
			SenderID: UserRef(req.SenderID), ReceiverID: UserRef(req.ReceiverID), Content: req.Content,
		}
		// The server's push lands first.
		if !stream.Receive(*confirmed) {
			t.Error("push delivery should replace the placeholder")
		}
		return confirmed, nil
	}
	stream = NewMessageStream(store, "a", "b", 0, nil)

	if _, err := stream.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	list := stream.Messages()
	if len(list) != 1 || list[0].ID != "srv-1" {
		t.Fatalf("expected exactly one confirmed message, got %+v", list)
	}
}

func TestPushWithoutClientIDMatchesContent(t *testing.T) {
	var stream *MessageStream
	store := &scriptedMessages{}
	store.send = func(_ context.Context, conv string, req SendMessageRequest) (*Message, error) {
		stream.Receive(Message{ID: "srv-1", ConversationID: conv, SenderID: "a", ReceiverID: "b", Content: req.Content})
		return &Message{ID: "srv-1", ConversationID: conv, SenderID: "a", ReceiverID: "b", Content: req.Content}, nil
	}
	stream = NewMessageStream(store, "a", "b", 0, nil)

	stream.Send(context.Background(), "same")
	list := stream.Messages()
	if len(list) != 1 || list[0].ID != "srv-1" {
		t.Fatalf("expected placeholder replaced by content match, got %+v", list)
	}
}

func TestLoadError(t *testing.T) {
	store := newFakeStore()
	stream := NewMessageStream(store, "a", "b", 0, nil)
	boom := errors.New("timeout")
	store.failOn("Messages", boom)

	if err := stream.LoadPage(context.Background(), 1, false); !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	if !errors.Is(stream.Err(), boom) {
		t.Fatalf("expected error to be recorded, got %v", stream.Err())
	}
	if store.count("MarkRead") != 0 {
		t.Fatal("failed load must not mark read")
	}

	store.failOn("Messages", nil)
	stream.LoadPage(context.Background(), 1, false)
	if stream.Err() != nil {
		t.Fatal("successful load must clear the error")
	}
}

func TestSwitchDiscardsInFlight(t *testing.T) {
	store := newFakeStore(WithClock(tickingClock()))
	seedMessages(t, store, "b", "a", 2)
	seedMessages(t, store, "c", "a", 1)
	stream := NewMessageStream(store, "a", "b", 0, nil)
	ctx := context.Background()

	release := store.hold("Messages")
	done := make(chan struct{})
	go func() {
		defer close(done)
		stream.LoadPage(ctx, 1, false)
	}()
	waitFor(t, "load to start", func() bool { return store.count("Messages") == 1 })

	switched := make(chan error, 1)
	go func() { switched <- stream.Switch(ctx, "c") }()
	waitFor(t, "switch to start", func() bool { return store.count("Messages") == 2 })
	release()
	<-done
	if err := <-switched; err != nil {
		t.Fatalf("switch: %v", err)
	}

	if stream.Peer() != "c" || stream.ConversationID() != ConversationID("a", "c") {
		t.Fatalf("unexpected target %q %q", stream.Peer(), stream.ConversationID())
	}
	list := stream.Messages()
	if len(list) != 1 || NormalizeID(list[0].SenderID) != "c" {
		t.Fatalf("stale page leaked into new conversation: %+v", list)
	}
}

func TestOfflineConversation(t *testing.T) {
	broker := NewBroker(nil)
	store := newFakeStore(WithPublisher(broker), WithClock(tickingClock()))
	ctx := context.Background()

	alice := NewMessageStream(store, "alice", "bob", 0, nil)
	bob := NewMessageStream(store, "bob", "alice", 0, nil)
	broker.Subscribe(ctx, TopicFor("bob"), func(_ context.Context, ev PushEvent) {
		var m Message
		if ev.Name == EventMessageNew && ev.Decode(&m) == nil {
			bob.Receive(m)
		}
	})

	store.failOn("SendMessage", errors.New("offline"))
	m, _ := alice.Send(ctx, "are you there?")
	if !m.Failed() || len(bob.Messages()) != 0 {
		t.Fatalf("nothing should be delivered while offline: %+v", m)
	}

	store.failOn("SendMessage", nil)
	sent, err := alice.Retry(ctx, m.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	got := bob.Messages()
	if len(got) != 1 || got[0].ID != sent.ID {
		t.Fatalf("bob should see the delivered message, got %+v", got)
	}

	// A second retry with the same client id is idempotent on the store.
	dup, _ := store.MemoryStore.SendMessage(ctx, alice.ConversationID(), SendMessageRequest{
		SenderID: "alice", ReceiverID: "bob", Content: "are you there?", ClientID: sent.ClientID,
	})
	if dup.ID != sent.ID {
		t.Fatalf("expected idempotent send, got %q vs %q", dup.ID, sent.ID)
	}
}
