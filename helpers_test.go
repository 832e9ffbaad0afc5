package gamenight

import (
	"context"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

// fakeStore wraps a MemoryStore with call counters, injected failures and
// optional gates that hold an operation until released.
type fakeStore struct {
	*MemoryStore

	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	gates map[string]chan struct{}
}

func newFakeStore(opts ...MemoryStoreOption) *fakeStore {
	return &fakeStore{
		MemoryStore: NewMemoryStore(opts...),
		calls:       make(map[string]int),
		fail:        make(map[string]error),
		gates:       make(map[string]chan struct{}),
	}
}

func (f *fakeStore) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// hold makes op block until the returned release func is called.
func (f *fakeStore) hold(op string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[op] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.gates, op)
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *fakeStore) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeStore) hit(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	err := f.fail[op]
	gate := f.gates[op]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeStore) Friends(ctx context.Context, userID string) ([]string, error) {
	if err := f.hit(ctx, "Friends"); err != nil {
		return nil, err
	}
	return f.MemoryStore.Friends(ctx, userID)
}

func (f *fakeStore) Invitations(ctx context.Context, userID string, dir Direction) ([]FriendInvitation, error) {
	if err := f.hit(ctx, "Invitations"); err != nil {
		return nil, err
	}
	return f.MemoryStore.Invitations(ctx, userID, dir)
}

func (f *fakeStore) SendInvitation(ctx context.Context, from, to string) (*FriendInvitation, error) {
	if err := f.hit(ctx, "SendInvitation"); err != nil {
		return nil, err
	}
	return f.MemoryStore.SendInvitation(ctx, from, to)
}

func (f *fakeStore) Messages(ctx context.Context, conversationID string, opts PageOptions) ([]Message, error) {
	if err := f.hit(ctx, "Messages"); err != nil {
		return nil, err
	}
	return f.MemoryStore.Messages(ctx, conversationID, opts)
}

func (f *fakeStore) SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (*Message, error) {
	if err := f.hit(ctx, "SendMessage"); err != nil {
		return nil, err
	}
	return f.MemoryStore.SendMessage(ctx, conversationID, req)
}

func (f *fakeStore) MarkRead(ctx context.Context, conversationID, userID string) error {
	if err := f.hit(ctx, "MarkRead"); err != nil {
		return err
	}
	return f.MemoryStore.MarkRead(ctx, conversationID, userID)
}

// tickingClock returns strictly increasing times one second apart.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

// relFixture is a relationship domain over a fake store and broker.
type relFixture struct {
	store  *fakeStore
	broker *Broker
	loader *Loader[*Snapshot]
	rel    *Relationships
	inv    *Invitations
}

func newRelFixture() *relFixture {
	broker := NewBroker(nil)
	store := newFakeStore(WithPublisher(broker), WithClock(tickingClock()))
	loader := NewLoader(NewCache[*Snapshot](0, 0), nil)
	rel := NewRelationships(store, loader, nil)
	return &relFixture{
		store:  store,
		broker: broker,
		loader: loader,
		rel:    rel,
		inv:    NewInvitations(store, rel, nil),
	}
}

func mustStatus(t *testing.T, rel *Relationships, viewer, target string) Relation {
	t.Helper()
	r, err := rel.Status(context.Background(), viewer, target)
	if err != nil {
		t.Fatalf("status %s->%s: %v", viewer, target, err)
	}
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
