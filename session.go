package gamenight

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// ErrNotSignedIn is returned by Session operations that need a user.
var ErrNotSignedIn = errors.New("not signed in")

// Session wires the synchronization components for one signed-in user. The
// relationship cache lives as long as the sign-in and is cleared on sign-out.
type Session struct {
	store    RemoteStore
	logger   *slog.Logger
	ttl      time.Duration
	size     int
	pageSize int

	loader      *Loader[*Snapshot]
	rel         *Relationships
	invitations *Invitations
	subscriber  *Subscriber

	mu      sync.Mutex
	userID  string
	streams []*MessageStream
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithCacheTTL sets the freshness window of cached reads.
func WithCacheTTL(ttl time.Duration) SessionOption {
	return func(s *Session) { s.ttl = ttl }
}

// WithCacheSize bounds the number of cached users.
func WithCacheSize(n int) SessionOption {
	return func(s *Session) { s.size = n }
}

// WithPageSize sets the message page size.
func WithPageSize(n int) SessionOption {
	return func(s *Session) { s.pageSize = n }
}

// WithLogger sets the logger shared by all components.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// NewSession creates a signed-out session. transport may be nil, in which
// case no push events are received.
func NewSession(store RemoteStore, transport PushTransport, opts ...SessionOption) *Session {
	s := &Session{
		store:    store,
		logger:   slog.Default(),
		ttl:      DefaultCacheTTL,
		size:     DefaultCacheSize,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.loader = NewLoader(NewCache[*Snapshot](s.size, s.ttl), s.logger)
	s.rel = NewRelationships(store, s.loader, s.logger)
	s.invitations = NewInvitations(store, s.rel, s.logger)
	if transport != nil {
		s.subscriber = NewSubscriber(transport, s.rel, s.logger)
		s.subscriber.OnMessage(s.route)
	}
	return s
}

// Relationships returns the relationship service.
func (s *Session) Relationships() *Relationships { return s.rel }

// Invitations returns the invitation manager.
func (s *Session) Invitations() *Invitations { return s.invitations }

// Subscriber returns the push subscriber, nil without a transport.
func (s *Session) Subscriber() *Subscriber { return s.subscriber }

// User returns the signed-in user id, "" when signed out.
func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// SignIn binds the session to userID. Signing in as a different user first
// signs the previous one out.
func (s *Session) SignIn(ctx context.Context, userID string) error {
	userID = NormalizeID(userID)
	if userID == "" {
		return newAPIError(CodeInvalidInput, "user id is required")
	}

	s.mu.Lock()
	prev := s.userID
	s.mu.Unlock()
	if prev == userID {
		return nil
	}
	if prev != "" {
		s.SignOut()
	}

	if s.subscriber != nil {
		if err := s.subscriber.SetUser(ctx, userID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
	s.logger.Info("signed in", "user_id", userID)
	return nil
}

// SignOut releases the push binding, drops open streams and clears the cache.
func (s *Session) SignOut() error {
	var err error
	if s.subscriber != nil {
		err = s.subscriber.Close()
	}
	s.mu.Lock()
	prev := s.userID
	s.userID = ""
	s.streams = nil
	s.mu.Unlock()
	s.loader.Clear()
	if prev != "" {
		s.logger.Info("signed out", "user_id", prev)
	}
	return err
}

// Status resolves the signed-in user's relation to targetID.
func (s *Session) Status(ctx context.Context, targetID string) (Relation, error) {
	user := s.User()
	if user == "" {
		return "", ErrNotSignedIn
	}
	return s.rel.Status(ctx, user, targetID)
}

// Conversation returns the open stream with peerID, creating and loading it
// on first use. A failed first load still returns the stream.
func (s *Session) Conversation(ctx context.Context, peerID string) (*MessageStream, error) {
	s.mu.Lock()
	user := s.userID
	if user == "" {
		s.mu.Unlock()
		return nil, ErrNotSignedIn
	}
	// Streams can be switched to another peer, so match on the current id.
	id := ConversationID(user, peerID)
	for _, stream := range s.streams {
		if stream.ConversationID() == id {
			s.mu.Unlock()
			return stream, nil
		}
	}
	stream := NewMessageStream(s.store, user, peerID, s.pageSize, s.logger)
	s.streams = append(s.streams, stream)
	s.mu.Unlock()

	return stream, stream.LoadPage(ctx, 1, false)
}

// route offers a push-delivered message to every open stream. Each stream
// drops messages outside its current conversation.
func (s *Session) route(_ context.Context, msg Message) {
	s.mu.Lock()
	streams := slices.Clone(s.streams)
	s.mu.Unlock()
	delivered := false
	for _, stream := range streams {
		if stream.Receive(msg) {
			delivered = true
		}
	}
	if !delivered {
		id := msg.ConversationID
		if id == "" {
			id = ConversationID(NormalizeID(msg.SenderID), NormalizeID(msg.ReceiverID))
		}
		s.logger.Debug("push message not routed", "conversation_id", id)
	}
}
