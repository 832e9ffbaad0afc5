package gamenight

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// MemoryStore
// ============================================================================

// MemoryStore is a goroutine-safe in-process RemoteStore with backend
// semantics: one pending invitation per pair, terminal states, symmetric
// friendship, blocks, newest-first paging and idempotent message sends keyed
// by client id. Every mutation is published to the recipient's topic.
type MemoryStore struct {
	mu          sync.RWMutex
	invitations map[string]*FriendInvitation
	friends     map[string]map[string]struct{}
	blocks      map[string]map[string]struct{}
	messages    map[string][]*Message
	clientIDs   map[string]*Message
	reads       map[string]time.Time

	publisher Publisher
	now       func() time.Time
	logger    *slog.Logger
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithPublisher sets where mutation events are published.
func WithPublisher(p Publisher) MemoryStoreOption {
	return func(s *MemoryStore) { s.publisher = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithStoreLogger sets the store's logger.
func WithStoreLogger(l *slog.Logger) MemoryStoreOption {
	return func(s *MemoryStore) { s.logger = l }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		invitations: make(map[string]*FriendInvitation),
		friends:     make(map[string]map[string]struct{}),
		blocks:      make(map[string]map[string]struct{}),
		messages:    make(map[string][]*Message),
		clientIDs:   make(map[string]*Message),
		reads:       make(map[string]time.Time),
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ── Relationships ────────────────────────────────────────

func (s *MemoryStore) Friends(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.friends[userID]))
	for id := range s.friends[userID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Invitations returns the pending invitations userID sent or received,
// newest first.
func (s *MemoryStore) Invitations(_ context.Context, userID string, dir Direction) ([]FriendInvitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []FriendInvitation
	for _, inv := range s.invitations {
		if inv.Status != InvitationPending {
			continue
		}
		if (dir == DirectionSent && inv.From() == userID) || (dir == DirectionReceived && inv.To() == userID) {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SendInvitation(ctx context.Context, fromUserID, toUserID string) (*FriendInvitation, error) {
	if fromUserID == "" || toUserID == "" {
		return nil, newAPIError(CodeInvalidInput, "user ids are required")
	}
	if fromUserID == toUserID {
		return nil, newAPIError(CodeSelfInvite, "cannot invite self")
	}

	s.mu.Lock()
	if s.blockedLocked(fromUserID, toUserID) {
		s.mu.Unlock()
		return nil, newAPIError(CodeForbidden, "user is blocked")
	}
	if _, ok := s.friends[fromUserID][toUserID]; ok {
		s.mu.Unlock()
		return nil, newAPIError(CodeAlreadyFriends, "already friends")
	}
	if s.pendingLocked(fromUserID, toUserID) != nil || s.pendingLocked(toUserID, fromUserID) != nil {
		s.mu.Unlock()
		return nil, newAPIError(CodeAlreadyPending, "invitation already pending")
	}
	now := s.now()
	inv := &FriendInvitation{
		ID:         uuid.NewString(),
		FromUserID: UserRef(fromUserID),
		ToUserID:   UserRef(toUserID),
		Status:     InvitationPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.invitations[inv.ID] = inv
	out := *inv
	s.mu.Unlock()

	s.publish(ctx, toUserID, EventInvitationCreated, out)
	return &out, nil
}

func (s *MemoryStore) RespondInvitation(ctx context.Context, invitationID string, action InvitationAction, actingUserID string) (*FriendInvitation, error) {
	s.mu.Lock()
	inv, ok := s.invitations[invitationID]
	if !ok {
		s.mu.Unlock()
		return nil, newAPIError(CodeNotFound, "invitation not found")
	}
	if inv.To() != actingUserID {
		s.mu.Unlock()
		return nil, newAPIError(CodeForbidden, "only the recipient may respond")
	}
	if inv.Status.Terminal() {
		s.mu.Unlock()
		return nil, newAPIError(CodeInvalidState, "invitation is %s", inv.Status)
	}
	switch action {
	case ActionAccept:
		inv.Status = InvitationAccepted
		s.linkLocked(inv.From(), inv.To())
	case ActionDecline:
		inv.Status = InvitationDeclined
	default:
		s.mu.Unlock()
		return nil, newAPIError(CodeInvalidInput, "unknown action %q", action)
	}
	inv.UpdatedAt = s.now()
	out := *inv
	s.mu.Unlock()

	s.publish(ctx, out.From(), EventInvitationResponded, out)
	return &out, nil
}

func (s *MemoryStore) CancelInvitation(ctx context.Context, invitationID, actingUserID string) error {
	s.mu.Lock()
	inv, ok := s.invitations[invitationID]
	if !ok {
		s.mu.Unlock()
		return newAPIError(CodeNotFound, "invitation not found")
	}
	if inv.From() != actingUserID {
		s.mu.Unlock()
		return newAPIError(CodeForbidden, "only the sender may cancel")
	}
	if inv.Status != InvitationPending {
		s.mu.Unlock()
		return newAPIError(CodeInvalidState, "invitation is %s", inv.Status)
	}
	inv.Status = InvitationCancelled
	inv.UpdatedAt = s.now()
	recipient := inv.To()
	s.mu.Unlock()

	s.publish(ctx, recipient, EventInvitationCancelled, map[string]string{"id": invitationID})
	return nil
}

func (s *MemoryStore) RemoveFriend(ctx context.Context, userID, friendID string) error {
	s.mu.Lock()
	if _, ok := s.friends[userID][friendID]; !ok {
		s.mu.Unlock()
		return newAPIError(CodeNotFound, "not friends")
	}
	s.unlinkLocked(userID, friendID)
	s.mu.Unlock()

	s.publish(ctx, friendID, EventFriendRemoved, map[string]string{"id": userID})
	return nil
}

// Block records the block, drops any friendship and cancels pending
// invitations between the pair.
func (s *MemoryStore) Block(ctx context.Context, userID, blockedUserID string) error {
	if userID == blockedUserID {
		return newAPIError(CodeInvalidInput, "cannot block self")
	}
	s.mu.Lock()
	if s.blocks[userID] == nil {
		s.blocks[userID] = make(map[string]struct{})
	}
	s.blocks[userID][blockedUserID] = struct{}{}
	s.unlinkLocked(userID, blockedUserID)
	now := s.now()
	for _, inv := range s.invitations {
		if inv.Status != InvitationPending {
			continue
		}
		from, to := inv.From(), inv.To()
		if (from == userID && to == blockedUserID) || (from == blockedUserID && to == userID) {
			inv.Status = InvitationCancelled
			inv.UpdatedAt = now
		}
	}
	s.mu.Unlock()

	s.publish(ctx, blockedUserID, EventFriendBlocked, map[string]string{"id": userID})
	return nil
}

func (s *MemoryStore) blockedLocked(a, b string) bool {
	_, ab := s.blocks[a][b]
	_, ba := s.blocks[b][a]
	return ab || ba
}

func (s *MemoryStore) pendingLocked(from, to string) *FriendInvitation {
	for _, inv := range s.invitations {
		if inv.Status == InvitationPending && inv.From() == from && inv.To() == to {
			return inv
		}
	}
	return nil
}

func (s *MemoryStore) linkLocked(a, b string) {
	if s.friends[a] == nil {
		s.friends[a] = make(map[string]struct{})
	}
	if s.friends[b] == nil {
		s.friends[b] = make(map[string]struct{})
	}
	s.friends[a][b] = struct{}{}
	s.friends[b][a] = struct{}{}
}

func (s *MemoryStore) unlinkLocked(a, b string) {
	delete(s.friends[a], b)
	delete(s.friends[b], a)
}

// ── Messages ─────────────────────────────────────────────

// Messages returns one page of conversationID, newest first.
func (s *MemoryStore) Messages(_ context.Context, conversationID string, opts PageOptions) ([]Message, error) {
	page, limit := opts.Page, opts.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[conversationID]
	// Stored oldest first.
	end := len(all) - (page-1)*limit
	if end <= 0 {
		return []Message{}, nil
	}
	start := max(end-limit, 0)
	out := make([]Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, *all[i])
	}
	return out, nil
}

// SendMessage stores a message. A repeated client id returns the message
// stored by the first attempt.
func (s *MemoryStore) SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (*Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, newAPIError(CodeInvalidInput, "content is required")
	}
	if req.SenderID == "" || req.ReceiverID == "" {
		return nil, newAPIError(CodeInvalidInput, "sender and receiver are required")
	}

	s.mu.Lock()
	if s.blockedLocked(req.SenderID, req.ReceiverID) {
		s.mu.Unlock()
		return nil, newAPIError(CodeForbidden, "user is blocked")
	}
	dedupKey := conversationID + "/" + req.ClientID
	if req.ClientID != "" {
		if prev, ok := s.clientIDs[dedupKey]; ok {
			out := *prev
			s.mu.Unlock()
			return &out, nil
		}
	}
	msg := &Message{
		ID:             uuid.NewString(),
		ClientID:       req.ClientID,
		ConversationID: conversationID,
		SenderID:       UserRef(req.SenderID),
		ReceiverID:     UserRef(req.ReceiverID),
		Content:        content,
		CreatedAt:      s.now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	if req.ClientID != "" {
		s.clientIDs[dedupKey] = msg
	}
	out := *msg
	s.mu.Unlock()

	s.publish(ctx, req.ReceiverID, EventMessageNew, out)
	return &out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads[conversationID+"/"+userID] = s.now()
	return nil
}

// LastRead returns when userID last marked conversationID read.
func (s *MemoryStore) LastRead(conversationID, userID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.reads[conversationID+"/"+userID]
	return t, ok
}

func (s *MemoryStore) publish(ctx context.Context, userID, name string, payload any) {
	if s.publisher == nil {
		return
	}
	ev, err := NewPushEvent(TopicFor(userID), name, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn("push publish failed", "topic", TopicFor(userID), "event", name, "error", err)
	}
}

var _ RemoteStore = (*MemoryStore)(nil)
