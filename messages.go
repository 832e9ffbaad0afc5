package gamenight

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPageSize is the number of messages fetched per page.
const DefaultPageSize = 50

const (
	localIDPrefix     = "local-"
	sendFailedMessage = "Failed to send message"
)

var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrMessageNotFailed = errors.New("message has not failed")
)

// ConversationID returns the id of the two-party conversation between a and
// b. It does not depend on argument order.
func ConversationID(a, b string) string {
	a, b = NormalizeID(a), NormalizeID(b)
	if b < a {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// ============================================================================
// MessageStream
// ============================================================================

// MessageStream is the viewer's newest-first view of one conversation.
// Sends are shown immediately as optimistic entries and reconciled when the
// store confirms or rejects them, or when the confirmed message arrives by
// push first.
type MessageStream struct {
	store    MessageStore
	viewerID string
	pageSize int
	logger   *slog.Logger
	now      func() time.Time

	mu             sync.Mutex
	peerID         string
	conversationID string
	messages       []Message
	page           int
	hasMore        bool
	loadingOlder   bool
	err            error
	// epoch changes on Switch; results of calls started under an older
	// epoch are discarded.
	epoch uint64
}

// NewMessageStream creates a stream between viewerID and peerID. Nothing is
// loaded until LoadPage.
func NewMessageStream(store MessageStore, viewerID, peerID string, pageSize int, logger *slog.Logger) *MessageStream {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	viewerID, peerID = NormalizeID(viewerID), NormalizeID(peerID)
	return &MessageStream{
		store:          store,
		viewerID:       viewerID,
		peerID:         peerID,
		conversationID: ConversationID(viewerID, peerID),
		pageSize:       pageSize,
		logger:         logger,
		now:            time.Now,
		hasMore:        true,
	}
}

// ConversationID returns the current conversation.
func (s *MessageStream) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Peer returns the other participant.
func (s *MessageStream) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// Messages returns a copy of the list, newest first.
func (s *MessageStream) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// HasMore reports whether older pages may exist.
func (s *MessageStream) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Page returns the last page loaded, 0 before the first load.
func (s *MessageStream) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// Err returns the error of the last failed page load.
func (s *MessageStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LoadPage fetches page. With appendOlder the page is added at the tail,
// skipping ids already present. Otherwise it replaces the confirmed list;
// entries still pending or failed locally stay at the head. Loading page 1
// marks the conversation read.
func (s *MessageStream) LoadPage(ctx context.Context, page int, appendOlder bool) error {
	if page < 1 {
		page = 1
	}
	s.mu.Lock()
	epoch, conv := s.epoch, s.conversationID
	s.mu.Unlock()

	msgs, err := s.store.Messages(ctx, conv, PageOptions{Page: page, Limit: s.pageSize})

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.err = err
		s.mu.Unlock()
		s.logger.Warn("load messages failed", "conversation_id", conv, "page", page, "error", err)
		return err
	}
	s.err = nil
	if appendOlder {
		for _, m := range msgs {
			if s.indexOfLocked(m.ID) < 0 {
				s.messages = append(s.messages, m)
			}
		}
	} else {
		s.replaceLocked(msgs)
	}
	s.page = page
	s.hasMore = len(msgs) >= s.pageSize
	s.mu.Unlock()

	if page == 1 {
		if err := s.store.MarkRead(ctx, conv, s.viewerID); err != nil {
			s.logger.Warn("mark read failed", "conversation_id", conv, "error", err)
		}
	}
	return nil
}

func (s *MessageStream) replaceLocked(msgs []Message) {
	confirmed := make(map[string]struct{}, len(msgs))
	clientIDs := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		confirmed[m.ID] = struct{}{}
		if m.ClientID != "" {
			clientIDs[m.ClientID] = struct{}{}
		}
	}
	next := make([]Message, 0, len(msgs))
	for _, m := range s.messages {
		if !isLocal(m) {
			continue
		}
		if _, done := clientIDs[m.ClientID]; done {
			continue
		}
		next = append(next, m)
	}
	for _, m := range msgs {
		if _, ok := confirmed[m.ID]; !ok {
			continue
		}
		delete(confirmed, m.ID)
		next = append(next, m)
	}
	s.messages = next
}

// LoadOlder loads the page after the last one. It is a no-op while an older
// load is running or when no more pages exist.
func (s *MessageStream) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	if s.loadingOlder || !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	s.loadingOlder = true
	next := s.page + 1
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loadingOlder = false
		s.mu.Unlock()
	}()
	return s.LoadPage(ctx, next, true)
}

// Send shows content immediately and delivers it. Blank content is ignored
// and yields a zero Message. On failure the entry stays in the list marked
// failed and the store error is returned.
func (s *MessageStream) Send(ctx context.Context, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, nil
	}

	clientID := uuid.NewString()
	s.mu.Lock()
	entry := Message{
		ID:             localIDPrefix + clientID,
		ClientID:       clientID,
		ConversationID: s.conversationID,
		SenderID:       UserRef(s.viewerID),
		ReceiverID:     UserRef(s.peerID),
		Content:        content,
		CreatedAt:      s.now(),
		IsOptimistic:   true,
	}
	s.messages = slices.Insert(s.messages, 0, entry)
	epoch := s.epoch
	s.mu.Unlock()

	return s.deliver(ctx, epoch, entry)
}

// Retry resends a failed entry with its original client id.
func (s *MessageStream) Retry(ctx context.Context, id string) (Message, error) {
	s.mu.Lock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return Message{}, ErrMessageNotFound
	}
	m := &s.messages[idx]
	if !m.Failed() {
		s.mu.Unlock()
		return Message{}, ErrMessageNotFailed
	}
	m.Error = ""
	m.IsOptimistic = true
	entry := *m
	epoch := s.epoch
	s.mu.Unlock()

	return s.deliver(ctx, epoch, entry)
}

func (s *MessageStream) deliver(ctx context.Context, epoch uint64, entry Message) (Message, error) {
	confirmed, err := s.store.SendMessage(ctx, entry.ConversationID, SendMessageRequest{
		SenderID:   NormalizeID(entry.SenderID),
		ReceiverID: NormalizeID(entry.ReceiverID),
		Content:    entry.Content,
		ClientID:   entry.ClientID,
	})
	if err == nil && confirmed == nil {
		err = errors.New("empty send response")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		if err != nil {
			return entry, err
		}
		return *confirmed, nil
	}

	idx := s.indexOfLocked(entry.ID)
	if err != nil {
		s.logger.Warn("send message failed", "conversation_id", entry.ConversationID, "client_id", entry.ClientID, "error", err)
		if idx < 0 {
			return entry, err
		}
		m := &s.messages[idx]
		m.IsOptimistic = false
		m.Error = sendFailedMessage
		m.RetryCount++
		return *m, err
	}

	if confirmed.ClientID == "" {
		confirmed.ClientID = entry.ClientID
	}
	if idx >= 0 {
		s.messages = slices.Delete(s.messages, idx, idx+1)
	}
	if s.indexOfLocked(confirmed.ID) < 0 {
		s.messages = slices.Insert(s.messages, 0, *confirmed)
	}
	return *confirmed, nil
}

// Receive merges a message delivered by push. It reports whether the list
// changed. A message already present by id is dropped. A local entry with
// the same client id is replaced. When the server did not echo a client id,
// the oldest optimistic entry with the same sender and content is replaced
// instead; two identical in-flight sends cannot be told apart this way.
func (s *MessageStream) Receive(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.belongsLocked(msg) {
		return false
	}
	if msg.ID != "" && s.indexOfLocked(msg.ID) >= 0 {
		return false
	}

	match := -1
	if msg.ClientID != "" {
		for i, m := range s.messages {
			if isLocal(m) && m.ClientID == msg.ClientID {
				match = i
				break
			}
		}
	} else {
		sender := NormalizeID(msg.SenderID)
		for i := len(s.messages) - 1; i >= 0; i-- {
			m := s.messages[i]
			if m.IsOptimistic && isLocal(m) && m.Content == msg.Content && NormalizeID(m.SenderID) == sender {
				match = i
				break
			}
		}
	}
	if match >= 0 {
		s.messages = slices.Delete(s.messages, match, match+1)
	}
	s.messages = slices.Insert(s.messages, 0, msg)
	return true
}

func (s *MessageStream) belongsLocked(msg Message) bool {
	if msg.ConversationID != "" {
		return msg.ConversationID == s.conversationID
	}
	return ConversationID(NormalizeID(msg.SenderID), NormalizeID(msg.ReceiverID)) == s.conversationID
}

// Switch retargets the stream to the conversation with peerID, discarding
// the current list and any in-flight results, then loads page 1.
func (s *MessageStream) Switch(ctx context.Context, peerID string) error {
	s.mu.Lock()
	s.epoch++
	s.peerID = NormalizeID(peerID)
	s.conversationID = ConversationID(s.viewerID, s.peerID)
	s.messages = nil
	s.page = 0
	s.hasMore = true
	s.loadingOlder = false
	s.err = nil
	s.mu.Unlock()

	return s.LoadPage(ctx, 1, false)
}

func (s *MessageStream) indexOfLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func isLocal(m Message) bool {
	return strings.HasPrefix(m.ID, localIDPrefix)
}
