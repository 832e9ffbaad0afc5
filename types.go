package gamenight

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// Error codes carried by APIError.
const (
	CodeInvalidInput   = "INVALID_INPUT"
	CodeSelfInvite     = "SELF_INVITE"
	CodeAlreadyFriends = "ALREADY_FRIENDS"
	CodeAlreadyPending = "ALREADY_PENDING"
	CodeNotFound       = "NOT_FOUND"
	CodeForbidden      = "FORBIDDEN"
	CodeInvalidState   = "INVALID_STATE"
	CodeNetwork        = "NETWORK"
)

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

func newAPIError(code, format string, args ...any) *APIError {
	return &APIError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Envelope is the generic JSON response of the remote store.
type Envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Envelope) Decode(v any) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Identity
// ============================================================================

// UserRef is a user id that may arrive either as a raw value or as an
// object carrying an id field ({"id": ...} or {"_id": ...}).
type UserRef string

func (u *UserRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*u = ""
		return nil
	}
	// Numbers stay json.Number so large numeric ids keep every digit.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*u = UserRef(NormalizeID(raw))
	return nil
}

// NormalizeID returns the string form of an id. Composite values contribute
// their "id" (or "_id") field.
func NormalizeID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(id)
	case UserRef:
		return strings.TrimSpace(string(id))
	case fmt.Stringer:
		return strings.TrimSpace(id.String())
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case json.Number:
		return id.String()
	case map[string]any:
		if inner, ok := id["id"]; ok {
			return NormalizeID(inner)
		}
		if inner, ok := id["_id"]; ok {
			return NormalizeID(inner)
		}
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(id))
	}
}

// ============================================================================
// Relationship Types
// ============================================================================

// InvitationStatus is the lifecycle state of a friend invitation.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationDeclined  InvitationStatus = "declined"
	InvitationCancelled InvitationStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted.
func (s InvitationStatus) Terminal() bool {
	return s == InvitationAccepted || s == InvitationDeclined || s == InvitationCancelled
}

// InvitationAction is the recipient's answer to an invitation.
type InvitationAction string

const (
	ActionAccept  InvitationAction = "accept"
	ActionDecline InvitationAction = "decline"
)

// Direction filters invitations by the viewer's role.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// FriendInvitation is a directed friend request.
type FriendInvitation struct {
	ID         string           `json:"id"`
	FromUserID UserRef          `json:"fromUserId"`
	ToUserID   UserRef          `json:"toUserId"`
	Status     InvitationStatus `json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// From returns the normalized sender id.
func (i FriendInvitation) From() string { return NormalizeID(i.FromUserID) }

// To returns the normalized recipient id.
func (i FriendInvitation) To() string { return NormalizeID(i.ToUserID) }

// MutationResult is the outcome of an invitation or friendship mutation.
type MutationResult struct {
	Success    bool              `json:"success"`
	Invitation *FriendInvitation `json:"data,omitempty"`
	Error      *APIError         `json:"error,omitempty"`
}

// ============================================================================
// Message Types
// ============================================================================

// Message is one entry of a two-party conversation. Optimistic entries carry
// a local placeholder id until the server confirms them.
type Message struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"clientId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	SenderID       UserRef   `json:"senderId"`
	ReceiverID     UserRef   `json:"receiverId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	IsOptimistic   bool      `json:"isOptimistic,omitempty"`
	Error          string    `json:"error,omitempty"`
	RetryCount     int       `json:"retryCount,omitempty"`
}

// Failed reports whether the last send attempt for this entry failed.
func (m Message) Failed() bool { return m.Error != "" }

// SendMessageRequest is the outgoing payload of a message send.
type SendMessageRequest struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	ClientID   string `json:"clientId,omitempty"`
}

// PageOptions selects a page of conversation history. Page is 1-based.
type PageOptions struct {
	Page  int
	Limit int
}
