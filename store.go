package gamenight

import "context"

// RelationshipStore is the authoritative source of the friend graph.
type RelationshipStore interface {
	Friends(ctx context.Context, userID string) ([]string, error)
	Invitations(ctx context.Context, userID string, dir Direction) ([]FriendInvitation, error)
	SendInvitation(ctx context.Context, fromUserID, toUserID string) (*FriendInvitation, error)
	RespondInvitation(ctx context.Context, invitationID string, action InvitationAction, actingUserID string) (*FriendInvitation, error)
	CancelInvitation(ctx context.Context, invitationID, actingUserID string) error
	RemoveFriend(ctx context.Context, userID, friendID string) error
	Block(ctx context.Context, userID, blockedUserID string) error
}

// MessageStore is the authoritative source of conversation history.
// Messages returns a page newest first.
type MessageStore interface {
	Messages(ctx context.Context, conversationID string, opts PageOptions) ([]Message, error)
	SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (*Message, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
}

// RemoteStore serves both domains.
type RemoteStore interface {
	RelationshipStore
	MessageStore
}
