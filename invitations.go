package gamenight

import (
	"context"
	"errors"
	"log/slog"
)

// Invitations executes friend invitation and friendship mutations against the
// remote store, then reconciles the relationship cache by refetching.
//
// Nothing is applied locally before the store confirms: the derived status
// cross-references three collections and the other party may have acted
// concurrently.
type Invitations struct {
	store  RelationshipStore
	rel    *Relationships
	logger *slog.Logger
}

// NewInvitations creates an invitation manager.
func NewInvitations(store RelationshipStore, rel *Relationships, logger *slog.Logger) *Invitations {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invitations{store: store, rel: rel, logger: logger}
}

// Send invites toUserID on behalf of fromUserID.
func (m *Invitations) Send(ctx context.Context, fromUserID, toUserID string) MutationResult {
	from, to := NormalizeID(fromUserID), NormalizeID(toUserID)
	if from == "" || to == "" {
		return failed(newAPIError(CodeInvalidInput, "user ids are required"))
	}
	if from == to {
		return failed(newAPIError(CodeSelfInvite, "cannot invite self"))
	}

	snap, err := m.rel.State(ctx, from)
	if err != nil {
		return failed(toAPIError(err))
	}
	switch snap.Status(to) {
	case RelationFriend:
		return failed(newAPIError(CodeAlreadyFriends, "already friends"))
	case RelationPendingSent, RelationPendingReceived:
		return failed(newAPIError(CodeAlreadyPending, "invitation already pending"))
	}

	inv, err := m.store.SendInvitation(ctx, from, to)
	if err != nil {
		return failed(toAPIError(err))
	}
	m.reconcile(ctx, []string{from}, []string{to})
	return MutationResult{Success: true, Invitation: inv}
}

// Respond accepts or declines invitationID as actingUserID.
func (m *Invitations) Respond(ctx context.Context, invitationID string, action InvitationAction, actingUserID string) MutationResult {
	if invitationID == "" || NormalizeID(actingUserID) == "" {
		return failed(newAPIError(CodeInvalidInput, "invitation id and acting user are required"))
	}
	if action != ActionAccept && action != ActionDecline {
		return failed(newAPIError(CodeInvalidInput, "unknown action %q", action))
	}

	inv, err := m.store.RespondInvitation(ctx, invitationID, action, NormalizeID(actingUserID))
	if err != nil {
		return failed(toAPIError(err))
	}
	parties := []string{NormalizeID(actingUserID)}
	if inv != nil {
		parties = appendUnique(parties, inv.From(), inv.To())
	}
	m.reconcile(ctx, parties, nil)
	return MutationResult{Success: true, Invitation: inv}
}

// Cancel withdraws a pending invitation sent by actingUserID.
func (m *Invitations) Cancel(ctx context.Context, invitationID, actingUserID string) MutationResult {
	actor := NormalizeID(actingUserID)
	if invitationID == "" || actor == "" {
		return failed(newAPIError(CodeInvalidInput, "invitation id and acting user are required"))
	}

	// The recipient is only known from the actor's snapshot; a miss just
	// means we cannot invalidate their side locally.
	var recipient string
	if snap, err := m.rel.State(ctx, actor); err == nil {
		for _, inv := range snap.Sent {
			if inv.ID == invitationID {
				recipient = inv.To()
				break
			}
		}
	}

	if err := m.store.CancelInvitation(ctx, invitationID, actor); err != nil {
		return failed(toAPIError(err))
	}
	var others []string
	if recipient != "" {
		others = append(others, recipient)
	}
	m.reconcile(ctx, []string{actor}, others)
	return MutationResult{Success: true}
}

// RemoveFriend ends the friendship between userID and friendID on both sides.
func (m *Invitations) RemoveFriend(ctx context.Context, userID, friendID string) MutationResult {
	user, friend := NormalizeID(userID), NormalizeID(friendID)
	if user == "" || friend == "" {
		return failed(newAPIError(CodeInvalidInput, "user ids are required"))
	}
	if err := m.store.RemoveFriend(ctx, user, friend); err != nil {
		return failed(toAPIError(err))
	}
	m.reconcile(ctx, []string{user}, []string{friend})
	return MutationResult{Success: true}
}

// Block blocks blockedUserID for userID, dropping any friendship between them.
func (m *Invitations) Block(ctx context.Context, userID, blockedUserID string) MutationResult {
	user, blocked := NormalizeID(userID), NormalizeID(blockedUserID)
	if user == "" || blocked == "" {
		return failed(newAPIError(CodeInvalidInput, "user ids are required"))
	}
	if user == blocked {
		return failed(newAPIError(CodeInvalidInput, "cannot block self"))
	}
	if err := m.store.Block(ctx, user, blocked); err != nil {
		return failed(toAPIError(err))
	}
	m.reconcile(ctx, []string{user}, []string{blocked})
	return MutationResult{Success: true}
}

// reconcile force-refetches refetch and drops the cached state of
// invalidate. A refetch failure does not undo a confirmed mutation.
func (m *Invitations) reconcile(ctx context.Context, refetch, invalidate []string) {
	for _, id := range invalidate {
		m.rel.Invalidate(id)
	}
	for _, id := range refetch {
		if _, err := m.rel.Reload(ctx, id); err != nil {
			m.logger.Warn("refetch after mutation failed", "user_id", id, "error", err)
		}
	}
}

func failed(err *APIError) MutationResult {
	return MutationResult{Success: false, Error: err}
}

func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{Code: CodeNetwork, Message: err.Error()}
}

func appendUnique(ids []string, more ...string) []string {
	for _, id := range more {
		if id == "" {
			continue
		}
		dup := false
		for _, have := range ids {
			if have == id {
				dup = true
				break
			}
		}
		if !dup {
			ids = append(ids, id)
		}
	}
	return ids
}
