package gamenight

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Relation is the viewer's relationship to another user.
type Relation string

const (
	RelationSelf            Relation = "self"
	RelationFriend          Relation = "friend"
	RelationPendingSent     Relation = "pending-sent"
	RelationPendingReceived Relation = "pending-received"
	RelationNone            Relation = "none"
)

// Resolve derives the relation of viewerID to targetID. The checks run in a
// fixed priority order and the first match wins, so overlapping collections
// still yield exactly one answer.
func Resolve(viewerID, targetID string, friends map[string]struct{}, sent, received []FriendInvitation) Relation {
	viewerID, targetID = NormalizeID(viewerID), NormalizeID(targetID)
	if targetID == viewerID {
		return RelationSelf
	}
	if _, ok := friends[targetID]; ok {
		return RelationFriend
	}
	for _, inv := range sent {
		if inv.Status == InvitationPending && inv.To() == targetID {
			return RelationPendingSent
		}
	}
	for _, inv := range received {
		if inv.Status == InvitationPending && inv.From() == targetID {
			return RelationPendingReceived
		}
	}
	return RelationNone
}

// ============================================================================
// Snapshot
// ============================================================================

// Snapshot is one user's materialized relationship state. It is immutable
// once built and safe to share.
type Snapshot struct {
	UserID   string
	Friends  []string
	Sent     []FriendInvitation
	Received []FriendInvitation

	friendSet map[string]struct{}
}

// NewSnapshot normalizes ids and keeps only pending invitations that belong
// to userID in the given direction.
func NewSnapshot(userID string, friends []string, sent, received []FriendInvitation) *Snapshot {
	s := &Snapshot{
		UserID:    NormalizeID(userID),
		friendSet: make(map[string]struct{}, len(friends)),
	}
	for _, f := range friends {
		id := NormalizeID(f)
		if id == "" {
			continue
		}
		if _, dup := s.friendSet[id]; dup {
			continue
		}
		s.friendSet[id] = struct{}{}
		s.Friends = append(s.Friends, id)
	}
	for _, inv := range sent {
		if inv.Status == InvitationPending && inv.From() == s.UserID {
			s.Sent = append(s.Sent, inv)
		}
	}
	for _, inv := range received {
		if inv.Status == InvitationPending && inv.To() == s.UserID {
			s.Received = append(s.Received, inv)
		}
	}
	return s
}

// Status resolves the snapshot owner's relation to targetID.
func (s *Snapshot) Status(targetID string) Relation {
	return Resolve(s.UserID, targetID, s.friendSet, s.Sent, s.Received)
}

// IsFriend reports whether id is in the friend set.
func (s *Snapshot) IsFriend(id string) bool {
	_, ok := s.friendSet[NormalizeID(id)]
	return ok
}

// InvitationIDFor returns the pending invitation between the owner and
// otherUserID. Sent invitations are checked first.
func (s *Snapshot) InvitationIDFor(otherUserID string) (string, bool) {
	other := NormalizeID(otherUserID)
	for _, inv := range s.Sent {
		if inv.To() == other {
			return inv.ID, true
		}
	}
	for _, inv := range s.Received {
		if inv.From() == other {
			return inv.ID, true
		}
	}
	return "", false
}

// ============================================================================
// Relationships
// ============================================================================

// Relationships serves cached relationship snapshots per user.
type Relationships struct {
	store  RelationshipStore
	loader *Loader[*Snapshot]
	logger *slog.Logger
}

// NewRelationships creates the relationship domain over store.
func NewRelationships(store RelationshipStore, loader *Loader[*Snapshot], logger *slog.Logger) *Relationships {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relationships{store: store, loader: loader, logger: logger}
}

// RelationshipKey is the cache key of a user's relationship state.
func RelationshipKey(userID string) string {
	return "friend-state:" + NormalizeID(userID)
}

// State returns the user's snapshot, from cache when fresh.
func (r *Relationships) State(ctx context.Context, userID string) (*Snapshot, error) {
	return r.loader.Load(ctx, RelationshipKey(userID), r.fetcher(userID))
}

// Refresh force-reads the user's snapshot.
func (r *Relationships) Refresh(ctx context.Context, userID string) (*Snapshot, error) {
	return r.loader.Refresh(ctx, RelationshipKey(userID), r.fetcher(userID))
}

// Invalidate drops the user's cached snapshot without fetching.
func (r *Relationships) Invalidate(userID string) {
	r.loader.Invalidate(RelationshipKey(userID))
}

// Reload invalidates then force-reads the user's snapshot.
func (r *Relationships) Reload(ctx context.Context, userID string) (*Snapshot, error) {
	r.Invalidate(userID)
	return r.Refresh(ctx, userID)
}

// Status resolves viewerID's relation to targetID.
func (r *Relationships) Status(ctx context.Context, viewerID, targetID string) (Relation, error) {
	if NormalizeID(viewerID) == NormalizeID(targetID) {
		return RelationSelf, nil
	}
	snap, err := r.State(ctx, viewerID)
	if err != nil {
		return "", err
	}
	return snap.Status(targetID), nil
}

// InvitationIDFor returns the pending invitation id between viewerID and
// otherUserID, if any.
func (r *Relationships) InvitationIDFor(ctx context.Context, viewerID, otherUserID string) (string, bool, error) {
	snap, err := r.State(ctx, viewerID)
	if err != nil {
		return "", false, err
	}
	id, ok := snap.InvitationIDFor(otherUserID)
	return id, ok, nil
}

func (r *Relationships) fetcher(userID string) FetchFunc[*Snapshot] {
	userID = NormalizeID(userID)
	return func(ctx context.Context) (*Snapshot, error) {
		var (
			friends  []string
			sent     []FriendInvitation
			received []FriendInvitation
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			friends, err = r.store.Friends(gctx, userID)
			return err
		})
		g.Go(func() (err error) {
			sent, err = r.store.Invitations(gctx, userID, DirectionSent)
			return err
		})
		g.Go(func() (err error) {
			received, err = r.store.Invitations(gctx, userID, DirectionReceived)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("fetch relationships for %s: %w", userID, err)
		}
		return NewSnapshot(userID, friends, sent, received), nil
	}
}
