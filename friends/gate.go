// Package friends implements the friend-request handshake: a pending request
// is accepted or rejected exactly once, and acceptance creates a symmetric
// friendship.
package friends

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chathub/models"
)

type Gate struct {
	store Store
	now   func() time.Time
}

func NewGate(store Store) *Gate {
	return &Gate{store: store, now: time.Now}
}

// SendRequest creates a pending request from -> to.
// A pending request in the opposite direction also counts as AlreadyPending:
// the recipient is expected to accept it instead. The store checks and
// inserts atomically, so two users asking each other at once get one request.
func (g *Gate) SendRequest(ctx context.Context, fromID, toID string) (*models.FriendRequest, error) {
	if fromID == toID {
		return nil, models.ErrSelfRequest
	}

	req := &models.FriendRequest{
		ID:         uuid.NewString(),
		FromUserID: fromID,
		ToUserID:   toID,
		Status:     models.RequestPending,
		CreatedAt:  g.now().UTC(),
	}
	if err := g.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

// Accept resolves the pending request fromID -> toID. A second accept of the
// same request returns ErrRequestNotFound.
func (g *Gate) Accept(ctx context.Context, fromID, toID string) (*models.FriendRequest, error) {
	return g.store.Resolve(ctx, fromID, toID, models.RequestAccepted, g.now().UTC())
}

// Reject resolves the pending request without creating a friendship. The
// record is kept; a later SendRequest creates a new one.
func (g *Gate) Reject(ctx context.Context, fromID, toID string) (*models.FriendRequest, error) {
	return g.store.Resolve(ctx, fromID, toID, models.RequestRejected, g.now().UTC())
}

func (g *Gate) AreFriends(ctx context.Context, a, b string) (bool, error) {
	if a == b {
		return false, nil
	}
	return g.store.AreFriends(ctx, a, b)
}

func (g *Gate) Friends(ctx context.Context, userID string) ([]string, error) {
	return g.store.Friends(ctx, userID)
}

func (g *Gate) Pending(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	return g.store.PendingFor(ctx, userID)
}
