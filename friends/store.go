package friends

import (
	"context"
	"time"

	"chathub/models"
)

// Store persists friend requests and friendship edges. Implementations must
// make CreateRequest and Resolve atomic: of two concurrent calls for the same
// pair, in either direction, exactly one succeeds.
type Store interface {
	// CreateRequest inserts a pending request. In the same critical section
	// it returns ErrAlreadyFriends when the pair are friends, and
	// ErrAlreadyPending when a non-rejected request exists for the ordered
	// pair or a pending one exists in the opposite direction.
	CreateRequest(ctx context.Context, req *models.FriendRequest) error

	// Resolve moves the pending request fromID -> toID to status. Accepting
	// also creates both friendship edges in the same transaction. It returns
	// ErrRequestNotFound when no pending request exists.
	Resolve(ctx context.Context, fromID, toID string, status models.RequestStatus, at time.Time) (*models.FriendRequest, error)

	AreFriends(ctx context.Context, a, b string) (bool, error)

	// Friends lists the friend user IDs of userID.
	Friends(ctx context.Context, userID string) ([]string, error)

	// PendingFor lists pending requests addressed to userID, oldest first.
	PendingFor(ctx context.Context, userID string) ([]models.FriendRequest, error)
}
