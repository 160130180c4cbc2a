package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"chathub/metrics"
	"chathub/models"
	"chathub/protocol"
)

const (
	OpSendFriendRequest   = protocol.IntentSendFriendRequest
	OpAcceptFriendRequest = protocol.IntentAcceptFriendRequest
	OpRejectFriendRequest = protocol.IntentRejectFriendRequest
)

// PendingRequest is a pending friend request as shown to its recipient.
type PendingRequest struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Timestamp time.Time `json:"timestamp"`
}

// SendFriendRequest asks username to become the origin's friend. The target
// is notified if online and the origin gets friendRequestSent.
func (r *Router) SendFriendRequest(ctx context.Context, o Origin, username string) error {
	target, err := r.resolveUser(ctx, username)
	if err != nil {
		return r.replyOpError(ctx, o, OpSendFriendRequest, err)
	}

	req, err := bounded(ctx, r, "create_request", func(ctx context.Context) (*models.FriendRequest, error) {
		return r.gate.SendRequest(ctx, o.UserID, target.ID)
	})
	if err != nil {
		return r.replyOpError(ctx, o, OpSendFriendRequest, err)
	}

	r.reg.SendTo(target.Username, protocol.Event{Type: protocol.EventFriendRequest, Data: protocol.FriendRequestNotice{
		From:      o.Username,
		Timestamp: req.CreatedAt,
	}})
	o.Handle.Send(protocol.Event{Type: protocol.EventFriendRequestSent, Data: protocol.FriendRequestSent{
		To:        target.Username,
		Timestamp: req.CreatedAt,
	}})

	r.rec.FriendRequest(metrics.OutcomeSent)
	zerolog.Ctx(ctx).Debug().Str("from", o.Username).Str("to", target.Username).Msg("friend request sent")
	return nil
}

// AcceptFriendRequest accepts the pending request username -> origin. Both
// sides get a system line, the requester gets friendRequestAccepted, and
// every online session learns about the new friendship.
func (r *Router) AcceptFriendRequest(ctx context.Context, o Origin, username string) error {
	requester, err := r.resolveRequester(ctx, username)
	if err != nil {
		return r.replyOpError(ctx, o, OpAcceptFriendRequest, err)
	}

	req, err := bounded(ctx, r, "resolve_request", func(ctx context.Context) (*models.FriendRequest, error) {
		return r.gate.Accept(ctx, requester.ID, o.UserID)
	})
	if err != nil {
		return r.replyOpError(ctx, o, OpAcceptFriendRequest, err)
	}

	at := req.HandledAt
	r.reg.SendTo(requester.Username, protocol.Event{Type: protocol.EventFriendRequestAccepted, Data: protocol.FriendRequestAnswer{
		By:        o.Username,
		Timestamp: at,
	}})
	r.reg.SendTo(requester.Username, protocol.NewSystemMessage(fmt.Sprintf("%s accepted your friend request!", o.Username), at))
	o.Handle.Send(protocol.NewSystemMessage(fmt.Sprintf("You accepted %s's friend request!", requester.Username), at))

	r.reg.Broadcast(protocol.Event{Type: protocol.EventNewFriendship, Data: protocol.NewFriendship{
		Users:     []string{o.Username, requester.Username},
		Timestamp: at,
	}})

	r.rec.FriendRequest(metrics.OutcomeAccepted)
	r.rec.MessageSent(metrics.KindSystem)
	return nil
}

// RejectFriendRequest rejects the pending request username -> origin. The
// requester is told if online; the origin gets an ok.
func (r *Router) RejectFriendRequest(ctx context.Context, o Origin, username string) error {
	requester, err := r.resolveRequester(ctx, username)
	if err != nil {
		return r.replyOpError(ctx, o, OpRejectFriendRequest, err)
	}

	req, err := bounded(ctx, r, "resolve_request", func(ctx context.Context) (*models.FriendRequest, error) {
		return r.gate.Reject(ctx, requester.ID, o.UserID)
	})
	if err != nil {
		return r.replyOpError(ctx, o, OpRejectFriendRequest, err)
	}

	r.reg.SendTo(requester.Username, protocol.Event{Type: protocol.EventFriendRequestRejected, Data: protocol.FriendRequestAnswer{
		By:        o.Username,
		Timestamp: req.HandledAt,
	}})
	o.Handle.Send(protocol.NewOK(OpRejectFriendRequest))

	r.rec.FriendRequest(metrics.OutcomeRejected)
	return nil
}

// Friends returns the usernames of id's friends, sorted.
func (r *Router) Friends(ctx context.Context, id models.Identity) ([]string, error) {
	ids, err := bounded(ctx, r, "friends", func(ctx context.Context) ([]string, error) {
		return r.gate.Friends(ctx, id.UserID)
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(ids))
	for _, fid := range ids {
		u, err := r.findByID(ctx, fid)
		if err != nil {
			return nil, err
		}
		if u != nil {
			names = append(names, u.Username)
		}
	}
	sort.Strings(names)
	return names, nil
}

// PendingRequests lists requests waiting for id to answer, oldest first.
func (r *Router) PendingRequests(ctx context.Context, id models.Identity) ([]PendingRequest, error) {
	reqs, err := bounded(ctx, r, "pending_requests", func(ctx context.Context) ([]models.FriendRequest, error) {
		return r.gate.Pending(ctx, id.UserID)
	})
	if err != nil {
		return nil, err
	}

	out := make([]PendingRequest, 0, len(reqs))
	for _, req := range reqs {
		u, err := r.findByID(ctx, req.FromUserID)
		if err != nil {
			return nil, err
		}
		if u == nil {
			continue
		}
		out = append(out, PendingRequest{ID: req.ID, From: u.Username, Timestamp: req.CreatedAt})
	}
	return out, nil
}

func (r *Router) resolveUser(ctx context.Context, username string) (*models.User, error) {
	if username == "" {
		return nil, models.Invalid("username is required")
	}
	u, err := r.findByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, models.ErrUserNotFound
	}
	return u, nil
}

// resolveRequester is resolveUser for the answering side: no request can be
// pending from a user that does not exist.
func (r *Router) resolveRequester(ctx context.Context, username string) (*models.User, error) {
	u, err := r.resolveUser(ctx, username)
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, models.ErrRequestNotFound
	}
	return u, err
}

func (r *Router) findByID(ctx context.Context, id string) (*models.User, error) {
	return bounded(ctx, r, "find_user", func(ctx context.Context) (*models.User, error) {
		return r.dir.FindByID(ctx, id)
	})
}

func (r *Router) replyOpError(ctx context.Context, o Origin, op string, err error) error {
	code := models.CodeOf(err)
	if code == models.CodeInternal {
		zerolog.Ctx(ctx).Error().Err(err).Str("op", op).Str("user", o.Username).Msg("friend intent failed")
	}
	o.Handle.Send(protocol.NewError(op, code, models.MessageOf(err)))
	return err
}
