package server

import (
	"context"
	"runtime/debug"

	"chathub/models"
	"chathub/protocol"
)

// handleIntent runs one intent on the connection's reader goroutine, so the
// intents of a connection are handled in the order they arrived. It reports
// whether the connection stays open. A panic closes only this connection.
func (s *Server) handleIntent(c *conn, in protocol.Intent) (keep bool) {
	logger := c.logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("intent", in.Kind).Bytes("stack", debug.Stack()).Msg("handler panic")
			c.Close("internal error")
			keep = false
		}
	}()

	switch in.Kind {
	case protocol.IntentPing:
		c.Send(protocol.Event{Type: protocol.EventPong})
		return true
	case protocol.IntentBye:
		c.Send(protocol.Event{Type: protocol.EventDisconnected, Data: protocol.Disconnected{}})
		c.Close("bye")
		return false
	}

	if !c.limiter.Allow() {
		s.reject(c, in, models.ErrRateLimited)
		return true
	}

	ctx := logger.WithContext(context.Background())

	switch in.Kind {
	case protocol.IntentRegister:
		s.handleRegister(ctx, c, in)
		return true
	case protocol.IntentAuth:
		s.handleAuth(ctx, c, in)
		return true
	case protocol.IntentToken:
		s.handleToken(ctx, c, in)
		return true
	}

	if !c.authenticated() {
		s.reject(c, in, models.ErrUnauthenticated)
		return true
	}
	o := c.origin()

	switch in.Kind {
	case protocol.IntentJoin:
		if err := s.router.Join(ctx, o, in.Username); err != nil {
			s.reject(c, in, err)
		}
	case protocol.IntentSendMessage:
		s.router.SendGlobal(ctx, o, in.Text, in.TempID)
	case protocol.IntentSendPrivateMessage:
		s.router.SendPrivate(ctx, o, in.Recipient, in.Text, in.TempID)
	case protocol.IntentSendFriendRequest:
		s.router.SendFriendRequest(ctx, o, in.Username)
	case protocol.IntentAcceptFriendRequest:
		s.router.AcceptFriendRequest(ctx, o, in.Username)
	case protocol.IntentRejectFriendRequest:
		s.router.RejectFriendRequest(ctx, o, in.Username)
	case protocol.IntentHistory:
		msgs, err := s.router.History(ctx, o.Identity, 0)
		if err != nil {
			s.reject(c, in, err)
			break
		}
		c.Send(protocol.Event{Type: protocol.EventHistory, Data: protocol.History{Messages: msgs}})
	case protocol.IntentOnlineUsers:
		s.router.Roster(o)
	case protocol.IntentFriends:
		names, err := s.router.Friends(ctx, o.Identity)
		if err != nil {
			s.reject(c, in, err)
			break
		}
		c.Send(protocol.Event{Type: protocol.EventFriends, Data: protocol.UserList{Users: names}})
	default:
		s.reject(c, in, models.Invalid("Unknown packet type"))
	}
	return !c.closed()
}

func (s *Server) handleRegister(ctx context.Context, c *conn, in protocol.Intent) {
	if c.authenticated() {
		c.Send(protocol.NewOK(in.Kind))
		return
	}

	user, _, err := s.auth.Register(ctx, in.Username, in.Email, in.Password)
	if err != nil {
		s.reject(c, in, err)
		return
	}

	c.setIdentity(models.Identity{UserID: user.ID, Username: user.Username})
	c.Send(protocol.NewOK(in.Kind))
}

func (s *Server) handleAuth(ctx context.Context, c *conn, in protocol.Intent) {
	if c.authenticated() {
		c.Send(protocol.NewOK(in.Kind))
		return
	}

	user, _, err := s.auth.Login(ctx, in.Username, in.Password)
	if err != nil {
		s.reject(c, in, err)
		return
	}

	c.setIdentity(models.Identity{UserID: user.ID, Username: user.Username})
	c.log.Info().Str("user", user.Username).Msg("authenticated")
	c.Send(protocol.NewOK(in.Kind))
}

func (s *Server) handleToken(ctx context.Context, c *conn, in protocol.Intent) {
	if c.authenticated() {
		c.Send(protocol.NewOK(in.Kind))
		return
	}

	id, err := s.auth.CurrentUser(ctx, in.Token)
	if err != nil {
		s.reject(c, in, err)
		return
	}

	c.setIdentity(id)
	c.Send(protocol.NewOK(in.Kind))
}

// reject answers an intent the router never saw. Send intents get a
// messageError so the client can settle its pending message.
func (s *Server) reject(c *conn, in protocol.Intent, err error) {
	code := models.CodeOf(err)
	if code == models.CodeInternal {
		c.log.Error().Err(err).Str("intent", in.Kind).Msg("intent failed")
	}

	switch in.Kind {
	case protocol.IntentSendMessage, protocol.IntentSendPrivateMessage:
		c.Send(protocol.Event{Type: protocol.EventMessageError, Data: protocol.MessageError{
			Code:    code,
			Message: models.MessageOf(err),
			TempID:  in.TempID,
		}})
	default:
		c.Send(protocol.NewError(in.Kind, code, models.MessageOf(err)))
	}
}
