// Package chat routes message and friend intents between sessions. It owns no
// state of its own: presence lives in the registry, relationships in the
// friend gate, and messages in the log.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"chathub/friends"
	"chathub/metrics"
	"chathub/models"
	"chathub/protocol"
	"chathub/registry"
)

// Directory resolves usernames and ids to users. Both lookups return nil
// when the user does not exist.
type Directory interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type MessageLog interface {
	Append(ctx context.Context, msg *models.Message) (string, error)
	Query(ctx context.Context, filter models.MessageFilter) ([]models.Message, error)
}

type Config struct {
	// CallTimeout bounds every directory, log and friend store call.
	CallTimeout       time.Duration
	RequireFriendship bool
	MaxMessageLen     int
}

// Origin is the authenticated connection an intent arrived on. Replies go to
// Handle directly, so a session that has not joined still gets them.
type Origin struct {
	models.Identity
	Handle registry.Handle
}

type Router struct {
	dir  Directory
	log  MessageLog
	gate *friends.Gate
	reg  *registry.Registry
	rec  metrics.Recorder
	cfg  Config
	now  func() time.Time
}

func NewRouter(dir Directory, log MessageLog, gate *friends.Gate, reg *registry.Registry, rec metrics.Recorder, cfg Config) *Router {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Router{
		dir:  dir,
		log:  log,
		gate: gate,
		reg:  reg,
		rec:  rec,
		cfg:  cfg,
		now:  time.Now,
	}
}

// Join binds the origin's username to its handle and sends it the roster.
// A requested name other than the authenticated one is refused.
func (r *Router) Join(ctx context.Context, o Origin, requested string) error {
	if requested != "" && requested != o.Username {
		return models.ErrUnauthenticated
	}

	prev, err := r.reg.Register(o.Username, o.Handle)
	if err != nil {
		return err
	}
	if prev != nil {
		zerolog.Ctx(ctx).Info().Str("user", o.Username).Str("previous", prev.ID()).Msg("session replaced")
	}

	r.reg.SendRoster(o.Username)
	return nil
}

// Leave unbinds the origin if it still owns its username.
func (r *Router) Leave(o Origin) bool {
	if o.Username == "" {
		return false
	}
	return r.reg.Release(o.Username, o.Handle)
}

// Roster sends the online list to the origin.
func (r *Router) Roster(o Origin) {
	o.Handle.Send(protocol.Event{
		Type: protocol.EventOnlineUsers,
		Data: protocol.UserList{Users: r.reg.ListOnline()},
	})
}

// SendGlobal persists text as a global message and broadcasts it to every
// online session, the sender included. With a tempID the sender also gets a
// messageSent acknowledgement.
func (r *Router) SendGlobal(ctx context.Context, o Origin, text, tempID string) (*models.Message, error) {
	msg, err := r.sendGlobal(ctx, o, text)
	if err != nil {
		r.replySendError(ctx, o, err, tempID)
		return nil, err
	}

	r.reg.Broadcast(protocol.Event{Type: protocol.EventMessage, Data: protocol.ChatMessage{
		ID:        msg.ID,
		Username:  o.Username,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
	}})
	if tempID != "" {
		o.Handle.Send(sentEvent(msg, tempID, r.now()))
	}
	r.rec.MessageSent(metrics.KindGlobal)
	return msg, nil
}

func (r *Router) sendGlobal(ctx context.Context, o Origin, text string) (*models.Message, error) {
	text, err := r.cleanText(text)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		SenderID:  o.UserID,
		Text:      text,
		Timestamp: r.now().UTC(),
	}
	if _, err := r.append(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// SendPrivate persists a private message and delivers it to the recipient if
// online. The sender always receives its own copy tagged with tempID followed
// by a delivered acknowledgement; any failure is reported as messageError
// carrying tempID and nothing is persisted.
func (r *Router) SendPrivate(ctx context.Context, o Origin, recipient, text, tempID string) (*models.Message, error) {
	msg, err := r.sendPrivate(ctx, o, recipient, text)
	if err != nil {
		r.replySendError(ctx, o, err, tempID)
		return nil, err
	}

	live := protocol.ChatMessage{
		ID:        msg.ID,
		Username:  o.Username,
		Recipient: msg.RecipientName,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
		IsPrivate: true,
	}
	if msg.RecipientName != o.Username {
		r.reg.SendTo(msg.RecipientName, protocol.Event{Type: protocol.EventPrivateMessage, Data: live})
	}

	own := live
	own.IsOwn = true
	own.TempID = tempID
	o.Handle.Send(protocol.Event{Type: protocol.EventPrivateMessage, Data: own})
	o.Handle.Send(sentEvent(msg, tempID, r.now()))

	r.rec.MessageSent(metrics.KindPrivate)
	return msg, nil
}

func (r *Router) sendPrivate(ctx context.Context, o Origin, recipient, text string) (*models.Message, error) {
	text, err := r.cleanText(text)
	if err != nil {
		return nil, err
	}
	if recipient == "" {
		return nil, models.ErrRecipientNotFound
	}

	to, err := r.findByUsername(ctx, recipient)
	if err != nil {
		return nil, err
	}
	if to == nil {
		return nil, models.ErrRecipientNotFound
	}

	from, err := r.findByUsername(ctx, o.Username)
	if err != nil {
		return nil, err
	}
	if from == nil {
		return nil, models.ErrSenderNotFound
	}

	if r.cfg.RequireFriendship {
		ok, err := bounded(ctx, r, "are_friends", func(ctx context.Context) (bool, error) {
			return r.gate.AreFriends(ctx, from.ID, to.ID)
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, models.ErrNotFriends
		}
	}

	msg := &models.Message{
		SenderID:      from.ID,
		RecipientID:   to.ID,
		Text:          text,
		IsPrivate:     true,
		Timestamp:     r.now().UTC(),
		SenderName:    from.Username,
		RecipientName: to.Username,
	}
	if _, err := r.append(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *Router) replySendError(ctx context.Context, o Origin, err error, tempID string) {
	code, message := sendFailure(err)
	if code == models.CodeSendFailed {
		zerolog.Ctx(ctx).Error().Err(err).Str("user", o.Username).Msg("send failed")
	}
	r.rec.SendError(code)
	o.Handle.Send(protocol.Event{Type: protocol.EventMessageError, Data: protocol.MessageError{
		Code:    code,
		Message: message,
		TempID:  tempID,
	}})
}

// sendFailure maps err to the code reported to the sender. Anything outside
// the taxonomy is a persistence or lookup failure.
func sendFailure(err error) (string, string) {
	var e *models.Error
	if errors.As(err, &e) && e.Code != models.CodeInternal {
		return e.Code, e.Message
	}
	return models.CodeSendFailed, models.ErrSendFailed.Message
}

func sentEvent(msg *models.Message, tempID string, at time.Time) protocol.Event {
	return protocol.Event{Type: protocol.EventMessageSent, Data: protocol.MessageSent{
		ID:        msg.ID,
		TempID:    tempID,
		Status:    protocol.StatusDelivered,
		Timestamp: at.UTC(),
	}}
}

// cleanText trims surrounding space and enforces the length limit. The text
// is otherwise stored and delivered exactly as sent.
func (r *Router) cleanText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", models.Invalid("message text is empty")
	}
	if r.cfg.MaxMessageLen > 0 && utf8.RuneCountInString(text) > r.cfg.MaxMessageLen {
		return "", models.Invalid(fmt.Sprintf("message longer than %d characters", r.cfg.MaxMessageLen))
	}
	return text, nil
}

func (r *Router) append(ctx context.Context, msg *models.Message) (string, error) {
	return bounded(ctx, r, "append", func(ctx context.Context) (string, error) {
		return r.log.Append(ctx, msg)
	})
}

func (r *Router) findByUsername(ctx context.Context, username string) (*models.User, error) {
	return bounded(ctx, r, "find_user", func(ctx context.Context) (*models.User, error) {
		return r.dir.FindByUsername(ctx, username)
	})
}

type result[T any] struct {
	v   T
	err error
}

// bounded runs a collaborator call detached from the caller's cancellation
// and gives up after CallTimeout. A call that outlives the timeout keeps
// running; its result is discarded.
func bounded[T any](ctx context.Context, r *Router, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{v, err}
	}()

	var res result[T]
	select {
	case res = <-done:
	case <-ctx.Done():
		select {
		case res = <-done:
		default:
			res.err = fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	r.rec.StoreLatency(op, time.Since(start))
	return res.v, res.err
}
