package protocol

import "time"

// Server -> client event names. The websocket transport uses them verbatim as
// the envelope type; the line transport maps them to short packet types.
const (
	EventMessage               = "message"
	EventPrivateMessage        = "privateMessage"
	EventMessageSent           = "messageSent"
	EventMessageError          = "messageError"
	EventUserJoined            = "userJoined"
	EventUserLeft              = "userLeft"
	EventOnlineUsers           = "onlineUsers"
	EventFriendRequest         = "friendRequest"
	EventFriendRequestSent     = "friendRequestSent"
	EventFriendRequestAccepted = "friendRequestAccepted"
	EventFriendRequestRejected = "friendRequestRejected"
	EventNewFriendship         = "newFriendship"
	EventFriends               = "friends"
	EventHistory               = "history"
	EventError                 = "error"
	EventOK                    = "ok"
	EventDisconnected          = "disconnected"
	EventPong                  = "pong"
)

const StatusDelivered = "delivered"

// SystemSender is the display name used for server generated chat lines.
const SystemSender = "System"

// TimeLayout is the wire format for timestamps (always UTC).
const TimeLayout = "2006-01-02T15:04:05.000Z"

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	Username  string    `json:"username"`
	Recipient string    `json:"recipient,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsPrivate bool      `json:"isPrivate"`
	IsOwn     bool      `json:"isOwn,omitempty"`
	TempID    string    `json:"tempId,omitempty"`
}

type MessageSent struct {
	ID        string    `json:"id"`
	TempID    string    `json:"tempId,omitempty"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TempID  string `json:"tempId,omitempty"`
}

type OpError struct {
	Op      string `json:"op"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type OpOK struct {
	Op string `json:"op"`
}

type FriendRequestNotice struct {
	From      string    `json:"from"`
	Timestamp time.Time `json:"timestamp"`
}

type FriendRequestSent struct {
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

type FriendRequestAnswer struct {
	By        string    `json:"by"`
	Timestamp time.Time `json:"timestamp"`
}

type NewFriendship struct {
	Users     []string  `json:"users"`
	Timestamp time.Time `json:"timestamp"`
}

type UserList struct {
	Users []string `json:"users"`
}

type History struct {
	Messages []ChatMessage `json:"messages"`
}

type Disconnected struct {
	Reason  string `json:"reason"`
	Details string `json:"details,omitempty"`
}

func NewError(op, code, message string) Event {
	return Event{Type: EventError, Data: OpError{Op: op, Code: code, Message: message}}
}

func NewOK(op string) Event {
	return Event{Type: EventOK, Data: OpOK{Op: op}}
}

func NewSystemMessage(text string, at time.Time) Event {
	return Event{Type: EventMessage, Data: ChatMessage{
		Username:  SystemSender,
		Text:      text,
		Timestamp: at,
	}}
}
