package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// Client -> server intent kinds, named after the websocket event types.
const (
	IntentPing                = "ping"
	IntentRegister            = "register"
	IntentAuth                = "auth"
	IntentToken               = "token"
	IntentJoin                = "join"
	IntentSendMessage         = "sendMessage"
	IntentSendPrivateMessage  = "sendPrivateMessage"
	IntentSendFriendRequest   = "sendFriendRequest"
	IntentAcceptFriendRequest = "acceptFriendRequest"
	IntentRejectFriendRequest = "rejectFriendRequest"
	IntentHistory             = "getHistory"
	IntentOnlineUsers         = "getOnlineUsers"
	IntentFriends             = "getFriends"
	IntentBye                 = "bye"
)

var ErrUnknownIntent = errors.New("unknown packet type")

type Intent struct {
	Kind      string
	Username  string
	Email     string
	Password  string
	Token     string
	Text      string
	Recipient string
	TempID    string
}

var linePacketKinds = map[string]string{
	"ping":    IntentPing,
	"reg":     IntentRegister,
	"auth":    IntentAuth,
	"token":   IntentToken,
	"join":    IntentJoin,
	"msg":     IntentSendMessage,
	"pmsg":    IntentSendPrivateMessage,
	"freq":    IntentSendFriendRequest,
	"facc":    IntentAcceptFriendRequest,
	"frej":    IntentRejectFriendRequest,
	"hist":    IntentHistory,
	"list":    IntentOnlineUsers,
	"friends": IntentFriends,
	"bye":     IntentBye,
}

// LineOp returns the short packet name used in ok|op and fail|op replies.
func LineOp(kind string) string {
	for op, k := range linePacketKinds {
		if k == kind {
			return op
		}
	}
	return kind
}

// IntentFromPacket maps a parsed line packet onto an Intent.
func IntentFromPacket(pkt *Packet) (Intent, error) {
	kind, ok := linePacketKinds[pkt.Type]
	if !ok {
		return Intent{}, ErrUnknownIntent
	}

	in := Intent{Kind: kind}
	switch kind {
	case IntentRegister:
		in.Username, in.Email, in.Password = pkt.Arg(0), pkt.Arg(1), pkt.Arg(2)
	case IntentAuth:
		in.Username, in.Password = pkt.Arg(0), pkt.Arg(1)
	case IntentToken:
		in.Token = pkt.Arg(0)
	case IntentJoin, IntentSendFriendRequest, IntentAcceptFriendRequest, IntentRejectFriendRequest:
		in.Username = pkt.Arg(0)
	case IntentSendMessage:
		in.Text, in.TempID = pkt.Arg(0), pkt.Arg(1)
	case IntentSendPrivateMessage:
		in.Recipient, in.TempID, in.Text = pkt.Arg(0), pkt.Arg(1), pkt.Arg(2)
	}
	return in, nil
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type intentData struct {
	Username  string `json:"username"`
	Text      string `json:"text"`
	Recipient string `json:"recipient"`
	TempID    string `json:"tempId"`
}

// DecodeIntent decodes a websocket frame {"type": ..., "data": ...}.
// data may be a bare string for join (username) and sendMessage (text).
func DecodeIntent(frame []byte) (Intent, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Intent{}, ErrInvalidPacket
	}

	switch env.Type {
	case IntentPing, IntentJoin, IntentSendMessage, IntentSendPrivateMessage,
		IntentSendFriendRequest, IntentAcceptFriendRequest, IntentRejectFriendRequest,
		IntentHistory, IntentOnlineUsers, IntentFriends, IntentBye:
	default:
		return Intent{}, ErrUnknownIntent
	}

	in := Intent{Kind: env.Type}
	raw := strings.TrimSpace(string(env.Data))
	if raw == "" || raw == "null" {
		return in, nil
	}

	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return Intent{}, ErrInvalidPacket
		}
		switch env.Type {
		case IntentSendMessage:
			in.Text = s
		default:
			in.Username = s
		}
		return in, nil
	}

	var d intentData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return Intent{}, ErrInvalidPacket
	}
	in.Username, in.Text, in.Recipient, in.TempID = d.Username, d.Text, d.Recipient, d.TempID
	return in, nil
}

// EncodeEvent marshals an event into a websocket frame.
func EncodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
