package protocol

import (
	"strconv"
	"strings"
	"time"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// rawList builds TYPE|a,b,c[|extra...]; the list field is escaped per item so
// commas inside names survive.
func rawList(pktType string, items []string, extra ...string) string {
	var b strings.Builder
	b.WriteString(Escape(pktType))
	b.WriteByte('|')
	b.WriteString(FormatList(items))
	for _, e := range extra {
		b.WriteByte('|')
		b.WriteString(Escape(e))
	}
	b.WriteByte('\n')
	return b.String()
}

// FormatLine renders an event for the line transport. History renders as
// several hmsg lines terminated by hend|count.
func FormatLine(ev Event) string {
	switch d := ev.Data.(type) {
	case ChatMessage:
		if ev.Type == EventPrivateMessage {
			return FormatPacket("pmsg", d.ID, d.Username, d.Recipient, formatTime(d.Timestamp),
				boolField(d.IsOwn), d.TempID, d.Text)
		}
		return FormatPacket("message", d.ID, d.Username, formatTime(d.Timestamp), d.Text)
	case MessageSent:
		return FormatPacket("sent", d.ID, d.TempID, d.Status, formatTime(d.Timestamp))
	case MessageError:
		return FormatPacket("merr", d.Code, d.TempID, d.Message)
	case OpError:
		return FormatPacket("fail", LineOp(d.Op), d.Code, d.Message)
	case OpOK:
		return FormatPacket("ok", LineOp(d.Op))
	case FriendRequestNotice:
		return FormatPacket("freq", d.From, formatTime(d.Timestamp))
	case FriendRequestSent:
		return FormatPacket("freqsent", d.To, formatTime(d.Timestamp))
	case FriendRequestAnswer:
		if ev.Type == EventFriendRequestRejected {
			return FormatPacket("frej", d.By, formatTime(d.Timestamp))
		}
		return FormatPacket("facc", d.By, formatTime(d.Timestamp))
	case NewFriendship:
		return rawList("fnew", d.Users, formatTime(d.Timestamp))
	case UserList:
		if ev.Type == EventFriends {
			return rawList("friends", d.Users)
		}
		return rawList("roster", d.Users)
	case History:
		var b strings.Builder
		for _, m := range d.Messages {
			b.WriteString(FormatPacket("hmsg", m.ID, m.Username, m.Recipient,
				boolField(m.IsPrivate), formatTime(m.Timestamp), m.Text))
		}
		b.WriteString(FormatPacket("hend", strconv.Itoa(len(d.Messages))))
		return b.String()
	case Disconnected:
		if d.Reason == "" {
			return FormatPacket("bye")
		}
		if d.Details != "" {
			return FormatPacket("bye", d.Reason, d.Details)
		}
		return FormatPacket("bye", d.Reason)
	case string:
		switch ev.Type {
		case EventUserJoined:
			return FormatPacket("joined", d)
		case EventUserLeft:
			return FormatPacket("left", d)
		}
	}

	if ev.Type == EventPong {
		return FormatPacket("pong")
	}
	return FormatPacket(ev.Type)
}
