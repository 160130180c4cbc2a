package models

import "time"

type User struct {
	ID        string
	Username  string
	Email     string
	Password  string // hashed
	CreatedAt time.Time
}

// Identity is the authenticated principal bound to a connection or request.
type Identity struct {
	UserID   string
	Username string
}

type Message struct {
	ID          string
	SenderID    string
	RecipientID string // empty for global messages
	Text        string
	IsPrivate   bool
	Timestamp   time.Time

	// Populated on query.
	SenderName    string
	RecipientName string
}

// MessageFilter selects the history visible to one participant: every global
// message plus the private messages they sent or received.
type MessageFilter struct {
	ParticipantID string
	GlobalOnly    bool
	Limit         int
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

type FriendRequest struct {
	ID         string
	FromUserID string
	ToUserID   string
	Status     RequestStatus
	CreatedAt  time.Time
	HandledAt  time.Time
}

type Session struct {
	Username string
	ConnID   string
	JoinedAt time.Time
}
