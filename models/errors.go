package models

import (
	"errors"
	"fmt"
)

// Error is a recoverable failure reported back to the originating session.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

const (
	CodeRecipientNotFound  = "RECIPIENT_NOT_FOUND"
	CodeSenderNotFound     = "SENDER_NOT_FOUND"
	CodeSendFailed         = "SEND_FAILED"
	CodeAlreadyOnline      = "ALREADY_ONLINE"
	CodeSelfRequest        = "SELF_REQUEST"
	CodeAlreadyPending     = "ALREADY_PENDING"
	CodeAlreadyFriends     = "ALREADY_FRIENDS"
	CodeRequestNotFound    = "REQUEST_NOT_FOUND"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeNotFriends         = "NOT_FRIENDS"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeRateLimited        = "RATE_LIMITED"
	CodeUserExists         = "USER_EXISTS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInternal           = "INTERNAL"
)

var (
	ErrRecipientNotFound  = &Error{Code: CodeRecipientNotFound, Message: "Recipient not found"}
	ErrSenderNotFound     = &Error{Code: CodeSenderNotFound, Message: "Sender not found"}
	ErrSendFailed         = &Error{Code: CodeSendFailed, Message: "Failed to send message"}
	ErrAlreadyOnline      = &Error{Code: CodeAlreadyOnline, Message: "User already online"}
	ErrSelfRequest        = &Error{Code: CodeSelfRequest, Message: "Cannot send a friend request to yourself"}
	ErrAlreadyPending     = &Error{Code: CodeAlreadyPending, Message: "Friend request already pending"}
	ErrAlreadyFriends     = &Error{Code: CodeAlreadyFriends, Message: "Already friends"}
	ErrRequestNotFound    = &Error{Code: CodeRequestNotFound, Message: "Friend request not found"}
	ErrUnauthenticated    = &Error{Code: CodeUnauthenticated, Message: "Not authenticated"}
	ErrUserNotFound       = &Error{Code: CodeUserNotFound, Message: "User not found"}
	ErrNotFriends         = &Error{Code: CodeNotFriends, Message: "Recipient is not a friend"}
	ErrInvalidRequest     = &Error{Code: CodeInvalidRequest, Message: "Invalid request"}
	ErrRateLimited        = &Error{Code: CodeRateLimited, Message: "Too many requests"}
	ErrUserExists         = &Error{Code: CodeUserExists, Message: "User already exists"}
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials, Message: "Invalid credentials"}
	ErrInternal           = &Error{Code: CodeInternal, Message: "Internal error"}
)

// Invalid returns an INVALID_REQUEST error with a specific message.
func Invalid(msg string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: msg}
}

// CodeOf returns the taxonomy code carried by err, or CodeInternal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the client-facing text for err. Foreign errors are not leaked.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal error"
}
