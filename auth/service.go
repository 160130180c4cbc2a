// Package auth validates credentials and session tokens. It is the
// currentUser collaborator for both the socket transports and the HTTP API.
package auth

import (
	"context"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"chathub/models"
	"chathub/protocol"
)

const (
	maxUsernameLen = 32
	minPasswordLen = 6
)

// Users is the credential store. FindByID returns nil when the user does not
// exist; AuthenticateUser returns nil on a bad login or password.
type Users interface {
	CreateUser(ctx context.Context, username, email, password string) (*models.User, error)
	AuthenticateUser(ctx context.Context, login, password string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type Service struct {
	users  Users
	tokens *Tokens
}

func NewService(users Users, tokens *Tokens) *Service {
	return &Service{users: users, tokens: tokens}
}

// Register creates an account and returns it with a fresh token.
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.User, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if err := validateAccount(username, email, password); err != nil {
		return nil, "", err
	}

	user, err := s.users.CreateUser(ctx, username, email, password)
	if err != nil {
		return nil, "", err
	}

	token, err := s.tokens.Issue(identityOf(user))
	if err != nil {
		return nil, "", err
	}

	zerolog.Ctx(ctx).Info().Str("user", user.Username).Msg("user registered")
	return user, token, nil
}

// Login accepts a username or an email address as login.
func (s *Service) Login(ctx context.Context, login, password string) (*models.User, string, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, "", models.ErrInvalidCredentials
	}

	user, err := s.users.AuthenticateUser(ctx, login, password)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", models.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(identityOf(user))
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// CurrentUser resolves a token to the identity it was issued for. Tokens of
// deleted users are rejected.
func (s *Service) CurrentUser(ctx context.Context, token string) (models.Identity, error) {
	id, err := s.tokens.Parse(token)
	if err != nil {
		return models.Identity{}, err
	}

	user, err := s.users.FindByID(ctx, id.UserID)
	if err != nil {
		return models.Identity{}, err
	}
	if user == nil {
		return models.Identity{}, models.ErrUnauthenticated
	}
	return identityOf(user), nil
}

func identityOf(u *models.User) models.Identity {
	return models.Identity{UserID: u.ID, Username: u.Username}
}

func validateAccount(username, email, password string) error {
	switch {
	case username == "":
		return models.Invalid("username is required")
	case len(username) > maxUsernameLen:
		return models.Invalid("username is too long")
	case strings.EqualFold(username, protocol.SystemSender):
		return models.Invalid("username is reserved")
	case strings.IndexFunc(username, unicode.IsSpace) >= 0:
		return models.Invalid("username must not contain spaces")
	case strings.Contains(username, "@"):
		// login accepts a username or an email, so the two must not overlap
		return models.Invalid("username must not contain @")
	case !strings.Contains(email, "@"):
		return models.Invalid("invalid email")
	case len(password) < minPasswordLen:
		return models.Invalid("password is too short")
	}
	return nil
}
