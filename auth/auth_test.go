package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"chathub/models"
)

type fakeUsers struct {
	byID    map[string]*models.User
	created int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: make(map[string]*models.User)}
}

func (f *fakeUsers) CreateUser(ctx context.Context, username, email, password string) (*models.User, error) {
	for _, u := range f.byID {
		if u.Username == username || u.Email == email {
			return nil, models.ErrUserExists
		}
	}
	f.created++
	u := &models.User{ID: username + "-id", Username: username, Email: email, Password: "hash:" + password}
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeUsers) AuthenticateUser(ctx context.Context, login, password string) (*models.User, error) {
	for _, u := range f.byID {
		if (u.Username == login || u.Email == login) && u.Password == "hash:"+password {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	return f.byID[id], nil
}

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)

	raw, err := tokens.Issue(models.Identity{UserID: "u1", Username: "alice"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	id, err := tokens.Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if id.UserID != "u1" || id.Username != "alice" {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestTokenRejected(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	raw, err := tokens.Issue(models.Identity{UserID: "u1", Username: "alice"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	other := NewTokens("other-secret", time.Hour)
	if _, err := other.Parse(raw); !errors.Is(err, models.ErrUnauthenticated) {
		t.Errorf("wrong secret: expected ErrUnauthenticated, got %v", err)
	}

	expired := NewTokens("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := expired.Parse(raw); !errors.Is(err, models.ErrUnauthenticated) {
		t.Errorf("expired: expected ErrUnauthenticated, got %v", err)
	}

	for _, bad := range []string{"", "garbage", raw + "x"} {
		if _, err := tokens.Parse(bad); !errors.Is(err, models.ErrUnauthenticated) {
			t.Errorf("Parse(%q): expected ErrUnauthenticated, got %v", bad, err)
		}
	}
}

func TestRegisterAndLogin(t *testing.T) {
	users := newFakeUsers()
	svc := NewService(users, NewTokens("secret", time.Hour))
	ctx := context.Background()

	user, token, err := svc.Register(ctx, " alice ", "alice@example.com", "password")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.Username != "alice" || token == "" {
		t.Errorf("unexpected register result %+v %q", user, token)
	}

	if _, _, err := svc.Register(ctx, "alice", "a2@example.com", "password"); !errors.Is(err, models.ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}

	for _, login := range []string{"alice", "alice@example.com"} {
		if _, token, err := svc.Login(ctx, login, "password"); err != nil || token == "" {
			t.Errorf("Login(%s) = %q, %v", login, token, err)
		}
	}

	if _, _, err := svc.Login(ctx, "alice", "nope"); !errors.Is(err, models.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}

	id, err := svc.CurrentUser(ctx, token)
	if err != nil || id.Username != "alice" {
		t.Errorf("CurrentUser = %+v, %v", id, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	users := newFakeUsers()
	svc := NewService(users, NewTokens("secret", time.Hour))

	cases := []struct {
		name, username, email, password string
	}{
		{"empty username", "", "a@example.com", "password"},
		{"space in username", "al ice", "a@example.com", "password"},
		{"at sign in username", "bob@example.com", "a@example.com", "password"},
		{"reserved", "system", "a@example.com", "password"},
		{"bad email", "alice", "alice", "password"},
		{"short password", "alice", "a@example.com", "123"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.Register(context.Background(), tc.username, tc.email, tc.password)
			if models.CodeOf(err) != models.CodeInvalidRequest {
				t.Errorf("expected INVALID_REQUEST, got %v", err)
			}
		})
	}
	if users.created != 0 {
		t.Errorf("no user should be created, got %d", users.created)
	}
}

func TestCurrentUserDeleted(t *testing.T) {
	users := newFakeUsers()
	tokens := NewTokens("secret", time.Hour)
	svc := NewService(users, tokens)

	raw, err := tokens.Issue(models.Identity{UserID: "ghost", Username: "ghost"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := svc.CurrentUser(context.Background(), raw); !errors.Is(err, models.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
}
