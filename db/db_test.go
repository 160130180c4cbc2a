package db

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"chathub/models"
)

func setupTestDB(t *testing.T) (*DB, func()) {
	tmpfile, err := os.CreateTemp("", "chathub-*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpfile.Close()
	os.Remove(tmpfile.Name())

	database, err := New(tmpfile.Name())
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	cleanup := func() {
		database.Close()
		os.Remove(tmpfile.Name())
		os.Remove(tmpfile.Name() + "-wal")
		os.Remove(tmpfile.Name() + "-shm")
	}
	return database, cleanup
}

func mustUser(t *testing.T, database *DB, username string) *models.User {
	t.Helper()
	u, err := database.CreateUser(context.Background(), username, username+"@example.com", "secret")
	if err != nil {
		t.Fatalf("CreateUser(%s) failed: %v", username, err)
	}
	return u
}

func TestReopenKeepsSchema(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "chathub-*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpfile.Close()
	path := tmpfile.Name()
	os.Remove(path)
	defer os.Remove(path)

	first, err := New(path)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	mustUser(t, first, "alice")
	first.Close()

	second, err := New(path)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer second.Close()

	u, err := second.FindByUsername(context.Background(), "alice")
	if err != nil || u == nil {
		t.Fatalf("expected alice after reopen, got %v, %v", u, err)
	}
}

func TestCreateAndAuthenticateUser(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	alice := mustUser(t, database, "alice")
	if alice.ID == "" || alice.Password == "secret" {
		t.Fatalf("expected id and hashed password, got %+v", alice)
	}

	if _, err := database.CreateUser(ctx, "alice", "other@example.com", "x"); !errors.Is(err, models.ErrUserExists) {
		t.Errorf("duplicate username: expected ErrUserExists, got %v", err)
	}
	if _, err := database.CreateUser(ctx, "other", "alice@example.com", "x"); !errors.Is(err, models.ErrUserExists) {
		t.Errorf("duplicate email: expected ErrUserExists, got %v", err)
	}

	for _, login := range []string{"alice", "alice@example.com"} {
		u, err := database.AuthenticateUser(ctx, login, "secret")
		if err != nil || u == nil || u.ID != alice.ID {
			t.Errorf("AuthenticateUser(%s) = %v, %v", login, u, err)
		}
	}

	if u, err := database.AuthenticateUser(ctx, "alice", "wrong"); err != nil || u != nil {
		t.Errorf("wrong password: expected nil, got %v, %v", u, err)
	}
	if u, err := database.AuthenticateUser(ctx, "nobody", "secret"); err != nil || u != nil {
		t.Errorf("unknown login: expected nil, got %v, %v", u, err)
	}
}

func TestFindByUsernameIsCaseSensitive(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	alice := mustUser(t, database, "alice")

	if u, err := database.FindByUsername(ctx, "Alice"); err != nil || u != nil {
		t.Errorf("expected no match for Alice, got %v, %v", u, err)
	}
	u, err := database.FindByID(ctx, alice.ID)
	if err != nil || u == nil || u.Username != "alice" {
		t.Errorf("FindByID = %v, %v", u, err)
	}
}

func TestSearchUsers(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	me := mustUser(t, database, "bob")
	mustUser(t, database, "Bobby")
	mustUser(t, database, "carol")
	mustUser(t, database, "bo_x")

	users, err := database.SearchUsers(ctx, "BOB", me.ID)
	if err != nil {
		t.Fatalf("SearchUsers failed: %v", err)
	}
	if len(users) != 1 || users[0].Username != "Bobby" {
		t.Errorf("expected [Bobby], got %+v", users)
	}

	users, err = database.SearchUsers(ctx, "_", "")
	if err != nil {
		t.Fatalf("SearchUsers failed: %v", err)
	}
	if len(users) != 1 || users[0].Username != "bo_x" {
		t.Errorf("underscore must match literally, got %+v", users)
	}
}

func TestSearchUsersLimit(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	for _, name := range []string{"u00", "u01", "u02", "u03", "u04", "u05", "u06", "u07", "u08", "u09", "u10", "u11"} {
		mustUser(t, database, name)
	}

	users, err := database.SearchUsers(context.Background(), "u", "")
	if err != nil {
		t.Fatalf("SearchUsers failed: %v", err)
	}
	if len(users) != SearchLimit {
		t.Errorf("expected %d users, got %d", SearchLimit, len(users))
	}
}

func TestAppendAndQuery(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	alice := mustUser(t, database, "alice")
	bob := mustUser(t, database, "bob")
	carol := mustUser(t, database, "carol")

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := []*models.Message{
		{SenderID: alice.ID, Text: "hello all", Timestamp: base},
		{SenderID: alice.ID, RecipientID: bob.ID, IsPrivate: true, Text: "hi bob", Timestamp: base.Add(time.Second)},
		{SenderID: bob.ID, RecipientID: carol.ID, IsPrivate: true, Text: "hi carol", Timestamp: base.Add(2 * time.Second)},
		{SenderID: carol.ID, Text: "same instant", Timestamp: base.Add(3 * time.Second)},
		{SenderID: bob.ID, Text: "same instant too", Timestamp: base.Add(3 * time.Second)},
	}
	for _, m := range msgs {
		id, err := database.Append(ctx, m)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if id == "" || id != m.ID {
			t.Fatalf("expected id to be assigned, got %q", id)
		}
	}

	got, err := database.Query(ctx, models.MessageFilter{ParticipantID: alice.ID})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	want := []string{"hello all", "hi bob", "same instant", "same instant too"}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d: %+v", len(want), len(got), got)
	}
	for i, m := range got {
		if m.Text != want[i] {
			t.Errorf("message %d: expected %q, got %q", i, want[i], m.Text)
		}
	}
	if got[1].SenderName != "alice" || got[1].RecipientName != "bob" || !got[1].IsPrivate {
		t.Errorf("expected names to be populated, got %+v", got[1])
	}
	if !got[0].Timestamp.Equal(base) {
		t.Errorf("expected timestamp %v, got %v", base, got[0].Timestamp)
	}

	global, err := database.Query(ctx, models.MessageFilter{GlobalOnly: true})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(global) != 3 {
		t.Errorf("expected 3 global messages, got %d", len(global))
	}

	latest, err := database.Query(ctx, models.MessageFilter{ParticipantID: carol.ID, Limit: 2})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(latest) != 2 || latest[0].Text != "same instant" || latest[1].Text != "same instant too" {
		t.Errorf("expected newest two ascending, got %+v", latest)
	}
}

func TestAppendRejectsPrivateWithoutRecipient(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	alice := mustUser(t, database, "alice")
	_, err := database.Append(context.Background(), &models.Message{SenderID: alice.ID, IsPrivate: true, Text: "x"})
	if models.CodeOf(err) != models.CodeInvalidRequest {
		t.Errorf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestFriendRequestLifecycle(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	alice := mustUser(t, database, "alice")
	bob := mustUser(t, database, "bob")
	now := time.Now().UTC()

	req := &models.FriendRequest{ID: "r1", FromUserID: alice.ID, ToUserID: bob.ID, Status: models.RequestPending, CreatedAt: now}
	if err := database.CreateRequest(ctx, req); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	dup := &models.FriendRequest{ID: "r2", FromUserID: alice.ID, ToUserID: bob.ID, Status: models.RequestPending, CreatedAt: now}
	if err := database.CreateRequest(ctx, dup); !errors.Is(err, models.ErrAlreadyPending) {
		t.Errorf("expected ErrAlreadyPending, got %v", err)
	}

	pending, err := database.PendingFor(ctx, bob.ID)
	if err != nil || len(pending) != 1 || pending[0].ID != "r1" {
		t.Fatalf("PendingFor = %+v, %v", pending, err)
	}

	resolved, err := database.Resolve(ctx, alice.ID, bob.ID, models.RequestAccepted, now)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Status != models.RequestAccepted {
		t.Errorf("expected accepted, got %s", resolved.Status)
	}

	for _, pair := range [][2]string{{alice.ID, bob.ID}, {bob.ID, alice.ID}} {
		ok, err := database.AreFriends(ctx, pair[0], pair[1])
		if err != nil || !ok {
			t.Errorf("AreFriends(%s, %s) = %v, %v", pair[0], pair[1], ok, err)
		}
	}

	if _, err := database.Resolve(ctx, alice.ID, bob.ID, models.RequestAccepted, now); !errors.Is(err, models.ErrRequestNotFound) {
		t.Errorf("second accept: expected ErrRequestNotFound, got %v", err)
	}

	ids, err := database.Friends(ctx, alice.ID)
	if err != nil || len(ids) != 1 || ids[0] != bob.ID {
		t.Errorf("Friends = %v, %v", ids, err)
	}
}

func TestRejectedRequestAllowsResend(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	alice := mustUser(t, database, "alice")
	bob := mustUser(t, database, "bob")
	now := time.Now().UTC()

	if err := database.CreateRequest(ctx, &models.FriendRequest{ID: "r1", FromUserID: alice.ID, ToUserID: bob.ID, Status: models.RequestPending, CreatedAt: now}); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if _, err := database.Resolve(ctx, alice.ID, bob.ID, models.RequestRejected, now); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ok, _ := database.AreFriends(ctx, alice.ID, bob.ID); ok {
		t.Error("rejection must not create a friendship")
	}
	if err := database.CreateRequest(ctx, &models.FriendRequest{ID: "r2", FromUserID: alice.ID, ToUserID: bob.ID, Status: models.RequestPending, CreatedAt: now}); err != nil {
		t.Errorf("resend after rejection failed: %v", err)
	}
}

func TestCreateRequestUnknownUser(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()

	alice := mustUser(t, database, "alice")
	err := database.CreateRequest(context.Background(), &models.FriendRequest{
		ID: "r1", FromUserID: alice.ID, ToUserID: "missing", Status: models.RequestPending, CreatedAt: time.Now(),
	})
	if !errors.Is(err, models.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreateRequestChecksFriendshipAndReverse(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	alice := mustUser(t, database, "alice")
	bob := mustUser(t, database, "bob")
	now := time.Now().UTC()

	if err := database.CreateRequest(ctx, &models.FriendRequest{ID: "r1", FromUserID: alice.ID, ToUserID: bob.ID, Status: models.RequestPending, CreatedAt: now}); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	err := database.CreateRequest(ctx, &models.FriendRequest{ID: "r2", FromUserID: bob.ID, ToUserID: alice.ID, Status: models.RequestPending, CreatedAt: now})
	if !errors.Is(err, models.ErrAlreadyPending) {
		t.Errorf("reverse request: expected ErrAlreadyPending, got %v", err)
	}

	if _, err := database.Resolve(ctx, alice.ID, bob.ID, models.RequestAccepted, now); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	err = database.CreateRequest(ctx, &models.FriendRequest{ID: "r3", FromUserID: bob.ID, ToUserID: alice.ID, Status: models.RequestPending, CreatedAt: now})
	if !errors.Is(err, models.ErrAlreadyFriends) {
		t.Errorf("request between friends: expected ErrAlreadyFriends, got %v", err)
	}
}

func TestCrossedRequestsCreateOne(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	alice := mustUser(t, database, "alice")
	bob := mustUser(t, database, "bob")
	now := time.Now().UTC()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, req := range []*models.FriendRequest{
		{ID: "r1", FromUserID: alice.ID, ToUserID: bob.ID, Status: models.RequestPending, CreatedAt: now},
		{ID: "r2", FromUserID: bob.ID, ToUserID: alice.ID, Status: models.RequestPending, CreatedAt: now},
	} {
		i, req := i, req
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = database.CreateRequest(ctx, req)
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, models.ErrAlreadyPending):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one request, got %d", wins)
	}

	pendingAlice, _ := database.PendingFor(ctx, alice.ID)
	pendingBob, _ := database.PendingFor(ctx, bob.ID)
	if len(pendingAlice)+len(pendingBob) != 1 {
		t.Errorf("expected one pending request, got %d + %d", len(pendingAlice), len(pendingBob))
	}
}

func TestConcurrentResolveExactlyOneWins(t *testing.T) {
	database, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	alice := mustUser(t, database, "alice")
	bob := mustUser(t, database, "bob")
	now := time.Now().UTC()

	if err := database.CreateRequest(ctx, &models.FriendRequest{ID: "r1", FromUserID: alice.ID, ToUserID: bob.ID, Status: models.RequestPending, CreatedAt: now}); err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := database.Resolve(ctx, alice.ID, bob.ID, models.RequestAccepted, now)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, models.ErrRequestNotFound):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one successful resolve, got %d", wins)
	}
}
