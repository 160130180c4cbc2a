package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"chathub/models"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

// SearchLimit caps the number of users returned by SearchUsers.
const SearchLimit = 10

// CreateUser hashes password and inserts a new user. Username and email
// must both be unused.
func (db *DB) CreateUser(ctx context.Context, username, email, password string) (*models.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:        uuid.NewString(),
		Username:  username,
		Email:     email,
		Password:  string(hashed),
		CreatedAt: time.Now().UTC(),
	}

	_, err = db.conn.ExecContext(ctx,
		"INSERT INTO users (id, username, email, password, created_at) VALUES (?, ?, ?, ?, ?)",
		user.ID, user.Username, user.Email, user.Password, toUnix(user.CreatedAt),
	)
	if isConstraint(err, sqlite3.ErrConstraintUnique) {
		return nil, models.ErrUserExists
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// AuthenticateUser checks password for the user whose username or email
// equals login. It returns nil when the login is unknown or the password
// does not match.
func (db *DB) AuthenticateUser(ctx context.Context, login, password string) (*models.User, error) {
	user, err := db.scanUser(db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, password, created_at FROM users WHERE username = ? OR email = ? LIMIT 1",
		login, login,
	))
	if err != nil || user == nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, nil
	}
	return user, nil
}

// FindByUsername returns the user with exactly this username, or nil.
func (db *DB) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return db.scanUser(db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, password, created_at FROM users WHERE username = ?",
		username,
	))
}

func (db *DB) FindByID(ctx context.Context, id string) (*models.User, error) {
	return db.scanUser(db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, password, created_at FROM users WHERE id = ?",
		id,
	))
}

// SearchUsers returns up to SearchLimit users whose username contains query,
// ignoring case, ordered by username. The user identified by excludeID is
// left out.
func (db *DB) SearchUsers(ctx context.Context, query, excludeID string) ([]models.User, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, username, email, created_at FROM users
		 WHERE username LIKE ? ESCAPE '\' AND id <> ?
		 ORDER BY username ASC
		 LIMIT ?`,
		pattern, excludeID, SearchLimit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var created int64
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = fromUnix(created)
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *DB) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var created int64
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = fromUnix(created)
	return &u, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
