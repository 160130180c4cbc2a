package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"chathub/models"

	"github.com/mattn/go-sqlite3"
)

const pendingRequestQuery = `SELECT id, from_user_id, to_user_id, status, created_at, COALESCE(handled_at, 0)
	FROM friend_requests WHERE from_user_id = ? AND to_user_id = ? AND status = 'pending'`

// CreateRequest checks the friendship and the reverse request and inserts in
// one write transaction. The DSN takes the write lock at BEGIN, so two users
// asking each other at once are serialized and the second sees the first.
func (db *DB) CreateRequest(ctx context.Context, req *models.FriendRequest) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var friends int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM friendships WHERE user_id = ? AND friend_id = ?",
		req.FromUserID, req.ToUserID,
	).Scan(&friends); err != nil {
		return err
	}
	if friends > 0 {
		return models.ErrAlreadyFriends
	}

	_, err = scanRequest(tx.QueryRowContext(ctx, pendingRequestQuery, req.ToUserID, req.FromUserID))
	switch {
	case err == nil:
		return models.ErrAlreadyPending
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO friend_requests (id, from_user_id, to_user_id, status, created_at) VALUES (?, ?, ?, ?, ?)",
		req.ID, req.FromUserID, req.ToUserID, string(req.Status), toUnix(req.CreatedAt),
	)
	switch {
	case isConstraint(err, sqlite3.ErrConstraintUnique):
		return models.ErrAlreadyPending
	case isConstraint(err, sqlite3.ErrConstraintForeignKey):
		return models.ErrUserNotFound
	case err != nil:
		return err
	}
	return tx.Commit()
}

// Resolve runs in a single write transaction. The conditional UPDATE is what
// decides a race between two resolvers: the loser sees zero affected rows.
func (db *DB) Resolve(ctx context.Context, fromID, toID string, status models.RequestStatus, at time.Time) (*models.FriendRequest, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	req, err := scanRequest(tx.QueryRowContext(ctx, pendingRequestQuery, fromID, toID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE friend_requests SET status = ?, handled_at = ? WHERE id = ? AND status = 'pending'",
		string(status), toUnix(at), req.ID,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, models.ErrRequestNotFound
	}

	if status == models.RequestAccepted {
		for _, edge := range [][2]string{{fromID, toID}, {toID, fromID}} {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO friendships (user_id, friend_id, created_at) VALUES (?, ?, ?)",
				edge[0], edge[1], toUnix(at),
			); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	req.Status = status
	req.HandledAt = at.UTC()
	return req, nil
}

func (db *DB) AreFriends(ctx context.Context, a, b string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM friendships WHERE user_id = ? AND friend_id = ?",
		a, b,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) Friends(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT friend_id FROM friendships WHERE user_id = ? ORDER BY created_at ASC, friend_id ASC",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *DB) PendingFor(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, from_user_id, to_user_id, status, created_at, COALESCE(handled_at, 0)
		 FROM friend_requests WHERE to_user_id = ? AND status = 'pending'
		 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []models.FriendRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*models.FriendRequest, error) {
	var req models.FriendRequest
	var status string
	var created, handled int64
	if err := row.Scan(&req.ID, &req.FromUserID, &req.ToUserID, &status, &created, &handled); err != nil {
		return nil, err
	}
	req.Status = models.RequestStatus(status)
	req.CreatedAt = fromUnix(created)
	if handled != 0 {
		req.HandledAt = fromUnix(handled)
	}
	return &req, nil
}
