package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"chathub/models"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// Append persists msg and returns its id. A missing ID or timestamp is
// filled in; the caller's struct is updated to match what was stored.
func (db *DB) Append(ctx context.Context, msg *models.Message) (string, error) {
	if msg.IsPrivate && msg.RecipientID == "" {
		return "", models.Invalid("private message without recipient")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	var recipient sql.NullString
	if msg.RecipientID != "" {
		recipient = sql.NullString{String: msg.RecipientID, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO messages (id, sender_id, recipient_id, text, is_private, timestamp) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.SenderID, recipient, msg.Text, msg.IsPrivate, toUnix(msg.Timestamp),
	)
	if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
		return "", models.ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Query returns the messages visible under filter in ascending timestamp
// order; messages sharing a timestamp keep insertion order. With a positive
// Limit only the newest Limit messages are returned, still ascending.
func (db *DB) Query(ctx context.Context, filter models.MessageFilter) ([]models.Message, error) {
	var where []string
	var args []any
	switch {
	case filter.GlobalOnly || filter.ParticipantID == "":
		where = append(where, "m.is_private = 0")
	default:
		where = append(where, "(m.is_private = 0 OR m.sender_id = ? OR m.recipient_id = ?)")
		args = append(args, filter.ParticipantID, filter.ParticipantID)
	}

	inner := `
		SELECT m.seq AS seq, m.id AS id, m.sender_id AS sender_id,
		       COALESCE(m.recipient_id, '') AS recipient_id, m.text AS text,
		       m.is_private AS is_private, m.timestamp AS timestamp,
		       s.username AS sender_name, COALESCE(r.username, '') AS recipient_name
		FROM messages m
		JOIN users s ON s.id = m.sender_id
		LEFT JOIN users r ON r.id = m.recipient_id
		WHERE ` + strings.Join(where, " AND ")

	var query string
	if filter.Limit > 0 {
		query = `SELECT * FROM (` + inner + ` ORDER BY m.timestamp DESC, m.seq DESC LIMIT ?)
			ORDER BY timestamp ASC, seq ASC`
		args = append(args, filter.Limit)
	} else {
		query = inner + ` ORDER BY m.timestamp ASC, m.seq ASC`
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var seq, ts int64
		if err := rows.Scan(&seq, &m.ID, &m.SenderID, &m.RecipientID, &m.Text, &m.IsPrivate, &ts,
			&m.SenderName, &m.RecipientName); err != nil {
			return nil, err
		}
		m.Timestamp = fromUnix(ts)
		messages = append(messages, m)
	}

	return messages, rows.Err()
}
