package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xuedaobian/chatgpt-like/internal/models"
)

// SQLite implements the Store interface over a relational schema: a chats
// table holding session records and a messages table ordered by an
// auto-incrementing insertion key.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens the database at the given path and creates the schema if it
// doesn't exist yet.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT 'New Chat',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id TEXT NOT NULL REFERENCES chats(id),
		role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
		content TEXT NOT NULL,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Exists reports whether a chat row with the given ID is present.
func (s *SQLite) Exists(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query chat: %w", err)
	}
	return true, nil
}

// Messages retrieves the session's history in insertion order. Unknown
// sessions yield an empty history.
func (s *SQLite) Messages(ctx context.Context, sessionID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, timestamp FROM messages WHERE chat_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var message models.Message
		if err := rows.Scan(&message.Role, &message.Content, &message.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// AppendMessage inserts a message at the tail of the session's history,
// creating the chat row when absent. The whole mutation runs in one
// transaction so a crash cannot leave a message without its chat.
func (s *SQLite) AppendMessage(ctx context.Context, sessionID string, message models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, models.DefaultSessionTitle, now, now,
	); err != nil {
		return fmt.Errorf("failed to upsert chat: %w", err)
	}

	ts := message.Timestamp
	if ts.IsZero() {
		ts = now
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (chat_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		sessionID, message.Role, message.Content, ts,
	); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return tx.Commit()
}

// LastMessage returns the newest message of the session, reporting false when
// the session is unknown or empty.
func (s *SQLite) LastMessage(ctx context.Context, sessionID string) (models.Message, bool, error) {
	var message models.Message
	err := s.db.QueryRowContext(ctx,
		`SELECT role, content, timestamp FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT 1`,
		sessionID,
	).Scan(&message.Role, &message.Content, &message.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, false, nil
	}
	if err != nil {
		return models.Message{}, false, fmt.Errorf("failed to query last message: %w", err)
	}
	return message, true, nil
}

// RemoveLastIfAssistant deletes the newest message of the session only when
// its role is assistant. Inspect and delete share one transaction.
func (s *SQLite) RemoveLastIfAssistant(ctx context.Context, sessionID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		id   int64
		role models.Role
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, role FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT 1`,
		sessionID,
	).Scan(&id, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query last message: %w", err)
	}
	if role != models.RoleAssistant {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE id = ?`, time.Now(), sessionID,
	); err != nil {
		return false, fmt.Errorf("failed to update chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// Sessions retrieves summaries of all chats, most recently updated first.
func (s *SQLite) Sessions(ctx context.Context) ([]models.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM chats ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	var summaries []models.SessionSummary
	for rows.Next() {
		var sum models.SessionSummary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}
	return summaries, nil
}

// UpdateTitle replaces the title of an existing chat. Unknown sessions are
// silently ignored.
func (s *SQLite) UpdateTitle(ctx context.Context, sessionID, title string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now(), sessionID,
	); err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	return nil
}
