package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/xuedaobian/chatgpt-like/internal/models"
)

const sessionsBucket = "sessions"

// BoltDB implements the Store interface using a BoltDB backend for durable
// storage of sessions and messages. Message keys are monotonically increasing
// sequence numbers, so bucket iteration order is insertion order.
type BoltDB struct {
	db *bolt.DB
}

type boltSession struct {
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBoltDB creates a new BoltDB instance with the specified file path. The
// database file is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init bolt db: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// Close releases the underlying database file.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(sessionID string) []byte {
	return []byte(fmt.Sprintf("messages-%s", sessionID))
}

func itob(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// ensureSession creates the session record and its message bucket when absent,
// and bumps the updated timestamp either way. Must run inside an update
// transaction so append stays atomic.
func ensureSession(tx *bolt.Tx, sessionID string) error {
	sb := tx.Bucket([]byte(sessionsBucket))

	now := time.Now()
	sess := boltSession{
		Title:     models.DefaultSessionTitle,
		CreatedAt: now,
	}
	if v := sb.Get([]byte(sessionID)); v != nil {
		if err := json.Unmarshal(v, &sess); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
	}
	sess.UpdatedAt = now

	if _, err := tx.CreateBucketIfNotExists(messageBucketName(sessionID)); err != nil {
		return fmt.Errorf("failed to create message bucket: %w", err)
	}

	v, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return sb.Put([]byte(sessionID), v)
}

// Exists reports whether a session record is present.
func (b *BoltDB) Exists(_ context.Context, sessionID string) (bool, error) {
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket([]byte(sessionsBucket)).Get([]byte(sessionID)) != nil
		return nil
	})
	return ok, err
}

// Messages retrieves the ordered history of a session. Unknown sessions yield
// an empty history.
func (b *BoltDB) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		mb := tx.Bucket(messageBucketName(sessionID))
		if mb == nil {
			return nil
		}
		return mb.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AppendMessage stores a new message at the tail of the session's bucket,
// creating the session implicitly when absent. The session record update and
// the message insert share one transaction.
func (b *BoltDB) AppendMessage(_ context.Context, sessionID string, message models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := ensureSession(tx, sessionID); err != nil {
			return err
		}

		mb := tx.Bucket(messageBucketName(sessionID))
		seq, err := mb.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return mb.Put(itob(seq), v)
	})
}

// LastMessage returns the tail of the session's history, reporting false when
// the session is unknown or empty.
func (b *BoltDB) LastMessage(_ context.Context, sessionID string) (models.Message, bool, error) {
	var (
		message models.Message
		ok      bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		mb := tx.Bucket(messageBucketName(sessionID))
		if mb == nil {
			return nil
		}
		_, v := mb.Cursor().Last()
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &message); err != nil {
			return fmt.Errorf("failed to unmarshal message: %w", err)
		}
		ok = true
		return nil
	})
	return message, ok, err
}

// RemoveLastIfAssistant pops the tail message when its role is assistant.
// Inspect and delete run in a single update transaction.
func (b *BoltDB) RemoveLastIfAssistant(_ context.Context, sessionID string) (bool, error) {
	var removed bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		mb := tx.Bucket(messageBucketName(sessionID))
		if mb == nil {
			return nil
		}

		c := mb.Cursor()
		k, v := c.Last()
		if v == nil {
			return nil
		}

		var message models.Message
		if err := json.Unmarshal(v, &message); err != nil {
			return fmt.Errorf("failed to unmarshal message: %w", err)
		}
		if message.Role != models.RoleAssistant {
			return nil
		}

		if err := mb.Delete(k); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		removed = true
		return nil
	})
	return removed, err
}

// Sessions retrieves summaries of all stored sessions, most recently updated
// first.
func (b *BoltDB) Sessions(context.Context) ([]models.SessionSummary, error) {
	var summaries []models.SessionSummary
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).ForEach(func(k, v []byte) error {
			var sess boltSession
			if err := json.Unmarshal(v, &sess); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}
			summaries = append(summaries, models.SessionSummary{
				ID:        string(k),
				Title:     sess.Title,
				CreatedAt: sess.CreatedAt,
				UpdatedAt: sess.UpdatedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(summaries, func(a, b models.SessionSummary) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return summaries, nil
}

// UpdateTitle replaces the stored title of an existing session. Unknown
// sessions are silently ignored.
func (b *BoltDB) UpdateTitle(_ context.Context, sessionID, title string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		sb := tx.Bucket([]byte(sessionsBucket))
		v := sb.Get([]byte(sessionID))
		if v == nil {
			return nil
		}

		var sess boltSession
		if err := json.Unmarshal(v, &sess); err != nil {
			return fmt.Errorf("failed to unmarshal session: %w", err)
		}
		sess.Title = title
		sess.UpdatedAt = time.Now()

		v, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		return sb.Put([]byte(sessionID), v)
	})
}
