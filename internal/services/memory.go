package services

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xuedaobian/chatgpt-like/internal/models"
)

type memorySession struct {
	title     string
	createdAt time.Time
	updatedAt time.Time
	messages  []models.Message
}

// Memory implements the Store interface with an in-process map. Histories are
// lost on restart; it is the default backend and the reference implementation
// for the store contract. All operations are safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*memorySession),
	}
}

// Exists reports whether a session with the given ID has been created.
func (m *Memory) Exists(_ context.Context, sessionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.sessions[sessionID]
	return ok, nil
}

// Messages returns the ordered history of a session. An unknown session
// yields an empty history, not an error.
func (m *Memory) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(sess.messages), nil
}

// AppendMessage appends a message to the session's history, creating the
// session if it does not exist yet.
func (m *Memory) AppendMessage(_ context.Context, sessionID string, message models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	sess, ok := m.sessions[sessionID]
	if !ok {
		sess = &memorySession{
			title:     models.DefaultSessionTitle,
			createdAt: now,
		}
		m.sessions[sessionID] = sess
	}
	sess.messages = append(sess.messages, message)
	sess.updatedAt = now
	return nil
}

// LastMessage returns the tail of the session's history. The boolean reports
// whether a tail exists; unknown and empty sessions both report false.
func (m *Memory) LastMessage(_ context.Context, sessionID string) (models.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok || len(sess.messages) == 0 {
		return models.Message{}, false, nil
	}
	return sess.messages[len(sess.messages)-1], true, nil
}

// RemoveLastIfAssistant pops the tail message only when its role is
// assistant, and reports whether a removal happened. The inspect-and-pop is
// atomic with respect to concurrent readers.
func (m *Memory) RemoveLastIfAssistant(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok || len(sess.messages) == 0 {
		return false, nil
	}
	if sess.messages[len(sess.messages)-1].Role != models.RoleAssistant {
		return false, nil
	}
	sess.messages = sess.messages[:len(sess.messages)-1]
	sess.updatedAt = time.Now()
	return true, nil
}

// Sessions returns summaries of all sessions, most recently updated first.
func (m *Memory) Sessions(context.Context) ([]models.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]models.SessionSummary, 0, len(m.sessions))
	for id, sess := range m.sessions {
		summaries = append(summaries, models.SessionSummary{
			ID:        id,
			Title:     sess.title,
			CreatedAt: sess.createdAt,
			UpdatedAt: sess.updatedAt,
		})
	}
	slices.SortFunc(summaries, func(a, b models.SessionSummary) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return summaries, nil
}

// UpdateTitle replaces the session's title. Unknown sessions are silently
// ignored, mirroring the update semantics of the durable backends.
func (m *Memory) UpdateTitle(_ context.Context, sessionID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	sess.title = title
	sess.updatedAt = time.Now()
	return nil
}
