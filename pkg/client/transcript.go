package client

import (
	"slices"

	"github.com/google/uuid"
)

// Role classifies a transcript entry. Unlike server-side history, a
// transcript can hold error entries; those never reach the server.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// DisplayMessage is one transcript entry. Streaming marks the single
// in-flight assistant placeholder that grows while an exchange is open.
type DisplayMessage struct {
	ID        string
	Role      Role
	Content   string
	Streaming bool
}

// Transcript mirrors a session's history on the consumer side, plus at most
// one ephemeral placeholder for the in-flight assistant turn. It is meant to
// be driven from the single goroutine that consumes the event stream and
// does no locking of its own.
type Transcript struct {
	sessionID string
	messages  []DisplayMessage

	// ID of the in-flight assistant placeholder, empty when idle.
	streamingID string
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// SessionID returns the bound session identifier, empty until a session
// event (or an explicit bind) supplied one.
func (t *Transcript) SessionID() string {
	return t.sessionID
}

// BindSession records the identifier to use for subsequent requests.
func (t *Transcript) BindSession(sessionID string) {
	t.sessionID = sessionID
}

// Messages returns a copy of the current transcript.
func (t *Transcript) Messages() []DisplayMessage {
	return slices.Clone(t.messages)
}

// Streaming reports whether an assistant placeholder is currently open.
func (t *Transcript) Streaming() bool {
	return t.streamingID != ""
}

// AppendUser adds the user's message and returns its entry ID.
func (t *Transcript) AppendUser(content string) string {
	id := uuid.New().String()
	t.messages = append(t.messages, DisplayMessage{
		ID:      id,
		Role:    RoleUser,
		Content: content,
	})
	return id
}

// BeginAssistant opens the placeholder entry for the incoming assistant turn
// and returns its ID.
func (t *Transcript) BeginAssistant() string {
	id := uuid.New().String()
	t.messages = append(t.messages, DisplayMessage{
		ID:        id,
		Role:      RoleAssistant,
		Streaming: true,
	})
	t.streamingID = id
	return id
}

// Apply folds one stream event into the transcript.
func (t *Transcript) Apply(event Event) {
	switch event.Type {
	case EventSession:
		t.BindSession(event.SessionID)
	case EventMessage:
		t.AppendDelta(event.Content)
	case EventError:
		t.Fail(event.Message)
	}
}

// AppendDelta grows the in-flight placeholder by one content delta.
func (t *Transcript) AppendDelta(content string) {
	idx := t.streamingIndex()
	if idx == -1 {
		return
	}
	t.messages[idx].Content += content
}

// Fail converts the in-flight placeholder into a terminal state: a visible
// error entry is appended, and the placeholder is kept (no longer streaming)
// when it already received content, or removed when it is still empty.
func (t *Transcript) Fail(message string) {
	if idx := t.streamingIndex(); idx != -1 {
		if t.messages[idx].Content == "" {
			t.messages = slices.Delete(t.messages, idx, idx+1)
		} else {
			t.messages[idx].Streaming = false
		}
	}
	t.streamingID = ""

	t.messages = append(t.messages, DisplayMessage{
		ID:      uuid.New().String(),
		Role:    RoleError,
		Content: message,
	})
}

// End closes the in-flight placeholder after a normal stream close.
func (t *Transcript) End() {
	if idx := t.streamingIndex(); idx != -1 {
		t.messages[idx].Streaming = false
	}
	t.streamingID = ""
}

// Discard drops the in-flight placeholder without a trace; used when the
// user cancels the stream.
func (t *Transcript) Discard() {
	if idx := t.streamingIndex(); idx != -1 {
		t.messages = slices.Delete(t.messages, idx, idx+1)
	}
	t.streamingID = ""
}

// TruncateForRetry removes the entry with the given ID and every following
// entry up to, but not including, the next user message. This mirrors the
// server's retry rule (drop the trailing assistant turn) on the local
// transcript. It reports whether the entry was found.
func (t *Transcript) TruncateForRetry(id string) bool {
	first := slices.IndexFunc(t.messages, func(m DisplayMessage) bool { return m.ID == id })
	if first == -1 {
		return false
	}

	last := first
	for i := first + 1; i < len(t.messages); i++ {
		if t.messages[i].Role == RoleUser {
			break
		}
		last = i
	}
	t.messages = slices.Delete(t.messages, first, last+1)
	if t.streamingIndex() == -1 {
		t.streamingID = ""
	}
	return true
}

func (t *Transcript) streamingIndex() int {
	if t.streamingID == "" {
		return -1
	}
	return slices.IndexFunc(t.messages, func(m DisplayMessage) bool { return m.ID == t.streamingID })
}
