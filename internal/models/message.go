package models

import "time"

// Role represents the author of a message within a session.
type Role string

const (
	// RoleUser marks a message written by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the language model.
	RoleAssistant Role = "assistant"
	// RoleSystem marks the optional instruction message at the head of a session.
	RoleSystem Role = "system"
)

// Message is a single entry in a session's ordered history. Within a session
// the sequence alternates user/assistant after an optional system head; the
// store never holds two consecutive assistant messages, and the last message
// sent to a completion call is always a user message.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Fragment is one incremental piece of a streamed completion. Content carries
// a text delta and is empty on the terminating fragment; FinishReason is empty
// on deltas and carries the provider's opaque reason code exactly once, on the
// fragment that ends the stream.
type Fragment struct {
	Content      string
	FinishReason string
}
