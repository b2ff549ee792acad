package models

import "time"

// DefaultSessionTitle is the title a session carries until the title
// generator replaces it.
const DefaultSessionTitle = "New Chat"

// SessionSummary describes one stored session without its message history.
type SessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
