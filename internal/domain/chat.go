package domain

import (
	"time"
)

// ChatSession groups the messages of one assistant conversation. Sessions are
// created on the first message from a user without an active session and are
// deleted (together with their messages) on an explicit clear.
type ChatSession struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Source is a citation attached to an assistant message.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ConversationMessage is one turn in a chat session. Messages are immutable
// once persisted; a session's sequence is append-only and time-ordered.
type ConversationMessage struct {
	ID        int64             `json:"id"`
	SessionID string            `json:"session_id"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Intent    string            `json:"intent,omitempty"`
	Entities  map[string]string `json:"entities,omitempty"`
	Sources   []Source          `json:"sources,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
