package models

import (
	"time"
)

// Message represents one entry in a chat transcript
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatDocument represents one conversation stored in the document store
type ChatDocument struct {
	ChatID      string    `json:"chat_id"`
	UserID      string    `json:"user_id"`
	ModelID     string    `json:"model_id"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	Active      bool      `json:"active"`
	Messages    []Message `json:"messages"`
}

// ChatSummary is the listing view of a chat document
type ChatSummary struct {
	ChatID       string    `json:"chat_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastUpdated  time.Time `json:"last_updated"`
	MessageCount int       `json:"message_count"`
}

// StreamEvent is one server-sent-event payload emitted during generation
type StreamEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Stream event types
const (
	EventChunk = "chunk"
	EventDone  = "done"
	EventError = "error"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CacheEntry represents a cached generation result
type CacheEntry struct {
	Prompt    string
	Answer    string
	Model     string
	CreatedAt time.Time
}
