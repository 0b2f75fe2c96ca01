package domain

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// SenderRole identifies who authored a message.
type SenderRole string

const (
	RoleUser   SenderRole = "user"
	RoleAdmin  SenderRole = "admin"
	RoleSystem SenderRole = "system"
)

// MessageType identifies the message payload kind.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

// ChatMessage is one immutable, append-only message in a room.
// MessageID is a ULID, so it doubles as the sort key: lexicographic order
// over message ids is creation order even for identical-millisecond writes.
type ChatMessage struct {
	ChatID     string      `json:"chat_id"`
	MessageID  string      `json:"message_id"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	SenderRole SenderRole  `json:"sender_role"`
	Type       MessageType `json:"message_type"`
	Content    string      `json:"content"`
	CreatedAt  time.Time   `json:"created_at"`
}

// NewMessageID generates a sortable message id for the given creation time.
func NewMessageID(at time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(at), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Excerpt returns a shortened preview of the content for queue notifications.
func (m *ChatMessage) Excerpt(max int) string {
	runes := []rune(m.Content)
	if len(runes) <= max {
		return m.Content
	}
	return string(runes[:max]) + "..."
}
