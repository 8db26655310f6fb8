package domain

import (
	"context"
	"time"
)

// MessageType distinguishes ordinary chat text from emotes and
// server-generated notices.
type MessageType string

const (
	MessageChat   MessageType = "chat"
	MessageEmote  MessageType = "emote"
	MessageSystem MessageType = "system"
)

// Message is a single chat message. Messages are immutable once created:
// they are written exactly once by the message-post handler and never
// updated or deleted by the realtime core.
type Message struct {
	ID        string      `json:"id,omitempty"`
	RoomID    string      `json:"roomId"`
	UserID    string      `json:"userId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	Style     string      `json:"style,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// ChatRoom groups messages. Rooms are referenced by ID throughout the core.
type ChatRoom struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageRepository defines the storage contract for messages.
type MessageRepository interface {
	Insert(ctx context.Context, msg *Message) (*Message, error)
	// Recent returns up to limit messages for the room ordered ascending by
	// creation time.
	Recent(ctx context.Context, roomID string, limit int) ([]Message, error)
	// RecentAll returns up to limit of the newest messages across all rooms,
	// ascending by creation time. Used once at boot to backfill the room
	// message cache.
	RecentAll(ctx context.Context, limit int) ([]Message, error)
}
