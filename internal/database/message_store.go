package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hearthchat/hearth/internal/domain"
	"github.com/surrealdb/surrealdb.go"
)

// MessageStore handles database operations for chat messages. It implements
// domain.MessageRepository.
type MessageStore struct {
	db *surrealdb.DB
}

// NewMessageStore creates a new MessageStore.
func NewMessageStore(db *surrealdb.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Insert saves a new message and returns the stored record. The record ID is
// minted here rather than by the database so the broadcast and cache paths
// see the same ID the row was created with.
func (s *MessageStore) Insert(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	query := `
		CREATE type::thing('message', $id) CONTENT {
			roomId: $room_id,
			userId: $user_id,
			content: $content,
			type: $type,
			style: $style,
			createdAt: time::now()
		} RETURN AFTER
	`
	params := map[string]any{
		"id":      uuid.NewString(),
		"room_id": msg.RoomID,
		"user_id": msg.UserID,
		"content": msg.Content,
		"type":    msg.Type,
		"style":   msg.Style,
	}

	created, err := QueryOne[domain.Message](ctx, s.db, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create and fetch message: %w", err)
	}
	if created == nil {
		return nil, fmt.Errorf("message was not created or could not be fetched")
	}
	return created, nil
}

// Recent retrieves up to limit messages for a room, oldest first.
func (s *MessageStore) Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	// Select newest-first so the LIMIT keeps the most recent window, then
	// reverse for ascending display order.
	query := "SELECT * FROM message WHERE roomId = $room_id ORDER BY createdAt DESC LIMIT $limit"
	params := map[string]any{
		"room_id": roomID,
		"limit":   limit,
	}

	messages, err := Query[domain.Message](ctx, s.db, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	reverse(messages)
	return messages, nil
}

// RecentAll retrieves up to limit of the newest messages across every room,
// oldest first. Used once at boot to backfill the room message cache.
func (s *MessageStore) RecentAll(ctx context.Context, limit int) ([]domain.Message, error) {
	query := "SELECT * FROM message ORDER BY createdAt DESC LIMIT $limit"
	params := map[string]any{"limit": limit}

	messages, err := Query[domain.Message](ctx, s.db, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	reverse(messages)
	return messages, nil
}

func reverse(messages []domain.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
