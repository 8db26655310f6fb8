package database

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
)

// SessionRecord is a persisted login session.
type SessionRecord struct {
	ID        string    `json:"id,omitempty"`
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionStore handles database operations for login sessions.
type SessionStore struct {
	db *surrealdb.DB
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db *surrealdb.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create persists a session token for a user.
func (s *SessionStore) Create(ctx context.Context, token, userID string, ttl time.Duration) (*SessionRecord, error) {
	query := `
		CREATE session CONTENT {
			token: $token,
			userId: $user_id,
			createdAt: time::now(),
			expiresAt: <datetime> $expires_at
		} RETURN AFTER
	`
	params := map[string]any{
		"token":      token,
		"user_id":    userID,
		"expires_at": surrealTimestamp(time.Now().UTC().Add(ttl)),
	}

	created, err := QueryOne[SessionRecord](ctx, s.db, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if created == nil {
		return nil, fmt.Errorf("session was not created or could not be fetched")
	}
	return created, nil
}

// FindByToken returns the unexpired session for a token, or nil.
func (s *SessionStore) FindByToken(ctx context.Context, token string) (*SessionRecord, error) {
	query := `
		SELECT * FROM session
		WHERE token = $token
		AND expiresAt > time::now()
		LIMIT 1
	`
	params := map[string]any{"token": token}

	record, err := QueryOne[SessionRecord](ctx, s.db, query, params)
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return record, nil
}

// Delete removes a session by its record ID.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	query := "DELETE session WHERE id = $id"
	params := map[string]any{"id": id}

	if err := Execute(ctx, s.db, query, params); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
