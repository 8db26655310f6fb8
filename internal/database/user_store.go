package database

import (
	"context"
	"fmt"
	"time"

	"github.com/hearthchat/hearth/internal/domain"
	"github.com/surrealdb/surrealdb.go"
)

// UserStore encapsulates database operations for users.
type UserStore struct {
	db *surrealdb.DB
}

var _ domain.UserRepository = (*UserStore)(nil)

// NewUserStore creates a new UserStore.
func NewUserStore(db *surrealdb.DB) *UserStore {
	return &UserStore{db: db}
}

// FindUsers returns every user, newest last-seen first.
func (s *UserStore) FindUsers(ctx context.Context) ([]domain.User, error) {
	query := "SELECT * FROM user ORDER BY lastSeen DESC"

	users, err := Query[domain.User](ctx, s.db, query, nil)
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return users, nil
}

// FindUserByID queries for a single user by ID.
func (s *UserStore) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	query := "SELECT * FROM user WHERE id = $id"
	params := map[string]any{"id": id}

	user, err := QueryOne[domain.User](ctx, s.db, query, params)
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return user, nil
}

// FindUserByEmail queries for a single user by their email address.
func (s *UserStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := "SELECT * FROM user WHERE email = $email"
	params := map[string]any{"email": email}

	user, err := QueryOne[domain.User](ctx, s.db, query, params)
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return user, nil
}

// CreateUser creates a new user. New users start offline; LastSeen stays at
// the zero value until their first connection.
func (s *UserStore) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	existing, err := s.FindUserByEmail(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrUserAlreadyExists
	}

	// Hashing is delegated to the store; the application never sees a hash.
	query := `
		CREATE user CONTENT {
			nickname: $nickname,
			email: $email,
			password: crypto::argon2::generate($password),
			status: $status,
			avatarUrl: $avatar_url,
			createdAt: time::now()
		} RETURN AFTER
	`
	params := map[string]any{
		"nickname":   user.Nickname,
		"email":      user.Email,
		"password":   user.Password,
		"status":     domain.StatusOffline,
		"avatar_url": user.AvatarURL,
	}

	created, err := QueryOne[domain.User](ctx, s.db, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if created == nil {
		return nil, fmt.Errorf("user was not created or could not be fetched")
	}
	return created, nil
}

// VerifyCredentials checks an email/password pair against the stored hash
// and returns the matching user, or nil when either is wrong.
func (s *UserStore) VerifyCredentials(ctx context.Context, email, password string) (*domain.User, error) {
	query := `
		SELECT * FROM user
		WHERE email = $email
		AND crypto::argon2::compare(password, $password)
	`
	params := map[string]any{
		"email":    email,
		"password": password,
	}

	user, err := QueryOne[domain.User](ctx, s.db, query, params)
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return user, nil
}

// UpdateUserStatus writes the user's presence status and refreshes lastSeen.
func (s *UserStore) UpdateUserStatus(ctx context.Context, id string, status domain.Status, lastSeen time.Time) error {
	query := "UPDATE user SET status = $status, lastSeen = <datetime> $last_seen WHERE id = $id"
	params := map[string]any{
		"id":        id,
		"status":    status,
		"last_seen": surrealTimestamp(lastSeen),
	}

	if err := Execute(ctx, s.db, query, params); err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	return nil
}

// RefreshLastSeen updates only the liveness timestamp, leaving status alone.
func (s *UserStore) RefreshLastSeen(ctx context.Context, id string, lastSeen time.Time) error {
	query := "UPDATE user SET lastSeen = <datetime> $last_seen WHERE id = $id"
	params := map[string]any{
		"id":        id,
		"last_seen": surrealTimestamp(lastSeen),
	}

	if err := Execute(ctx, s.db, query, params); err != nil {
		return fmt.Errorf("failed to refresh lastSeen: %w", err)
	}
	return nil
}

// MarkStaleOffline demotes every online user whose lastSeen precedes
// threshold. The conditional UPDATE runs as one statement so a heartbeat
// arriving concurrently either moves lastSeen past the threshold before the
// update sees the row, or the row is demoted; there is no lost-update
// interleaving. RETURN AFTER hands back exactly the demoted rows.
func (s *UserStore) MarkStaleOffline(ctx context.Context, threshold, lastSeen time.Time) ([]domain.User, error) {
	query := `
		UPDATE user SET
			status = $offline,
			lastSeen = <datetime> $last_seen
		WHERE status = $online AND lastSeen < <datetime> $threshold
		RETURN AFTER
	`
	params := map[string]any{
		"offline":   domain.StatusOffline,
		"online":    domain.StatusOnline,
		"last_seen": surrealTimestamp(lastSeen),
		"threshold": surrealTimestamp(threshold),
	}

	demoted, err := Query[domain.User](ctx, s.db, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to demote stale users: %w", err)
	}
	return demoted, nil
}
