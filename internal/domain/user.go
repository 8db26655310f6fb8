package domain

import (
	"context"
	"errors"
	"time"
)

// Status is a user's displayed availability state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Valid reports whether s is one of the four known presence states.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// User represents the core user model in the application domain.
// LastSeen is always a concrete timestamp once the user has connected at
// least once; the zero value only occurs before the first connection. Every
// liveness signal (connect, heartbeat, explicit status change) and every
// transition to offline refreshes it.
type User struct {
	ID        string    `json:"id,omitempty"`
	Nickname  string    `json:"nickname"`
	Email     string    `json:"email"`
	Password  string    `json:"password,omitempty"`
	Status    Status    `json:"status"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
}

// SafeUser is the projection of User that crosses the wire. It omits the
// password and creation timestamp and is the only user representation ever
// sent to clients or cached on their side.
type SafeUser struct {
	ID        string    `json:"id"`
	Nickname  string    `json:"nickname"`
	Status    Status    `json:"status"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Safe returns the wire-safe projection of the user.
func (u *User) Safe() SafeUser {
	return SafeUser{
		ID:        u.ID,
		Nickname:  u.Nickname,
		Status:    u.Status,
		AvatarURL: u.AvatarURL,
		LastSeen:  u.LastSeen,
	}
}

// ErrUserAlreadyExists is returned when trying to create a user that already exists.
// Lookups that match no user return a nil user with a nil error instead of a
// sentinel.
var ErrUserAlreadyExists = errors.New("user with this email already exists")

// UserRepository defines the contract for user data storage operations.
// It lives in the domain because it's a requirement OF the domain, not
// of the database implementation.
type UserRepository interface {
	FindUsers(ctx context.Context) ([]User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, user *User) (*User, error)
	// UpdateUserStatus writes a user's presence status and refreshes lastSeen.
	UpdateUserStatus(ctx context.Context, id string, status Status, lastSeen time.Time) error
	// MarkStaleOffline demotes every user that is still online but whose
	// lastSeen precedes threshold. The update must be a single conditional
	// statement so it cannot race a concurrent heartbeat. It returns the
	// users that were actually demoted.
	MarkStaleOffline(ctx context.Context, threshold, lastSeen time.Time) ([]User, error)
}
