package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hearthchat/hearth/internal/database"
	"github.com/hearthchat/hearth/internal/domain"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
)

// CookieName is the gorilla session cookie carrying the login token.
const CookieName = "hearth_session"

const tokenKey = "token"

// DefaultTTL is how long an issued session stays valid.
const DefaultTTL = 7 * 24 * time.Hour

// TokenStore is the persistence contract the manager needs.
type TokenStore interface {
	Create(ctx context.Context, token, userID string, ttl time.Duration) (*database.SessionRecord, error)
	FindByToken(ctx context.Context, token string) (*database.SessionRecord, error)
	Delete(ctx context.Context, id string) error
}

// UserLookup resolves a session's user.
type UserLookup interface {
	FindUserByID(ctx context.Context, id string) (*domain.User, error)
}

// Manager issues and validates login sessions. The rest of the application
// consumes it only as "valid session → user identity" and "invalidate
// session"; cookie mechanics stay in here.
type Manager struct {
	tokens TokenStore
	users  UserLookup
	ttl    time.Duration
}

// NewManager creates a session Manager.
func NewManager(tokens TokenStore, users UserLookup) *Manager {
	return &Manager{
		tokens: tokens,
		users:  users,
		ttl:    DefaultTTL,
	}
}

// Issue creates a session for the user and stores its token in the cookie.
func (m *Manager) Issue(c echo.Context, userID string) error {
	token, err := generateSecureToken(32)
	if err != nil {
		return err
	}

	if _, err := m.tokens.Create(c.Request().Context(), token, userID, m.ttl); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	sess, err := session.Get(CookieName, c)
	if err != nil {
		return fmt.Errorf("failed to open session cookie: %w", err)
	}
	sess.Values[tokenKey] = token
	sess.Options.MaxAge = int(m.ttl.Seconds())
	sess.Options.HttpOnly = true
	sess.Options.Path = "/"
	return sess.Save(c.Request(), c.Response())
}

// TokenFromRequest extracts the login token from the request cookie.
func (m *Manager) TokenFromRequest(c echo.Context) (string, bool) {
	sess, err := session.Get(CookieName, c)
	if err != nil {
		return "", false
	}
	token, ok := sess.Values[tokenKey].(string)
	return token, ok && token != ""
}

// Validate resolves a token to its session record and user. An unknown or
// expired token returns (nil, nil, nil).
func (m *Manager) Validate(ctx context.Context, token string) (*database.SessionRecord, *domain.User, error) {
	if token == "" {
		return nil, nil, nil
	}

	record, err := m.tokens.FindByToken(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("session lookup failed: %w", err)
	}
	if record == nil {
		return nil, nil, nil
	}

	user, err := m.users.FindUserByID(ctx, record.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("session user lookup failed: %w", err)
	}
	if user == nil {
		return nil, nil, nil
	}
	return record, user, nil
}

// Invalidate deletes the persisted session and clears the cookie.
func (m *Manager) Invalidate(c echo.Context) error {
	token, ok := m.TokenFromRequest(c)
	if ok {
		record, err := m.tokens.FindByToken(c.Request().Context(), token)
		if err == nil && record != nil {
			if err := m.tokens.Delete(c.Request().Context(), record.ID); err != nil {
				return fmt.Errorf("failed to delete session: %w", err)
			}
		}
	}

	sess, err := session.Get(CookieName, c)
	if err != nil {
		return nil
	}
	sess.Values = map[any]any{}
	sess.Options.MaxAge = -1
	return sess.Save(c.Request(), c.Response())
}

// generateSecureToken creates a cryptographically secure random token.
func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
