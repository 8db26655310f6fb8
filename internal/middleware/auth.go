package middleware

import (
	"net/http"

	"github.com/hearthchat/hearth/internal/domain"
	"github.com/hearthchat/hearth/internal/session"
	"github.com/labstack/echo/v4"
)

// UserContextKey is where the authenticated user lands in the echo context.
const UserContextKey = "user"

// Auth creates a middleware that protects routes requiring authentication.
// It resolves the session cookie to a user and stores it in the context;
// requests without a valid session get a 401.
func Auth(sessions *session.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := sessions.TokenFromRequest(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}

			_, user, err := sessions.Validate(c.Request().Context(), token)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "session validation failed")
			}
			if user == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "session expired or invalid")
			}

			c.Set(UserContextKey, user)
			return next(c)
		}
	}
}

// OptionalAuth resolves the session when present but lets anonymous requests
// through. Handlers downstream branch on CurrentUser.
func OptionalAuth(sessions *session.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token, ok := sessions.TokenFromRequest(c); ok {
				if _, user, err := sessions.Validate(c.Request().Context(), token); err == nil && user != nil {
					c.Set(UserContextKey, user)
				}
			}
			return next(c)
		}
	}
}

// CurrentUser returns the authenticated user from the context, if any.
func CurrentUser(c echo.Context) (*domain.User, bool) {
	user, ok := c.Get(UserContextKey).(*domain.User)
	return user, ok && user != nil
}
