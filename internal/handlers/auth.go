package handlers

import (
	"context"
	"net/http"

	"github.com/hearthchat/hearth/internal/domain"
	"github.com/hearthchat/hearth/internal/middleware"
	"github.com/hearthchat/hearth/internal/session"
	"github.com/labstack/echo/v4"
)

// CredentialStore is the slice of user storage the auth handler needs.
// Password hashing lives behind it.
type CredentialStore interface {
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)
	VerifyCredentials(ctx context.Context, email, password string) (*domain.User, error)
}

// AuthHandler handles registration, login, and logout.
type AuthHandler struct {
	users    CredentialStore
	sessions *session.Manager
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users CredentialStore, sessions *session.Manager) *AuthHandler {
	return &AuthHandler{users: users, sessions: sessions}
}

// RegisterPost creates an account and issues a session.
func (h *AuthHandler) RegisterPost(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	user, err := h.users.CreateUser(c.Request().Context(), &domain.User{
		Nickname: req.Nickname,
		Email:    req.Email,
		Password: req.Password,
	})
	if err == domain.ErrUserAlreadyExists {
		return c.JSON(http.StatusConflict, ErrorResponse{
			Code:    "user_exists",
			Message: "An account with this email already exists.",
		})
	}
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to create user", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "registration failed")
	}

	if err := h.sessions.Issue(c, user.ID); err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to issue session", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "session issuance failed")
	}

	return c.JSON(http.StatusCreated, user.Safe())
}

// LoginPost verifies credentials and issues a session.
func (h *AuthHandler) LoginPost(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	user, err := h.users.VerifyCredentials(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Credential check failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "login failed")
	}
	if user == nil {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Code:    "invalid_credentials",
			Message: "Email or password is incorrect.",
		})
	}

	if err := h.sessions.Issue(c, user.ID); err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to issue session", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "session issuance failed")
	}

	return c.JSON(http.StatusOK, user.Safe())
}

// Logout invalidates the current session.
func (h *AuthHandler) Logout(c echo.Context) error {
	if err := h.sessions.Invalidate(c); err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to invalidate session", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "logout failed")
	}
	return c.NoContent(http.StatusNoContent)
}
