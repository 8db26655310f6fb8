package handlers

import (
	"context"
	"net/http"

	"github.com/hearthchat/hearth/internal/domain"
	"github.com/hearthchat/hearth/internal/middleware"
	"github.com/hearthchat/hearth/internal/presence"
	"github.com/labstack/echo/v4"
)

// UserReader is the read-only user lookup the presence handler needs.
type UserReader interface {
	FindUsers(ctx context.Context) ([]domain.User, error)
	FindUserByID(ctx context.Context, id string) (*domain.User, error)
}

// PresenceHandler handles presence-related HTTP requests: explicit status
// changes, heartbeats, and SafeUser reads.
type PresenceHandler struct {
	presence *presence.Service
	users    UserReader
}

// NewPresenceHandler creates a new PresenceHandler.
func NewPresenceHandler(svc *presence.Service, users UserReader) *PresenceHandler {
	return &PresenceHandler{presence: svc, users: users}
}

// SetStatus handles an explicit status change. It refreshes lastSeen and
// triggers a userStatusUpdate broadcast.
func (h *PresenceHandler) SetStatus(c echo.Context) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.presence.SetStatus(c.Request().Context(), user.ID, domain.Status(req.Status)); err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to set status", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update status")
	}

	return c.JSON(http.StatusOK, map[string]string{"status": req.Status})
}

// Heartbeat refreshes the caller's lastSeen so the timeout sweep keeps
// seeing them as live.
func (h *PresenceHandler) Heartbeat(c echo.Context) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	if err := h.presence.Heartbeat(c.Request().Context(), user.ID); err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to record heartbeat", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record heartbeat")
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListUsers returns every user as SafeUser — the buddy list's initial load.
func (h *PresenceHandler) ListUsers(c echo.Context) error {
	users, err := h.users.FindUsers(c.Request().Context())
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to fetch users", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch users")
	}

	safe := make([]domain.SafeUser, len(users))
	for i := range users {
		safe[i] = users[i].Safe()
	}
	return c.JSON(http.StatusOK, safe)
}

// GetUser returns one user as SafeUser. Clients call this to resolve
// unknown message senders.
func (h *PresenceHandler) GetUser(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id parameter required")
	}

	user, err := h.users.FindUserByID(c.Request().Context(), id)
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to fetch user", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch user")
	}
	if user == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "user_not_found",
			Message: "No such user.",
		})
	}

	return c.JSON(http.StatusOK, user.Safe())
}
