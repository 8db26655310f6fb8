package handlers

import (
	"net/http"
	"strconv"

	"github.com/hearthchat/hearth/internal/cache"
	"github.com/hearthchat/hearth/internal/domain"
	"github.com/hearthchat/hearth/internal/hub"
	"github.com/hearthchat/hearth/internal/middleware"
	"github.com/labstack/echo/v4"
)

const defaultMessageLimit = 50

// MessageHandler handles message posting and reads.
type MessageHandler struct {
	messages domain.MessageRepository
	cache    *cache.RoomCache
	hub      *hub.Hub
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(messages domain.MessageRepository, roomCache *cache.RoomCache, h *hub.Hub) *MessageHandler {
	return &MessageHandler{messages: messages, cache: roomCache, hub: h}
}

// Post validates and stores a message, feeds the room cache, and emits one
// chatMessage event to the hub.
func (h *MessageHandler) Post(c echo.Context) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	roomID := c.Param("roomID")
	if roomID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "roomID parameter required")
	}

	var req PostMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	msgType := domain.MessageType(req.Type)
	if msgType == "" {
		msgType = domain.MessageChat
	}

	created, err := h.messages.Insert(c.Request().Context(), &domain.Message{
		RoomID:  roomID,
		UserID:  user.ID,
		Content: req.Content,
		Type:    msgType,
		Style:   req.Style,
	})
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to insert message", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store message")
	}

	h.cache.AddMessage(*created)

	if err := h.hub.Emit(c.Request().Context(), hub.EventChatMessage, created); err != nil {
		// Fan-out is best effort; the message is durable in the store.
		middleware.FromContext(c.Request().Context()).Error("Failed to emit chat message", "error", err)
	}

	return c.JSON(http.StatusCreated, created)
}

// List returns a room's recent messages ascending by timestamp. Anonymous
// readers are served from the in-memory room cache to keep database pressure
// off the public path; authenticated readers go straight to storage for
// consistency.
func (h *MessageHandler) List(c echo.Context) error {
	roomID := c.Param("roomID")
	if roomID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "roomID parameter required")
	}

	limit := defaultMessageLimit
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	if _, authenticated := middleware.CurrentUser(c); !authenticated {
		msgs := h.cache.GetMessages(roomID, limit)
		if msgs == nil {
			msgs = []domain.Message{}
		}
		return c.JSON(http.StatusOK, msgs)
	}

	msgs, err := h.messages.Recent(c.Request().Context(), roomID, limit)
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to fetch messages", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch messages")
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}
