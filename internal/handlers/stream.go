package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hearthchat/hearth/internal/domain"
	"github.com/hearthchat/hearth/internal/hub"
	"github.com/hearthchat/hearth/internal/middleware"
	"github.com/hearthchat/hearth/internal/presence"
	"github.com/labstack/echo/v4"
)

// DefaultKeepaliveInterval is how often a comment frame goes out so
// intermediaries don't time out an idle stream.
const DefaultKeepaliveInterval = 30 * time.Second

// streamBuffer is the per-connection event queue. The hub delivers
// synchronously, so the relay callback only enqueues; a full buffer drops
// the event for that client rather than stalling the emitter.
const streamBuffer = 64

// StreamHandler serves the per-client push connection: a long-lived SSE
// stream relaying hub events, with its own keepalive and presence
// transitions on open and close.
type StreamHandler struct {
	hub       *hub.Hub
	presence  *presence.Service
	registry  *ConnectionRegistry
	keepalive time.Duration
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(h *hub.Hub, svc *presence.Service, registry *ConnectionRegistry, keepalive time.Duration) *StreamHandler {
	if keepalive <= 0 {
		keepalive = DefaultKeepaliveInterval
	}
	return &StreamHandler{hub: h, presence: svc, registry: registry, keepalive: keepalive}
}

// Stream is the push-connection endpoint. Identity is mandatory: without a
// valid session the connection never opens.
func (h *StreamHandler) Stream(c echo.Context) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	// Relay callback only enqueues; the write loop below owns the socket.
	events := make(chan hub.Event, streamBuffer)
	sub, err := h.hub.Subscribe(func(event hub.Event) {
		select {
		case events <- event:
		default:
			middleware.FromContext(c.Request().Context()).Warn("Dropping event for slow stream", "user_id", user.ID, "event", event.Type)
		}
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to subscribe to hub")
	}
	// Unsubscribe is idempotent, so the deferred call is safe even when the
	// shutdown path below already ran it.
	defer h.hub.Unsubscribe(sub)

	generation := h.open(c, user)
	defer h.close(c, user, generation)

	if _, err := fmt.Fprint(res, "data: Connected\n\n"); err != nil {
		return nil
	}
	res.Flush()

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event := <-events:
			if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", event.Type, event.Payload); err != nil {
				return nil
			}
			res.Flush()
			h.registry.Touch(user.ID, generation)

		case <-keepalive.C:
			// Comment frame only. Keepalive is not a liveness signal: the
			// client's explicit status/heartbeat calls feed the timeout
			// sweep, not the server's own ticker.
			if _, err := fmt.Fprint(res, ": keepalive\n\n"); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

// open runs the OPENING→OPEN transition: track the connection, flip presence
// to online, refresh lastSeen, announce it. The returned generation ties this
// stream to its registry record.
func (h *StreamHandler) open(c echo.Context, user *domain.User) uint64 {
	generation, replaced := h.registry.Connect(user.ID)
	if replaced {
		middleware.FromContext(c.Request().Context()).Info("Duplicate stream for user, tracked record replaced", "user_id", user.ID)
	}
	if err := h.presence.SetStatus(c.Request().Context(), user.ID, domain.StatusOnline); err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to mark user online", "user_id", user.ID, "error", err)
	}
	return generation
}

// close runs the →CLOSED transition. A stream that was replaced by a newer
// one for the same user no longer owns the tracked record: its teardown must
// neither remove that record nor flip the still-connected user offline. The
// request context is already canceled by the time a disconnect lands here, so
// the offline write uses a fresh context.
func (h *StreamHandler) close(c echo.Context, user *domain.User, generation uint64) {
	if !h.registry.Disconnect(user.ID, generation) {
		middleware.FromContext(c.Request().Context()).Info("Stale stream closed, newer stream still live", "user_id", user.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.presence.SetStatus(ctx, user.ID, domain.StatusOffline); err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to mark user offline", "user_id", user.ID, "error", err)
	}
}
