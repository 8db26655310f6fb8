package server

import (
	"net/http"

	"github.com/hearthchat/hearth/internal/middleware"
	"github.com/hearthchat/hearth/internal/ratelimit"
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up all the application routes. Each route group goes
// through admission control under its endpoint class; auth middleware runs
// first so the sse class can split its budget by authentication state.
func (s *Server) RegisterRoutes() {
	auth := middleware.Auth(s.sessions)
	optionalAuth := middleware.OptionalAuth(s.sessions)

	gateAuth := middleware.AdmissionControl(s.limiter, ratelimit.ClassAuth)
	gatePublic := middleware.AdmissionControl(s.limiter, ratelimit.ClassPublic)
	gateProtected := middleware.AdmissionControl(s.limiter, ratelimit.ClassProtected)
	gateSSE := middleware.AdmissionControl(s.limiter, ratelimit.ClassSSE)

	s.E.POST("/auth/register", s.authHandler.RegisterPost, gateAuth)
	s.E.POST("/auth/login", s.authHandler.LoginPost, gateAuth)
	s.E.GET("/auth/logout", s.authHandler.Logout)

	// Reads: anonymous traffic lands on the room cache, authenticated reads
	// hit storage; admission class follows the caller's state.
	s.E.GET("/api/rooms/:roomID/messages", s.messageHandler.List, optionalAuth, classByAuth(s, gatePublic, gateProtected))
	s.E.POST("/api/rooms/:roomID/messages", s.messageHandler.Post, auth, gateProtected)

	s.E.POST("/api/status", s.presenceHandler.SetStatus, auth, gateProtected)
	s.E.POST("/api/heartbeat", s.presenceHandler.Heartbeat, auth, gateProtected)
	s.E.GET("/api/users", s.presenceHandler.ListUsers, optionalAuth, gatePublic)
	s.E.GET("/api/users/:id", s.presenceHandler.GetUser, optionalAuth, gatePublic)

	s.E.GET("/events", s.streamHandler.Stream, optionalAuth, gateSSE)

	s.E.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
}

// classByAuth picks the admission gate by the caller's authentication state.
// OptionalAuth must already have run.
func classByAuth(s *Server, anonymous, authenticated echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		anonymousNext := anonymous(next)
		authenticatedNext := authenticated(next)
		return func(c echo.Context) error {
			if _, ok := middleware.CurrentUser(c); ok {
				return authenticatedNext(c)
			}
			return anonymousNext(c)
		}
	}
}
