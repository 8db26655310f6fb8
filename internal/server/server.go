package server

import (
	"context"
	"log/slog"
	"os"

	"github.com/gorilla/sessions"
	"github.com/hearthchat/hearth/internal/cache"
	"github.com/hearthchat/hearth/internal/config"
	"github.com/hearthchat/hearth/internal/database"
	"github.com/hearthchat/hearth/internal/handlers"
	"github.com/hearthchat/hearth/internal/hub"
	"github.com/hearthchat/hearth/internal/logging"
	appmiddleware "github.com/hearthchat/hearth/internal/middleware"
	"github.com/hearthchat/hearth/internal/presence"
	"github.com/hearthchat/hearth/internal/pubsub"
	"github.com/hearthchat/hearth/internal/ratelimit"
	sessionpkg "github.com/hearthchat/hearth/internal/session"
	echosession "github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/surrealdb/surrealdb.go"
)

// Server holds the dependencies for the HTTP server. Everything is an
// explicitly constructed instance passed by reference — no package-level
// singletons — so tests can build fresh servers per case.
type Server struct {
	E   *echo.Echo
	DB  *surrealdb.DB
	Cfg *config.Config

	bridge    *pubsub.WatermillBridge
	hub       *hub.Hub
	roomCache *cache.RoomCache
	limiter   *ratelimit.Limiter
	presence  *presence.Service
	sessions  *sessionpkg.Manager

	userStore    *database.UserStore
	messageStore *database.MessageStore

	authHandler     *handlers.AuthHandler
	messageHandler  *handlers.MessageHandler
	presenceHandler *handlers.PresenceHandler
	streamHandler   *handlers.StreamHandler
}

// New creates a new Server instance and wires every component.
func New() *Server {
	logging.New() // Initialize the structured logger
	cfg := config.New()

	db, err := database.NewDB(context.Background(), cfg)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	// Stores.
	userStore := database.NewUserStore(db)
	messageStore := database.NewMessageStore(db)
	sessionStore := database.NewSessionStore(db)

	// Broadcast hub over the in-memory bridge. One instance for the whole
	// process, shut down on drain.
	bridge := pubsub.NewWatermillBridge()
	broadcastHub := hub.New(bridge, bridge)

	// Room cache, backfilled once from storage. A failed backfill is
	// transient: the cache warms organically from live traffic.
	roomCache := cache.New(
		cache.WithMaxMessagesPerRoom(cfg.MaxMessagesPerRoom),
		cache.WithMaxRooms(cfg.MaxRooms),
		cache.WithExpiry(cfg.CacheExpiry),
	)
	if backfill, err := messageStore.RecentAll(context.Background(), cfg.CacheBackfill); err != nil {
		slog.Error("Room cache backfill failed, starting cold", "error", err)
	} else {
		roomCache.Initialize(backfill)
	}

	presenceSvc := presence.NewService(userStore, broadcastHub,
		presence.WithOnlineTimeout(cfg.OnlineTimeout),
		presence.WithSweepInterval(cfg.SweepInterval),
		presence.WithBuddyPollInterval(cfg.BuddyPollInterval),
		presence.WithBuddyThrottle(cfg.BuddyThrottle),
	)

	limiter := ratelimit.New(ratelimit.DefaultBudgets())
	sessionManager := sessionpkg.NewManager(sessionStore, userStore)

	e := echo.New()
	e.HideBanner = true
	e.Validator = handlers.NewValidator()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	// Request-scoped slog: every handler pulls a logger tagged with the
	// request ID from the context.
	e.Use(middleware.RequestID())
	e.Use(appmiddleware.Logger)

	// Cookie-session middleware; the session manager reads through it.
	cookieStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	cookieStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
	}
	e.Use(echosession.Middleware(cookieStore))

	return &Server{
		E:   e,
		DB:  db,
		Cfg: cfg,

		bridge:    bridge,
		hub:       broadcastHub,
		roomCache: roomCache,
		limiter:   limiter,
		presence:  presenceSvc,
		sessions:  sessionManager,

		userStore:    userStore,
		messageStore: messageStore,

		authHandler:     handlers.NewAuthHandler(userStore, sessionManager),
		messageHandler:  handlers.NewMessageHandler(messageStore, roomCache, broadcastHub),
		presenceHandler: handlers.NewPresenceHandler(presenceSvc, userStore),
		streamHandler:   handlers.NewStreamHandler(broadcastHub, presenceSvc, handlers.NewConnectionRegistry(), cfg.KeepaliveInterval),
	}
}

// Hub is a getter for the server's broadcast hub, useful for testing.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Presence is a getter for the server's presence service, useful for testing.
func (s *Server) Presence() *presence.Service {
	return s.presence
}
