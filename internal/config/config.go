package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Addr          string
	SessionSecret string

	DBUrl  string
	DBNs   string
	DBDb   string
	DBUser string
	DBPass string

	// Presence reconciliation.
	OnlineTimeout      time.Duration // online users silent longer than this are swept offline
	SweepInterval      time.Duration
	BuddyPollInterval  time.Duration
	BuddyThrottle      time.Duration
	KeepaliveInterval  time.Duration

	// Room message cache.
	MaxMessagesPerRoom int
	MaxRooms           int
	CacheExpiry        time.Duration
	CacheBackfill      int
}

// New loads configuration from environment variables.
func New() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Addr:          envOr("HEARTH_ADDR", ":8080"),
		SessionSecret: os.Getenv("SESSION_SECRET"),

		DBUrl:  os.Getenv("SURREAL_URL"),
		DBUser: os.Getenv("SURREAL_USER"),
		DBPass: os.Getenv("SURREAL_PASS"),
		DBNs:   os.Getenv("SURREAL_NS"),
		DBDb:   os.Getenv("SURREAL_DB"),

		OnlineTimeout:     envDuration("PRESENCE_ONLINE_TIMEOUT", 2*time.Minute),
		SweepInterval:     envDuration("PRESENCE_SWEEP_INTERVAL", 30*time.Second),
		BuddyPollInterval: envDuration("PRESENCE_BUDDY_POLL_INTERVAL", time.Second),
		BuddyThrottle:     envDuration("PRESENCE_BUDDY_THROTTLE", 10*time.Second),
		KeepaliveInterval: envDuration("STREAM_KEEPALIVE_INTERVAL", 30*time.Second),

		MaxMessagesPerRoom: envInt("CACHE_MAX_MESSAGES_PER_ROOM", 100),
		MaxRooms:           envInt("CACHE_MAX_ROOMS", 50),
		CacheExpiry:        envDuration("CACHE_EXPIRY", 30*time.Minute),
		CacheBackfill:      envInt("CACHE_BACKFILL", 500),
	}

	if cfg.DBUrl == "" || cfg.DBNs == "" || cfg.DBDb == "" {
		log.Fatal("Required environment variables SURREAL_URL, SURREAL_NS, or SURREAL_DB are not set.")
	}
	if cfg.SessionSecret == "" {
		log.Fatal("Required environment variable SESSION_SECRET is not set.")
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
		log.Printf("Ignoring invalid value for %s: %q", key, v)
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Printf("Ignoring invalid value for %s: %q", key, v)
	}
	return fallback
}
