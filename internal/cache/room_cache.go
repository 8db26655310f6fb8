package cache

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hearthchat/hearth/internal/domain"
)

const (
	DefaultMaxMessagesPerRoom = 100
	DefaultMaxRooms           = 50
	DefaultExpiry             = 30 * time.Minute
)

// roomEntry is the bounded, ordered window of one room's recent messages.
type roomEntry struct {
	messages    []domain.Message // ascending by CreatedAt, unique IDs
	lastUpdated time.Time
}

// RoomCache is a purely in-memory accelerator for anonymous message reads.
// Each room keeps at most maxMessagesPerRoom most-recent messages (FIFO on
// overflow); the cache tracks at most maxRooms rooms, evicting the
// least-recently-touched room first; rooms idle longer than expiry are
// dropped opportunistically on write. It never touches the network or the
// store — authenticated reads bypass it entirely.
type RoomCache struct {
	mu                 sync.Mutex
	rooms              map[string]*roomEntry
	maxMessagesPerRoom int
	maxRooms           int
	expiry             time.Duration
	logger             *slog.Logger
	now                func() time.Time
}

// Option configures a RoomCache.
type Option func(*RoomCache)

// WithMaxMessagesPerRoom sets the per-room message cap.
func WithMaxMessagesPerRoom(n int) Option {
	return func(c *RoomCache) {
		c.maxMessagesPerRoom = n
	}
}

// WithMaxRooms sets the tracked-room cap.
func WithMaxRooms(n int) Option {
	return func(c *RoomCache) {
		c.maxRooms = n
	}
}

// WithExpiry sets the idle lifetime of a room entry.
func WithExpiry(d time.Duration) Option {
	return func(c *RoomCache) {
		c.expiry = d
	}
}

// WithClock overrides the cache's time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *RoomCache) {
		c.now = now
	}
}

// New creates an empty RoomCache.
func New(opts ...Option) *RoomCache {
	c := &RoomCache{
		rooms:              make(map[string]*roomEntry),
		maxMessagesPerRoom: DefaultMaxMessagesPerRoom,
		maxRooms:           DefaultMaxRooms,
		expiry:             DefaultExpiry,
		logger:             slog.Default().With("service", "room_cache"),
		now:                func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize backfills the cache from a storage batch: messages are grouped
// by room, sorted ascending by timestamp, deduplicated, and truncated to the
// per-room cap. Intended to run once at process start.
func (c *RoomCache) Initialize(messages []domain.Message) {
	grouped := make(map[string][]domain.Message)
	for _, msg := range messages {
		grouped[msg.RoomID] = append(grouped[msg.RoomID], msg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for roomID, batch := range grouped {
		sort.SliceStable(batch, func(i, j int) bool {
			return batch[i].CreatedAt.Before(batch[j].CreatedAt)
		})
		batch = dedupeByID(batch)
		if len(batch) > c.maxMessagesPerRoom {
			batch = batch[len(batch)-c.maxMessagesPerRoom:]
		}
		c.rooms[roomID] = &roomEntry{messages: batch, lastUpdated: now}
	}

	// The backfill can span more rooms than the cap. Every entry shares the
	// same lastUpdated here, so recency has to come from the messages: drop
	// the rooms whose newest message is oldest until within the cap.
	for len(c.rooms) > c.maxRooms {
		staleID := ""
		var staleNewest time.Time
		for roomID, entry := range c.rooms {
			newest := entry.messages[len(entry.messages)-1].CreatedAt
			if staleID == "" || newest.Before(staleNewest) {
				staleID = roomID
				staleNewest = newest
			}
		}
		delete(c.rooms, staleID)
		c.logger.Debug("Dropped backfill room over cap", "room_id", staleID)
	}

	c.logger.Info("Room cache initialized",
		"rooms", len(c.rooms),
		"messages", len(messages))
}

// AddMessage appends one message to its room's window, keeping the sequence
// sorted, unique by ID, and within the cap (oldest evicted first). Expired
// and excess rooms are evicted on the same pass.
func (c *RoomCache) AddMessage(msg domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.evictExpiredLocked(now)

	entry, ok := c.rooms[msg.RoomID]
	if !ok {
		c.evictOverflowLocked()
		entry = &roomEntry{}
		c.rooms[msg.RoomID] = entry
	}

	// Duplicate delivery: last write wins, position by timestamp.
	for i := range entry.messages {
		if entry.messages[i].ID == msg.ID {
			entry.messages = append(entry.messages[:i], entry.messages[i+1:]...)
			break
		}
	}

	// Messages almost always arrive in order; walk back from the tail to
	// find the insertion point for the rare stragglers.
	pos := len(entry.messages)
	for pos > 0 && entry.messages[pos-1].CreatedAt.After(msg.CreatedAt) {
		pos--
	}
	entry.messages = append(entry.messages, domain.Message{})
	copy(entry.messages[pos+1:], entry.messages[pos:])
	entry.messages[pos] = msg

	if len(entry.messages) > c.maxMessagesPerRoom {
		entry.messages = entry.messages[len(entry.messages)-c.maxMessagesPerRoom:]
	}
	entry.lastUpdated = now
}

// GetMessages returns up to limit of the room's newest messages, ascending
// by timestamp, as a defensive copy. A limit <= 0 returns the whole window.
// Reading refreshes the room's lastUpdated, extending its lifetime.
func (c *RoomCache) GetMessages(roomID string, limit int) []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.rooms[roomID]
	if !ok {
		return nil
	}
	entry.lastUpdated = c.now()

	msgs := entry.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out
}

// RoomMessageCount returns the number of cached messages for a room.
func (c *RoomCache) RoomMessageCount(roomID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.rooms[roomID]; ok {
		return len(entry.messages)
	}
	return 0
}

// Rooms returns the number of tracked rooms.
func (c *RoomCache) Rooms() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}

// evictExpiredLocked drops rooms idle longer than the expiry.
func (c *RoomCache) evictExpiredLocked(now time.Time) {
	for roomID, entry := range c.rooms {
		if now.Sub(entry.lastUpdated) > c.expiry {
			delete(c.rooms, roomID)
			c.logger.Debug("Evicted expired room", "room_id", roomID)
		}
	}
}

// evictOverflowLocked makes room for one more entry by dropping the
// least-recently-touched room while over the cap.
func (c *RoomCache) evictOverflowLocked() {
	for len(c.rooms) >= c.maxRooms {
		oldestID := ""
		var oldest time.Time
		for roomID, entry := range c.rooms {
			if oldestID == "" || entry.lastUpdated.Before(oldest) {
				oldestID = roomID
				oldest = entry.lastUpdated
			}
		}
		delete(c.rooms, oldestID)
		c.logger.Debug("Evicted least-recently-used room", "room_id", oldestID)
	}
}

func dedupeByID(messages []domain.Message) []domain.Message {
	seen := make(map[string]struct{}, len(messages))
	out := make([]domain.Message, 0, len(messages))
	// Keep the last occurrence of each ID: walk backwards, then restore order.
	for i := len(messages) - 1; i >= 0; i-- {
		if _, dup := seen[messages[i].ID]; dup {
			continue
		}
		seen[messages[i].ID] = struct{}{}
		out = append(out, messages[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
