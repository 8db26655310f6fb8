// Package client implements the consumer side of the push stream: a local
// mirror of users, messages, and connection state kept consistent across
// reconnects, duplicate delivery, and partial data.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hearthchat/hearth/internal/domain"
	"github.com/hearthchat/hearth/internal/hub"
)

// State is the connection state of the mirror.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	// DefaultInitialBackoff is the first reconnect delay; it doubles per
	// consecutive failure up to DefaultMaxBackoff.
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second

	// DefaultMaxReconnects is how many consecutive failures are retried
	// before the client gives up and stays disconnected until an explicit
	// reinitialize.
	DefaultMaxReconnects = 5
)

// EnrichedMessage is a message joined with its resolved sender. Sender is
// nil while the user record is still being fetched.
type EnrichedMessage struct {
	domain.Message
	Sender *domain.SafeUser `json:"sender,omitempty"`
}

// Client maintains the local chat mirror. All mutation happens on the
// stream-reader goroutine or under the mutex; accessors return copies.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxReconnects  int
	sleep          func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	state         State
	currentUser   *domain.SafeUser
	sessionCookie string

	users    map[string]domain.SafeUser
	messages []domain.Message

	reconnects int
	delay      time.Duration
	lastErr    error
	retryAfter time.Duration

	lastBuddyHash string
	fetching      map[string]struct{}

	// Memoized enriched view, keyed by message-ID sequence + user-cache keys.
	enriched    []EnrichedMessage
	enrichedKey string

	inFlight bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for the stream and fetches.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) {
		c.httpc = httpc
	}
}

// WithBackoff overrides the reconnect backoff parameters.
func WithBackoff(initial, max time.Duration, maxReconnects int) Option {
	return func(c *Client) {
		c.initialBackoff = initial
		c.maxBackoff = max
		c.maxReconnects = maxReconnects
	}
}

// WithSleepFunc overrides how the backoff waits. Used in tests to observe
// scheduled delays without real sleeping.
func WithSleepFunc(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// New creates a disconnected client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpc:          http.DefaultClient,
		logger:         slog.Default().With("service", "chat_client"),
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		maxReconnects:  DefaultMaxReconnects,
		state:          StateDisconnected,
		users:          make(map[string]domain.SafeUser),
		fetching:       make(map[string]struct{}),
	}
	c.delay = c.initialBackoff
	c.sleep = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCurrentUser (re)initializes the mirror for a user: the message list is
// cleared and a fresh push connection is opened. A reentrant call while an
// initialize sequence is in flight is a no-op, not queued.
func (c *Client) SetCurrentUser(user domain.SafeUser, sessionCookie string) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		c.logger.Debug("Initialize already in flight, ignoring")
		return
	}
	c.inFlight = true

	// Replacing the connection invalidates any pending reconnect timer:
	// the old context is canceled before the new stream starts.
	if c.cancel != nil {
		c.cancel()
	}

	c.currentUser = &user
	c.sessionCookie = sessionCookie
	c.users[user.ID] = user
	c.messages = nil
	c.enriched = nil
	c.enrichedKey = ""
	c.reconnects = 0
	c.delay = c.initialBackoff
	c.lastErr = nil
	c.retryAfter = 0
	c.state = StateConnecting

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	c.inFlight = false
	c.mu.Unlock()

	go c.run(ctx, done)
}

// Close tears down the connection and any pending reconnect timer.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// run owns the connect/reconnect loop: stream until the transport closes,
// then back off exponentially; past the retry ceiling the client stays
// disconnected until an explicit reinitialize.
func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := c.stream(ctx)
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.lastErr = err
		c.reconnects++
		if c.reconnects > c.maxReconnects {
			c.state = StateDisconnected
			c.mu.Unlock()
			c.logger.Warn("Reconnect limit reached, giving up", "attempts", c.reconnects-1)
			return
		}
		delay := c.delay
		c.delay *= 2
		if c.delay > c.maxBackoff {
			c.delay = c.maxBackoff
		}
		c.state = StateConnecting
		c.mu.Unlock()

		c.logger.Info("Stream closed, reconnecting", "delay", delay, "error", err)
		if err := c.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// onOpen resets the backoff machinery after a successful connect.
func (c *Client) onOpen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateConnected
	c.reconnects = 0
	c.delay = c.initialBackoff
	c.lastErr = nil
	c.retryAfter = 0
}

// onRejected records a 429's retry hint as a soft error.
func (c *Client) onRejected(retryAfter time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	c.retryAfter = retryAfter
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent soft error and, when known, the
// server-provided retry hint.
func (c *Client) LastError() (error, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr, c.retryAfter
}

// Messages returns a copy of the mirrored message list, ascending by
// timestamp and unique by ID.
func (c *Client) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Users returns a copy of the mirrored user snapshot.
func (c *Client) Users() map[string]domain.SafeUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]domain.SafeUser, len(c.users))
	for id, u := range c.users {
		out[id] = u
	}
	return out
}

// handleEvent dispatches one decoded stream event. Malformed payloads drop
// the single event; they never tear down the connection.
func (c *Client) handleEvent(eventType string, data []byte) {
	switch hub.EventType(eventType) {
	case hub.EventChatMessage:
		var msg domain.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Error("Dropping malformed chat message", "error", err)
			return
		}
		c.mergeMessage(msg)

	case hub.EventBuddyListUpdate:
		c.applyBuddyList(data)

	case hub.EventUserStatusUpdate:
		var update hub.StatusUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			c.logger.Error("Dropping malformed status update", "error", err)
			return
		}
		c.applyStatusUpdate(update)

	default:
		c.logger.Debug("Ignoring unknown event", "event", eventType)
	}
}

// mergeMessage merges one message into the local list by ID —
// last-write-wins on duplicates — and re-sorts ascending by timestamp.
// An unknown sender triggers an on-demand fetch.
func (c *Client) mergeMessage(msg domain.Message) {
	c.mu.Lock()
	for i := range c.messages {
		if c.messages[i].ID == msg.ID {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			break
		}
	}
	c.messages = append(c.messages, msg)
	sort.SliceStable(c.messages, func(i, j int) bool {
		return c.messages[i].CreatedAt.Before(c.messages[j].CreatedAt)
	})

	_, known := c.users[msg.UserID]
	_, pending := c.fetching[msg.UserID]
	if !known && !pending {
		c.fetching[msg.UserID] = struct{}{}
		go c.fetchUser(msg.UserID)
	}
	c.mu.Unlock()
}

// applyBuddyList replaces the local user snapshot, but only when the
// serialized payload differs from the last applied one. Identical snapshots
// are dropped before any unmarshaling happens.
func (c *Client) applyBuddyList(data []byte) {
	digest := hashBytes(data)

	c.mu.Lock()
	if digest == c.lastBuddyHash {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	var users []domain.SafeUser
	if err := json.Unmarshal(data, &users); err != nil {
		c.logger.Error("Dropping malformed buddy list", "error", err)
		return
	}

	c.mu.Lock()
	c.lastBuddyHash = digest
	c.users = make(map[string]domain.SafeUser, len(users))
	for _, u := range users {
		c.users[u.ID] = u
	}
	c.mu.Unlock()
}

// applyStatusUpdate patches one user's presence in place. Updates for
// unknown users are held until a buddy list or fetch brings the record in.
func (c *Client) applyStatusUpdate(update hub.StatusUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if user, ok := c.users[update.UserID]; ok {
		user.Status = update.Status
		user.LastSeen = update.LastSeen
		c.users[update.UserID] = user
	}
}

// fetchUser resolves a missing sender. The result lands in the user cache
// and becomes visible on the next read of the enriched view; nothing is
// pushed to already-rendered state.
func (c *Client) fetchUser(userID string) {
	defer func() {
		c.mu.Lock()
		delete(c.fetching, userID)
		c.mu.Unlock()
	}()

	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/users/"+userID, nil)
	if err != nil {
		return
	}
	c.addSessionCookie(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Error("Failed to fetch user", "user_id", userID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("User fetch rejected", "user_id", userID, "status", resp.StatusCode)
		return
	}

	var user domain.SafeUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		c.logger.Error("Failed to decode user", "user_id", userID, "error", err)
		return
	}

	c.mu.Lock()
	c.users[user.ID] = user
	c.mu.Unlock()
}

// EnrichedMessages returns the derived message-plus-sender view. The view
// is memoized under a composite of the message-ID sequence and the
// user-cache key set, and recomputed only when that composite changes.
func (c *Client) EnrichedMessages() []EnrichedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.enrichedKeyLocked()
	if key == c.enrichedKey && c.enriched != nil {
		return c.enriched
	}

	enriched := make([]EnrichedMessage, len(c.messages))
	for i, msg := range c.messages {
		em := EnrichedMessage{Message: msg}
		if sender, ok := c.users[msg.UserID]; ok {
			senderCopy := sender
			em.Sender = &senderCopy
		}
		enriched[i] = em
	}

	c.enriched = enriched
	c.enrichedKey = key
	return enriched
}

func (c *Client) enrichedKeyLocked() string {
	var b strings.Builder
	for _, msg := range c.messages {
		b.WriteString(msg.ID)
		b.WriteByte(',')
	}
	b.WriteByte('|')
	userIDs := make([]string, 0, len(c.users))
	for id := range c.users {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)
	for _, id := range userIDs {
		b.WriteString(id)
		b.WriteByte(',')
	}
	return b.String()
}

func (c *Client) addSessionCookie(req *http.Request) {
	c.mu.Lock()
	cookie := c.sessionCookie
	c.mu.Unlock()
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
}

// rejectionError is the soft error surfaced when the server gates the
// connection with a 429.
type rejectionError struct {
	retryAfter time.Duration
}

func (e *rejectionError) Error() string {
	return fmt.Sprintf("connection rejected, retry after %s", e.retryAfter)
}
