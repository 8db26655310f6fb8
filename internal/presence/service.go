package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hearthchat/hearth/internal/domain"
	"github.com/hearthchat/hearth/internal/hub"
)

const (
	// DefaultOnlineTimeout is how long an online user may stay silent before
	// the sweep demotes them to offline.
	DefaultOnlineTimeout = 2 * time.Minute

	// DefaultSweepInterval is the cadence of the presence-timeout sweep.
	DefaultSweepInterval = 30 * time.Second

	// DefaultBuddyPollInterval is how often the buddy-list broadcaster
	// re-reads the presence list.
	DefaultBuddyPollInterval = time.Second

	// DefaultBuddyThrottle is the minimum gap between two buddyListUpdate
	// broadcasts, even when the list keeps changing.
	DefaultBuddyThrottle = 10 * time.Second
)

// Store is the slice of user storage the presence service needs.
type Store interface {
	FindUsers(ctx context.Context) ([]domain.User, error)
	UpdateUserStatus(ctx context.Context, id string, status domain.Status, lastSeen time.Time) error
	RefreshLastSeen(ctx context.Context, id string, lastSeen time.Time) error
	MarkStaleOffline(ctx context.Context, threshold, lastSeen time.Time) ([]domain.User, error)
}

// Service owns the presence write path and the two reconciliation jobs: the
// timeout sweep and the buddy-list diff broadcast. Both jobs run on their
// own timers, fully decoupled from any connection's lifecycle, and tolerate
// running with zero connections open.
type Service struct {
	store  Store
	hub    *hub.Hub
	logger *slog.Logger

	onlineTimeout     time.Duration
	sweepInterval     time.Duration
	buddyPollInterval time.Duration
	buddyThrottle     time.Duration

	mu            sync.Mutex
	lastBuddyHash string
	lastBuddyAt   time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithOnlineTimeout sets the silence threshold for the sweep.
func WithOnlineTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.onlineTimeout = d
	}
}

// WithSweepInterval sets the sweep cadence.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		s.sweepInterval = d
	}
}

// WithBuddyPollInterval sets the buddy-list poll cadence.
func WithBuddyPollInterval(d time.Duration) Option {
	return func(s *Service) {
		s.buddyPollInterval = d
	}
}

// WithBuddyThrottle sets the minimum gap between buddy-list broadcasts.
func WithBuddyThrottle(d time.Duration) Option {
	return func(s *Service) {
		s.buddyThrottle = d
	}
}

// WithClock overrides the service's time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a presence service. Call Start to run the background
// jobs and Shutdown to stop them.
func NewService(store Store, h *hub.Hub, opts ...Option) *Service {
	svc := &Service{
		store:             store,
		hub:               h,
		logger:            slog.Default().With("service", "presence"),
		onlineTimeout:     DefaultOnlineTimeout,
		sweepInterval:     DefaultSweepInterval,
		buddyPollInterval: DefaultBuddyPollInterval,
		buddyThrottle:     DefaultBuddyThrottle,
		stop:              make(chan struct{}),
		now:               func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// SetStatus writes a user's presence status, refreshes lastSeen, and emits
// one userStatusUpdate. Every explicit status call is a liveness signal.
func (s *Service) SetStatus(ctx context.Context, userID string, status domain.Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid presence status %q", status)
	}

	lastSeen := s.now()
	if err := s.store.UpdateUserStatus(ctx, userID, status, lastSeen); err != nil {
		return fmt.Errorf("failed to write presence: %w", err)
	}

	if err := s.hub.Emit(ctx, hub.EventUserStatusUpdate, hub.StatusUpdate{
		UserID:   userID,
		Status:   status,
		LastSeen: lastSeen,
	}); err != nil {
		s.logger.Error("Failed to emit status update", "user_id", userID, "error", err)
	}
	return nil
}

// Heartbeat refreshes a user's lastSeen without touching status or emitting
// an event. This is the signal that keeps the sweep from demoting them.
func (s *Service) Heartbeat(ctx context.Context, userID string) error {
	if err := s.store.RefreshLastSeen(ctx, userID, s.now()); err != nil {
		return fmt.Errorf("failed to refresh lastSeen: %w", err)
	}
	return nil
}

// Start launches the sweep and buddy-list jobs.
func (s *Service) Start() {
	s.done.Add(2)
	go s.sweepLoop()
	go s.buddyLoop()
	s.logger.Info("Presence service started",
		"online_timeout", s.onlineTimeout,
		"sweep_interval", s.sweepInterval)
}

// Shutdown stops the background jobs and waits for them to exit.
func (s *Service) Shutdown() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.done.Wait()
}

func (s *Service) sweepLoop() {
	defer s.done.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(context.Background())
		case <-s.stop:
			return
		}
	}
}

// SweepOnce runs one presence-timeout pass: every user still online whose
// lastSeen precedes now-onlineTimeout is demoted to offline in a single
// conditional update, and one userStatusUpdate is emitted per demoted user.
// Storage errors are logged and swallowed; the next cycle retries.
func (s *Service) SweepOnce(ctx context.Context) {
	now := s.now()
	threshold := now.Add(-s.onlineTimeout)

	demoted, err := s.store.MarkStaleOffline(ctx, threshold, now)
	if err != nil {
		s.logger.Error("Presence sweep failed, skipping cycle", "error", err)
		return
	}
	if len(demoted) == 0 {
		return
	}

	s.logger.Info("Swept stale presences offline", "count", len(demoted))
	for _, user := range demoted {
		if err := s.hub.Emit(ctx, hub.EventUserStatusUpdate, hub.StatusUpdate{
			UserID:   user.ID,
			Status:   domain.StatusOffline,
			LastSeen: user.LastSeen,
		}); err != nil {
			s.logger.Error("Failed to emit sweep status update", "user_id", user.ID, "error", err)
		}
	}
}

func (s *Service) buddyLoop() {
	defer s.done.Done()
	ticker := time.NewTicker(s.buddyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.BroadcastBuddyList(context.Background())
		case <-s.stop:
			return
		}
	}
}

// BroadcastBuddyList fetches the full presence list and emits one
// buddyListUpdate, but only when the list's structural hash differs from the
// previous broadcast and the throttle window has elapsed. Identical
// snapshots never flood the bus.
func (s *Service) BroadcastBuddyList(ctx context.Context) {
	s.mu.Lock()
	sinceLast := s.now().Sub(s.lastBuddyAt)
	s.mu.Unlock()
	if sinceLast < s.buddyThrottle {
		return
	}

	users, err := s.store.FindUsers(ctx)
	if err != nil {
		s.logger.Error("Buddy list fetch failed, skipping cycle", "error", err)
		return
	}

	safe := make([]domain.SafeUser, len(users))
	for i := range users {
		safe[i] = users[i].Safe()
	}

	digest, err := hashBuddyList(safe)
	if err != nil {
		s.logger.Error("Failed to hash buddy list", "error", err)
		return
	}

	s.mu.Lock()
	if digest == s.lastBuddyHash {
		s.mu.Unlock()
		return
	}
	s.lastBuddyHash = digest
	s.lastBuddyAt = s.now()
	s.mu.Unlock()

	if err := s.hub.Emit(ctx, hub.EventBuddyListUpdate, safe); err != nil {
		s.logger.Error("Failed to emit buddy list update", "error", err)
	}
}
