package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hearthchat/hearth/internal/domain"
	"github.com/hearthchat/hearth/internal/hub"
	"github.com/hearthchat/hearth/internal/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory presence store for exercising the service
// without a database.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]domain.User

	findErr  error
	sweepErr error

	statusWrites    int
	lastSeenWrites  int
	markStaleCalls  int
	lastThreshold   time.Time
	lastSweepStamp  time.Time
	lastStatusID    string
	lastStatusValue domain.Status
}

func newFakeStore(users ...domain.User) *fakeStore {
	fs := &fakeStore{users: make(map[string]domain.User)}
	for _, u := range users {
		fs.users[u.ID] = u
	}
	return fs
}

func (fs *fakeStore) FindUsers(ctx context.Context) ([]domain.User, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.findErr != nil {
		return nil, fs.findErr
	}
	out := make([]domain.User, 0, len(fs.users))
	for _, u := range fs.users {
		out = append(out, u)
	}
	// Stable order, like the database store's ORDER BY.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (fs *fakeStore) UpdateUserStatus(ctx context.Context, id string, status domain.Status, lastSeen time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.statusWrites++
	fs.lastStatusID = id
	fs.lastStatusValue = status
	u := fs.users[id]
	u.ID = id
	u.Status = status
	u.LastSeen = lastSeen
	fs.users[id] = u
	return nil
}

func (fs *fakeStore) RefreshLastSeen(ctx context.Context, id string, lastSeen time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.lastSeenWrites++
	u := fs.users[id]
	u.ID = id
	u.LastSeen = lastSeen
	fs.users[id] = u
	return nil
}

func (fs *fakeStore) MarkStaleOffline(ctx context.Context, threshold, lastSeen time.Time) ([]domain.User, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.markStaleCalls++
	fs.lastThreshold = threshold
	fs.lastSweepStamp = lastSeen
	if fs.sweepErr != nil {
		return nil, fs.sweepErr
	}
	var demoted []domain.User
	for id, u := range fs.users {
		if u.Status == domain.StatusOnline && u.LastSeen.Before(threshold) {
			u.Status = domain.StatusOffline
			u.LastSeen = lastSeen
			fs.users[id] = u
			demoted = append(demoted, u)
		}
	}
	return demoted, nil
}

// eventCollector gathers hub events delivered to a test subscription.
type eventCollector struct {
	mu     sync.Mutex
	events []hub.Event
}

func (ec *eventCollector) handle(event hub.Event) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.events = append(ec.events, event)
}

func (ec *eventCollector) snapshot() []hub.Event {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]hub.Event, len(ec.events))
	copy(out, ec.events)
	return out
}

func (ec *eventCollector) count() int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return len(ec.events)
}

func newTestHub(t *testing.T) (*hub.Hub, *eventCollector) {
	t.Helper()
	bridge := pubsub.NewWatermillBridge()
	h := hub.New(bridge, bridge)
	t.Cleanup(func() { _ = h.Shutdown() })

	collector := &eventCollector{}
	sub, err := h.Subscribe(collector.handle)
	require.NoError(t, err)
	t.Cleanup(func() { h.Unsubscribe(sub) })

	return h, collector
}

func TestService_SetStatusWritesAndEmits(t *testing.T) {
	store := newFakeStore(domain.User{ID: "user1", Nickname: "alice"})
	h, collector := newTestHub(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, h, WithClock(func() time.Time { return now }))

	require.NoError(t, svc.SetStatus(context.Background(), "user1", domain.StatusBusy))

	assert.Equal(t, 1, store.statusWrites)
	assert.Equal(t, "user1", store.lastStatusID)
	assert.Equal(t, domain.StatusBusy, store.lastStatusValue)

	assert.Eventually(t, func() bool { return collector.count() == 1 }, time.Second, 10*time.Millisecond)

	event := collector.snapshot()[0]
	assert.Equal(t, hub.EventUserStatusUpdate, event.Type)

	var update hub.StatusUpdate
	require.NoError(t, json.Unmarshal(event.Payload, &update))
	assert.Equal(t, "user1", update.UserID)
	assert.Equal(t, domain.StatusBusy, update.Status)
	assert.Equal(t, now, update.LastSeen)
}

func TestService_SetStatusRejectsUnknownStatus(t *testing.T) {
	store := newFakeStore()
	h, collector := newTestHub(t)
	svc := NewService(store, h)

	err := svc.SetStatus(context.Background(), "user1", domain.Status("invisible"))
	require.Error(t, err)
	assert.Equal(t, 0, store.statusWrites)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, collector.count())
}

func TestService_HeartbeatRefreshesWithoutEmitting(t *testing.T) {
	store := newFakeStore(domain.User{ID: "user1", Status: domain.StatusOnline})
	h, collector := newTestHub(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, h, WithClock(func() time.Time { return now }))

	require.NoError(t, svc.Heartbeat(context.Background(), "user1"))

	assert.Equal(t, 1, store.lastSeenWrites)
	assert.Equal(t, 0, store.statusWrites)
	assert.Equal(t, now, store.users["user1"].LastSeen)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, collector.count())
}

func TestService_SweepDemotesStaleUsers(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore(
		domain.User{ID: "stale", Status: domain.StatusOnline, LastSeen: now.Add(-3 * time.Minute)},
		domain.User{ID: "fresh", Status: domain.StatusOnline, LastSeen: now.Add(-10 * time.Second)},
		domain.User{ID: "gone", Status: domain.StatusOffline, LastSeen: now.Add(-time.Hour)},
	)
	h, collector := newTestHub(t)

	svc := NewService(store, h,
		WithOnlineTimeout(2*time.Minute),
		WithClock(func() time.Time { return now }))

	svc.SweepOnce(context.Background())

	assert.Equal(t, 1, store.markStaleCalls)
	assert.Equal(t, now.Add(-2*time.Minute), store.lastThreshold)

	// Only the stale online user is demoted; offline users are untouched.
	assert.Equal(t, domain.StatusOffline, store.users["stale"].Status)
	assert.Equal(t, now, store.users["stale"].LastSeen)
	assert.Equal(t, domain.StatusOnline, store.users["fresh"].Status)

	assert.Eventually(t, func() bool { return collector.count() == 1 }, time.Second, 10*time.Millisecond)

	var update hub.StatusUpdate
	require.NoError(t, json.Unmarshal(collector.snapshot()[0].Payload, &update))
	assert.Equal(t, "stale", update.UserID)
	assert.Equal(t, domain.StatusOffline, update.Status)
}

func TestService_SweepSwallowsStorageErrors(t *testing.T) {
	store := newFakeStore()
	store.sweepErr = errors.New("db unavailable")
	h, collector := newTestHub(t)

	svc := NewService(store, h)

	// Must not panic and must not emit anything.
	svc.SweepOnce(context.Background())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, collector.count())
}

func TestService_BuddyListSkipsIdenticalSnapshots(t *testing.T) {
	store := newFakeStore(
		domain.User{ID: "user1", Nickname: "alice", Status: domain.StatusOnline},
		domain.User{ID: "user2", Nickname: "bob", Status: domain.StatusAway},
	)
	h, collector := newTestHub(t)

	svc := NewService(store, h, WithBuddyThrottle(0))

	svc.BroadcastBuddyList(context.Background())
	svc.BroadcastBuddyList(context.Background())
	svc.BroadcastBuddyList(context.Background())

	assert.Eventually(t, func() bool { return collector.count() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, collector.count())

	event := collector.snapshot()[0]
	assert.Equal(t, hub.EventBuddyListUpdate, event.Type)

	var buddies []domain.SafeUser
	require.NoError(t, json.Unmarshal(event.Payload, &buddies))
	assert.Len(t, buddies, 2)
}

func TestService_BuddyListEmitsAgainOnChange(t *testing.T) {
	store := newFakeStore(domain.User{ID: "user1", Nickname: "alice", Status: domain.StatusOnline})
	h, collector := newTestHub(t)

	svc := NewService(store, h, WithBuddyThrottle(0))

	svc.BroadcastBuddyList(context.Background())
	assert.Eventually(t, func() bool { return collector.count() == 1 }, time.Second, 10*time.Millisecond)

	store.mu.Lock()
	u := store.users["user1"]
	u.Status = domain.StatusAway
	store.users["user1"] = u
	store.mu.Unlock()

	svc.BroadcastBuddyList(context.Background())
	assert.Eventually(t, func() bool { return collector.count() == 2 }, time.Second, 10*time.Millisecond)
}

func TestService_BuddyListThrottleSuppressesRapidChanges(t *testing.T) {
	store := newFakeStore(domain.User{ID: "user1", Nickname: "alice", Status: domain.StatusOnline})
	h, collector := newTestHub(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, h,
		WithBuddyThrottle(10*time.Second),
		WithClock(func() time.Time { return now }))

	svc.BroadcastBuddyList(context.Background())
	assert.Eventually(t, func() bool { return collector.count() == 1 }, time.Second, 10*time.Millisecond)

	// List changed, but inside the throttle window: no broadcast.
	store.mu.Lock()
	u := store.users["user1"]
	u.Status = domain.StatusBusy
	store.users["user1"] = u
	store.mu.Unlock()

	now = now.Add(5 * time.Second)
	svc.BroadcastBuddyList(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, collector.count())

	// Past the throttle window the pending change goes out.
	now = now.Add(6 * time.Second)
	svc.BroadcastBuddyList(context.Background())
	assert.Eventually(t, func() bool { return collector.count() == 2 }, time.Second, 10*time.Millisecond)
}

func TestService_StartAndShutdown(t *testing.T) {
	store := newFakeStore()
	h, _ := newTestHub(t)

	svc := NewService(store, h,
		WithSweepInterval(10*time.Millisecond),
		WithBuddyPollInterval(10*time.Millisecond))

	svc.Start()
	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.markStaleCalls >= 2
	}, time.Second, 5*time.Millisecond)

	svc.Shutdown()
	svc.Shutdown() // idempotent
}
