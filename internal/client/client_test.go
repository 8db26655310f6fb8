package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hearthchat/hearth/internal/domain"
	"github.com/hearthchat/hearth/internal/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeMessage(id, userID, content string, at time.Time) domain.Message {
	return domain.Message{
		ID:        id,
		RoomID:    "room1",
		UserID:    userID,
		Content:   content,
		Type:      domain.MessageChat,
		CreatedAt: at,
	}
}

func TestClient_MergeDeduplicatesByID(t *testing.T) {
	c := New("http://example.invalid")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c.users["user1"] = domain.SafeUser{ID: "user1", Nickname: "alice"}

	c.mergeMessage(makeMessage("m1", "user1", "first", base))
	c.mergeMessage(makeMessage("m2", "user1", "second", base.Add(time.Second)))
	c.mergeMessage(makeMessage("m3", "user1", "third", base.Add(2*time.Second)))

	// Redelivery of m2: same ID, same timestamp. It must appear once, in
	// its original position.
	c.mergeMessage(makeMessage("m2", "user1", "second again", base.Add(time.Second)))

	msgs := c.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, "m3", msgs[2].ID)
	assert.Equal(t, "second again", msgs[1].Content)
}

func TestClient_MergeSortsOutOfOrderArrivals(t *testing.T) {
	c := New("http://example.invalid")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.users["user1"] = domain.SafeUser{ID: "user1"}

	c.mergeMessage(makeMessage("m3", "user1", "latest", base.Add(2*time.Second)))
	c.mergeMessage(makeMessage("m1", "user1", "earliest", base))
	c.mergeMessage(makeMessage("m2", "user1", "middle", base.Add(time.Second)))

	msgs := c.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestClient_MergeFetchesUnknownSender(t *testing.T) {
	var fetchCount struct {
		mu sync.Mutex
		n  int
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/user9" {
			http.NotFound(w, r)
			return
		}
		fetchCount.mu.Lock()
		fetchCount.n++
		fetchCount.mu.Unlock()
		json.NewEncoder(w).Encode(domain.SafeUser{ID: "user9", Nickname: "mystery", Status: domain.StatusOnline})
	}))
	defer srv.Close()

	c := New(srv.URL, WithHTTPClient(srv.Client()))
	base := time.Now().UTC()

	c.mergeMessage(makeMessage("m1", "user9", "hello", base))
	c.mergeMessage(makeMessage("m2", "user9", "again", base.Add(time.Second)))

	assert.Eventually(t, func() bool {
		u, ok := c.Users()["user9"]
		return ok && u.Nickname == "mystery"
	}, time.Second, 10*time.Millisecond)

	// The in-flight guard keeps concurrent merges from duplicating the fetch.
	fetchCount.mu.Lock()
	n := fetchCount.n
	fetchCount.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestClient_BuddyListHashGate(t *testing.T) {
	c := New("http://example.invalid")

	snapshot, err := json.Marshal([]domain.SafeUser{
		{ID: "user1", Nickname: "alice", Status: domain.StatusOnline},
		{ID: "user2", Nickname: "bob", Status: domain.StatusOnline},
	})
	require.NoError(t, err)

	c.applyBuddyList(snapshot)
	require.Len(t, c.Users(), 2)

	// A status patch arrives after the snapshot.
	c.applyStatusUpdate(hub.StatusUpdate{UserID: "user2", Status: domain.StatusAway})
	assert.Equal(t, domain.StatusAway, c.Users()["user2"].Status)

	// The identical snapshot is redelivered: the hash gate drops it, so the
	// patch is not clobbered back to online.
	c.applyBuddyList(snapshot)
	assert.Equal(t, domain.StatusAway, c.Users()["user2"].Status)

	// A genuinely different snapshot replaces the set.
	changed, err := json.Marshal([]domain.SafeUser{
		{ID: "user1", Nickname: "alice", Status: domain.StatusBusy},
	})
	require.NoError(t, err)
	c.applyBuddyList(changed)

	users := c.Users()
	assert.Len(t, users, 1)
	assert.Equal(t, domain.StatusBusy, users["user1"].Status)
}

func TestClient_StatusUpdateForUnknownUserIsHeld(t *testing.T) {
	c := New("http://example.invalid")
	c.applyStatusUpdate(hub.StatusUpdate{UserID: "ghost", Status: domain.StatusOnline})
	assert.Empty(t, c.Users())
}

func TestClient_EnrichedMessagesMemoized(t *testing.T) {
	c := New("http://example.invalid")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.users["user1"] = domain.SafeUser{ID: "user1", Nickname: "alice"}

	c.mergeMessage(makeMessage("m1", "user1", "hello", base))
	c.mergeMessage(makeMessage("m2", "user1", "world", base.Add(time.Second)))

	first := c.EnrichedMessages()
	require.Len(t, first, 2)
	require.NotNil(t, first[0].Sender)
	assert.Equal(t, "alice", first[0].Sender.Nickname)

	// No input change: the exact same backing array comes back.
	second := c.EnrichedMessages()
	assert.True(t, &first[0] == &second[0], "memoized view should be identical")

	// A new message invalidates the memo.
	c.mergeMessage(makeMessage("m3", "user1", "!", base.Add(2*time.Second)))
	third := c.EnrichedMessages()
	assert.Len(t, third, 3)
	assert.False(t, &first[0] == &third[0])
}

func TestClient_EnrichedMessagesRecomputedOnUserArrival(t *testing.T) {
	c := New("http://example.invalid")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c.mu.Lock()
	c.messages = append(c.messages, makeMessage("m1", "user1", "hello", base))
	c.mu.Unlock()

	first := c.EnrichedMessages()
	require.Len(t, first, 1)
	assert.Nil(t, first[0].Sender)

	// The sender record lands: the user-cache key set changed, so the view
	// recomputes and the hole fills in.
	c.mu.Lock()
	c.users["user1"] = domain.SafeUser{ID: "user1", Nickname: "alice"}
	c.mu.Unlock()

	second := c.EnrichedMessages()
	require.Len(t, second, 1)
	require.NotNil(t, second[0].Sender)
	assert.Equal(t, "alice", second[0].Sender.Nickname)
}

func TestClient_BackoffDoublesThenGivesUp(t *testing.T) {
	// A server that is already closed: every connect fails immediately.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	var delays struct {
		mu sync.Mutex
		ds []time.Duration
	}
	c := New(srv.URL,
		WithBackoff(time.Second, 16*time.Second, 5),
		WithSleepFunc(func(ctx context.Context, d time.Duration) error {
			delays.mu.Lock()
			delays.ds = append(delays.ds, d)
			delays.mu.Unlock()
			return nil
		}))

	c.SetCurrentUser(domain.SafeUser{ID: "user1", Nickname: "alice"}, "")

	assert.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, 5*time.Second, 10*time.Millisecond)

	delays.mu.Lock()
	defer delays.mu.Unlock()
	assert.Equal(t, []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}, delays.ds)

	err, _ := c.LastError()
	assert.Error(t, err)
}

func TestClient_ReinitializeResetsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL,
		WithBackoff(time.Second, 16*time.Second, 5),
		WithSleepFunc(func(ctx context.Context, d time.Duration) error { return nil }))

	c.SetCurrentUser(domain.SafeUser{ID: "user1"}, "")
	assert.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, 5*time.Second, 10*time.Millisecond)

	// After the terminal state only an explicit reinitialize resumes, with
	// the counter and delay back at their initial values.
	c.SetCurrentUser(domain.SafeUser{ID: "user1"}, "")
	assert.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, 5*time.Second, 10*time.Millisecond)

	c.Close()
}

func TestClient_StreamAppliesEvents(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := makeMessage("m1", "user1", "hello from stream", base)
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	buddies, err := json.Marshal([]domain.SafeUser{{ID: "user1", Nickname: "alice", Status: domain.StatusOnline}})
	require.NoError(t, err)

	streamDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, "data: Connected\n\n")
		flusher.Flush()
		fmt.Fprint(w, ": keepalive\n\n")
		flusher.Flush()
		fmt.Fprintf(w, "event: buddyListUpdate\ndata: %s\n\n", buddies)
		flusher.Flush()
		fmt.Fprintf(w, "event: chatMessage\ndata: %s\n\n", payload)
		flusher.Flush()
		<-streamDone
	}))
	defer srv.Close()
	defer close(streamDone)

	c := New(srv.URL, WithHTTPClient(srv.Client()))
	c.SetCurrentUser(domain.SafeUser{ID: "user2", Nickname: "bob"}, "")
	defer c.Close()

	assert.Eventually(t, func() bool { return c.State() == StateConnected }, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		msgs := c.Messages()
		return len(msgs) == 1 && msgs[0].ID == "m1"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		u, ok := c.Users()["user1"]
		return ok && u.Nickname == "alice"
	}, 2*time.Second, 10*time.Millisecond)

	enriched := c.EnrichedMessages()
	require.Len(t, enriched, 1)
	require.NotNil(t, enriched[0].Sender)
	assert.Equal(t, "alice", enriched[0].Sender.Nickname)
}

func TestClient_StreamRejectedWithRetryHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{"error": "Rate limit exceeded", "retryAfter": 30})
	}))
	defer srv.Close()

	c := New(srv.URL, WithHTTPClient(srv.Client()))
	err := c.stream(context.Background())
	require.Error(t, err)

	lastErr, retryAfter := c.LastError()
	assert.Error(t, lastErr)
	// The JSON body hint wins over the header.
	assert.Equal(t, 30*time.Second, retryAfter)
}

func TestClient_MalformedEventIsDropped(t *testing.T) {
	c := New("http://example.invalid")
	c.handleEvent(string(hub.EventChatMessage), []byte("{not json"))
	assert.Empty(t, c.Messages())

	c.handleEvent("someFutureEvent", []byte(`{}`))
	assert.Empty(t, c.Messages())
}
