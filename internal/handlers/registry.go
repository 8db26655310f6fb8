package handlers

import (
	"sync"
	"time"
)

// ConnectionRecord tracks one user's live push connection.
type ConnectionRecord struct {
	ConnectedAt  time.Time
	LastActivity time.Time

	// generation identifies which physical stream owns the record, so a
	// superseded stream's teardown cannot clobber its replacement.
	generation uint64
}

// ConnectionRegistry tracks at most one record per user ID. A second
// connection attempt for the same user replaces the tracked record rather
// than adding one — multiple physical streams may briefly exist, but tracked
// state reflects only the most recent. Each Connect hands back a generation
// token; Touch and Disconnect only act when the caller still owns the record.
type ConnectionRegistry struct {
	mu      sync.RWMutex
	records map[string]ConnectionRecord
	nextGen uint64
	now     func() time.Time
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		records: make(map[string]ConnectionRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Connect registers (or replaces) the record for a user. It returns the
// stream's generation token and reports whether an earlier record was
// replaced.
func (r *ConnectionRegistry) Connect(userID string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced := r.records[userID]
	r.nextGen++
	now := r.now()
	r.records[userID] = ConnectionRecord{
		ConnectedAt:  now,
		LastActivity: now,
		generation:   r.nextGen,
	}
	return r.nextGen, replaced
}

// Touch refreshes a user's LastActivity, if the caller's stream still owns
// the tracked record.
func (r *ConnectionRegistry) Touch(userID string, generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record, ok := r.records[userID]; ok && record.generation == generation {
		record.LastActivity = r.now()
		r.records[userID] = record
	}
}

// Disconnect drops a user's record, but only when the caller's stream still
// owns it — a stream that was replaced must not remove its replacement. It
// reports whether the record was actually removed.
func (r *ConnectionRegistry) Disconnect(userID string, generation uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[userID]
	if !ok || record.generation != generation {
		return false
	}
	delete(r.records, userID)
	return true
}

// Get returns the tracked record for a user.
func (r *ConnectionRegistry) Get(userID string) (ConnectionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[userID]
	return record, ok
}

// Count returns the number of tracked connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
