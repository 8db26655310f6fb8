package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Class identifies an endpoint budget. Each class carries its own
// (points, window) pair; sse additionally splits its budget by whether the
// caller is authenticated.
type Class string

const (
	ClassAuth      Class = "auth"
	ClassPublic    Class = "public"
	ClassProtected Class = "protected"
	ClassSSE       Class = "sse"
)

// Budget is the admission budget for one endpoint class: at most Points
// requests inside any Window.
type Budget struct {
	Points int
	Window time.Duration
}

// Budgets holds the per-class configuration.
type Budgets struct {
	Auth      Budget
	Public    Budget
	Protected Budget
	// SSE budgets differ by authentication state: authenticated clients are
	// expected to reconnect, anonymous ones get a tighter allowance.
	SSEAuthenticated Budget
	SSEAnonymous     Budget
}

// DefaultBudgets mirrors the production configuration.
func DefaultBudgets() Budgets {
	return Budgets{
		Auth:             Budget{Points: 5, Window: time.Minute},
		Public:           Budget{Points: 60, Window: time.Minute},
		Protected:        Budget{Points: 120, Window: time.Minute},
		SSEAuthenticated: Budget{Points: 10, Window: time.Minute},
		SSEAnonymous:     Budget{Points: 3, Window: time.Minute},
	}
}

// Result is the outcome of an admission check. RetryAfter is only set on
// rejection: the time until the oldest retained request exits the window.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// windowKey scopes one timestamp list to a (source, class, auth) triple.
type windowKey struct {
	source        string
	class         Class
	authenticated bool
}

// Limiter is a sliding-window admission controller. All state is in-process;
// a single mutex is sufficient at this scale. Check never panics: internal
// inconsistencies degrade to "allow" only when FailOpen is set.
type Limiter struct {
	mu      sync.Mutex
	windows map[windowKey][]time.Time
	budgets Budgets

	// FailOpen makes an unconfigured class admit instead of reject. Off by
	// default; enabling it is an explicit operational decision.
	failOpen bool

	sweepInterval time.Duration
	stopSweep     chan struct{}
	stopOnce      sync.Once
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithFailOpen makes gate failures (unknown class, zero budget) admit
// instead of reject.
func WithFailOpen() Option {
	return func(l *Limiter) {
		l.failOpen = true
	}
}

// WithSweepInterval overrides the idle-key purge interval.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) {
		l.sweepInterval = d
	}
}

// WithClock overrides the limiter's time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a Limiter and starts its background sweep.
func New(budgets Budgets, opts ...Option) *Limiter {
	l := &Limiter{
		windows:       make(map[windowKey][]time.Time),
		budgets:       budgets,
		sweepInterval: time.Minute,
		stopSweep:     make(chan struct{}),
		logger:        slog.Default().With("service", "ratelimit"),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}

	go l.sweepLoop()
	return l
}

// Check gates one request from sourceKey against the budget for class.
// Admitted requests are recorded; rejected ones are not.
func (l *Limiter) Check(sourceKey string, class Class, isAuthenticated bool) Result {
	budget, ok := l.budget(class, isAuthenticated)
	if !ok || budget.Points <= 0 || budget.Window <= 0 {
		if l.failOpen {
			l.logger.Warn("No budget for endpoint class, admitting (fail-open)", "class", class)
			return Result{Allowed: true}
		}
		l.logger.Warn("No budget for endpoint class, rejecting", "class", class)
		return Result{Allowed: false, RetryAfter: time.Second}
	}

	key := windowKey{source: sourceKey, class: class, authenticated: isAuthenticated}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	retained := trimWindow(l.windows[key], now, budget.Window)

	if len(retained) >= budget.Points {
		l.windows[key] = retained
		// The slot frees up when the oldest retained request leaves the window.
		retryAfter := budget.Window - now.Sub(retained[0])
		if retryAfter <= 0 {
			retryAfter = time.Millisecond
		}
		return Result{Allowed: false, RetryAfter: retryAfter}
	}

	l.windows[key] = append(retained, now)
	return Result{Allowed: true}
}

// Close stops the background sweep.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() {
		close(l.stopSweep)
	})
}

func (l *Limiter) budget(class Class, isAuthenticated bool) (Budget, bool) {
	switch class {
	case ClassAuth:
		return l.budgets.Auth, true
	case ClassPublic:
		return l.budgets.Public, true
	case ClassProtected:
		return l.budgets.Protected, true
	case ClassSSE:
		if isAuthenticated {
			return l.budgets.SSEAuthenticated, true
		}
		return l.budgets.SSEAnonymous, true
	}
	return Budget{}, false
}

// trimWindow drops timestamps older than window relative to now. Lists are
// append-only and ordered, so the first retained index is a linear scan from
// the front.
func trimWindow(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}

// sweepLoop periodically purges source keys with no timestamp newer than the
// largest configured window, bounding memory for one-shot sources.
func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stopSweep:
			return
		}
	}
}

func (l *Limiter) sweep() {
	maxWindow := l.largestWindow()
	cutoff := l.now().Add(-maxWindow)

	l.mu.Lock()
	defer l.mu.Unlock()

	purged := 0
	for key, stamps := range l.windows {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.windows, key)
			purged++
		}
	}
	if purged > 0 {
		l.logger.Debug("Purged idle rate limit windows", "purged", purged, "remaining", len(l.windows))
	}
}

func (l *Limiter) largestWindow() time.Duration {
	max := time.Duration(0)
	for _, b := range []Budget{
		l.budgets.Auth,
		l.budgets.Public,
		l.budgets.Protected,
		l.budgets.SSEAuthenticated,
		l.budgets.SSEAnonymous,
	} {
		if b.Window > max {
			max = b.Window
		}
	}
	return max
}

// TrackedKeys returns the number of live (source, class) windows.
func (l *Limiter) TrackedKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
