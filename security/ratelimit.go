package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxEntries      = 10000
	defaultIdleTimeout     = 30 * time.Minute
	defaultCleanupInterval = 5 * time.Minute
)

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per key. Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the bucket size per key.
	Burst int

	// MaxEntries bounds the number of tracked keys. The least recently used
	// key is evicted when full (default: 10000).
	MaxEntries int

	// IdleTimeout removes keys not seen for this long (default: 30m).
	IdleTimeout time.Duration

	// CleanupInterval is how often idle keys are swept (default: 5m).
	CleanupInterval time.Duration
}

type limiterEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter applies a token bucket per key, typically the client IP or
// client_id, with LRU eviction.
type RateLimiter struct {
	cfg    RateLimitConfig
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*list.Element
	lru      *list.List

	evictions int64
	cleanups  int64

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
// Callers must call Stop.
func NewRateLimiter(cfg RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	rl := &RateLimiter{
		cfg:      cfg,
		logger:   logger,
		limiters: make(map[string]*list.Element),
		lru:      list.New(),
		stop:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Enabled reports whether the limiter enforces anything.
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.cfg.RequestsPerSecond > 0
}

// Allow reports whether a request for key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	ok, _ := rl.Reserve(key)
	return ok
}

// Reserve reports whether a request for key may proceed and, if not, how
// long the caller should wait before retrying.
func (rl *RateLimiter) Reserve(key string) (bool, time.Duration) {
	if !rl.Enabled() {
		return true, 0
	}

	now := time.Now()
	lim := rl.limiterFor(key, now)

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	r.CancelAt(now)
	return false, delay
}

func (rl *RateLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.limiters[key]; ok {
		rl.lru.MoveToFront(elem)
		entry := elem.Value.(*limiterEntry)
		entry.lastAccess = now
		return entry.limiter
	}

	if len(rl.limiters) >= rl.cfg.MaxEntries {
		rl.evictOldest()
	}

	entry := &limiterEntry{
		key:        key,
		limiter:    rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst),
		lastAccess: now,
	}
	rl.limiters[key] = rl.lru.PushFront(entry)
	return entry.limiter
}

// evictOldest must be called with mu held.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*limiterEntry)
	delete(rl.limiters, entry.key)
	rl.lru.Remove(elem)
	rl.evictions++

	rl.logger.Debug("Rate limiter LRU eviction",
		"total_evictions", rl.evictions,
		"current_entries", len(rl.limiters))
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(rl.cfg.IdleTimeout)
		case <-rl.stop:
			return
		}
	}
}

// Cleanup removes keys idle for longer than maxIdle and returns how many
// were removed.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	removed := 0

	// Oldest entries are at the back; stop at the first active one.
	for elem := rl.lru.Back(); elem != nil; {
		entry := elem.Value.(*limiterEntry)
		if now.Sub(entry.lastAccess) <= maxIdle {
			break
		}
		prev := elem.Prev()
		delete(rl.limiters, entry.key)
		rl.lru.Remove(elem)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.cleanups++
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.limiters))
	}
	return removed
}

// Stop terminates the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	if rl == nil {
		return
	}
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// RateLimitStats holds limiter statistics.
type RateLimitStats struct {
	CurrentEntries int
	MaxEntries     int
	TotalEvictions int64
	TotalCleanups  int64
}

// Stats returns current limiter statistics.
func (rl *RateLimiter) Stats() RateLimitStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return RateLimitStats{
		CurrentEntries: len(rl.limiters),
		MaxEntries:     rl.cfg.MaxEntries,
		TotalEvictions: rl.evictions,
		TotalCleanups:  rl.cleanups,
	}
}
