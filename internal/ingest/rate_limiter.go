package ingest

import (
	"sync"
	"time"
)

// staleSweepThreshold bounds the alias map: once it grows past this, stale
// windows are swept on the next Allow call.
const staleSweepThreshold = 4096

type aliasWindow struct {
	start time.Time
	count int
}

// AliasRateLimiter enforces a fixed-window per-alias message limit. The
// limit is keyed by recipient alias, independent of any per-user limits, so
// a leaked alias cannot flood the pipeline. Windows are aligned to UTC
// boundaries of the configured duration.
type AliasRateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*aliasWindow

	now func() time.Time
}

// NewAliasRateLimiter creates a new alias rate limiter
func NewAliasRateLimiter(limit int, window time.Duration) *AliasRateLimiter {
	return &AliasRateLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*aliasWindow),
		now:     time.Now,
	}
}

// Allow reports whether one more message is admitted for the alias in the
// current window.
func (l *AliasRateLimiter) Allow(alias string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	windowStart := l.now().UTC().Truncate(l.window)

	if len(l.windows) > staleSweepThreshold {
		for key, w := range l.windows {
			if w.start.Before(windowStart) {
				delete(l.windows, key)
			}
		}
	}

	w, ok := l.windows[alias]
	if !ok || w.start.Before(windowStart) {
		l.windows[alias] = &aliasWindow{start: windowStart, count: 1}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}
