package rate

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryLimiter is a fixed-window counter per principal, for deployments
// without redis. Expired windows are swept lazily, at most once per window.
type MemoryLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	windows     map[common.Address]*window
	lastCleanup time.Time
}

type window struct {
	count int
	reset time.Time
}

func NewMemory(limit int, windowLen time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:       limit,
		window:      windowLen,
		windows:     map[common.Address]*window{},
		lastCleanup: time.Now(),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, principal common.Address, now time.Time) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= l.window {
		for p, w := range l.windows {
			if now.After(w.reset) {
				delete(l.windows, p)
			}
		}
		l.lastCleanup = now
	}

	w, ok := l.windows[principal]
	if !ok || now.After(w.reset) {
		l.windows[principal] = &window{count: 1, reset: now.Add(l.window)}
		return true, 0, nil
	}

	if w.count >= l.limit {
		retryAfter := w.reset.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}

	w.count++
	return true, 0, nil
}
