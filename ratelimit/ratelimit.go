package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sweepAt is the number of tracked keys above which idle buckets are dropped.
const sweepAt = 1024

// Limiter keeps a token bucket per key. Each bucket holds limit tokens and
// refills completely over window.
type Limiter struct {
	// Now is the time source; tests replace it.
	Now func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
	burst    int
}

func New(limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{
		Now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
		every:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
	}
}

// Allow takes one token from key's bucket.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.Now()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= sweepAt {
			l.sweep(now)
		}
		lim = rate.NewLimiter(l.every, l.burst)
		l.limiters[key] = lim
	}
	return lim.AllowN(now, 1)
}

// Len reports how many keys are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// sweep drops buckets that refilled completely, they carry no state.
func (l *Limiter) sweep(now time.Time) {
	for key, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, key)
		}
	}
}
