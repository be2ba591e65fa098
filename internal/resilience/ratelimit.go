package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// UserLimiter is a per-key (per-user) token-bucket rate limiter built on
// golang.org/x/time/rate, generalizing the teacher's hand-rolled
// internal/ratelimit.Limiter bucket map to the ecosystem's standard
// limiter while preserving its keyed-map-with-pruning shape.
type UserLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*entry
	rps       rate.Limit
	burst     int
	maxKeys   int
	idleAfter time.Duration
}

type entry struct {
	limiter    *rate.Limiter
	lastSeenAt time.Time
}

// NewUserLimiter builds a limiter allowing ratePerMinute requests per
// minute per key, with the given burst size.
func NewUserLimiter(ratePerMinute int, burst int) *UserLimiter {
	if ratePerMinute <= 0 {
		ratePerMinute = 100
	}
	if burst <= 0 {
		burst = ratePerMinute
	}
	return &UserLimiter{
		limiters:  make(map[string]*entry),
		rps:       rate.Limit(float64(ratePerMinute) / 60.0),
		burst:     burst,
		maxKeys:   10000,
		idleAfter: 10 * time.Minute,
	}
}

// Allow reports whether key (typically a user id) may proceed right now,
// consuming one token if so.
func (l *UserLimiter) Allow(key string) bool {
	return l.get(key).limiter.Allow()
}

func (l *UserLimiter) get(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.limiters[key]; ok {
		e.lastSeenAt = time.Now()
		return e
	}
	if len(l.limiters) >= l.maxKeys {
		l.pruneLocked()
	}
	e := &entry{limiter: rate.NewLimiter(l.rps, l.burst), lastSeenAt: time.Now()}
	l.limiters[key] = e
	return e
}

// pruneLocked evicts entries idle longer than idleAfter. Caller holds mu.
func (l *UserLimiter) pruneLocked() {
	cutoff := time.Now().Add(-l.idleAfter)
	for k, e := range l.limiters {
		if e.lastSeenAt.Before(cutoff) {
			delete(l.limiters, k)
		}
	}
}
