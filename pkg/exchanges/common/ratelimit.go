package common

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter gates outbound exchange calls. Implementations may be swapped for
// venue-specific weight accounting.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// AccountLimiter keeps one token bucket per (account, venue) key so a burst
// against one account never starves its siblings.
type AccountLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
}

// NewAccountLimiter creates a limiter allowing rps requests per second with
// the given burst per key.
func NewAccountLimiter(rps float64, burst int) *AccountLimiter {
	return &AccountLimiter{
		buckets: make(map[string]*rate.Limiter),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
}

func (l *AccountLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[key] = b
	}
	return b
}

// Wait blocks until the key's bucket permits a call or ctx is done.
func (l *AccountLimiter) Wait(ctx context.Context, key string) error {
	return l.bucket(key).Wait(ctx)
}
