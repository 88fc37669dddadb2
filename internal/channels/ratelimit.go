package channels

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxTrackedKeys caps the number of tracked recipients so a stream of
// distinct recipients cannot grow the limiter table without bound.
const maxTrackedKeys = 4096

// Throttle paces outbound platform calls per key with a token bucket.
// Safe for concurrent use.
type Throttle struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters *lru.Cache[string, *rate.Limiter]
}

// NewThrottle allows perSecond calls per key with the given burst.
// perSecond <= 0 returns nil, which never throttles.
func NewThrottle(perSecond float64, burst int) *Throttle {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	cache, _ := lru.New[string, *rate.Limiter](maxTrackedKeys)
	return &Throttle{limit: rate.Limit(perSecond), burst: burst, limiters: cache}
}

func (t *Throttle) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.limiters.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(t.limit, t.burst)
	t.limiters.Add(key, l)
	return l
}

// Allow reports whether a call for key may proceed now.
func (t *Throttle) Allow(key string) bool {
	if t == nil {
		return true
	}
	return t.limiter(key).Allow()
}

// Wait blocks until a call for key may proceed or ctx is done. It fails
// immediately when ctx's deadline would pass before a token is available.
func (t *Throttle) Wait(ctx context.Context, key string) error {
	if t == nil {
		return nil
	}
	return t.limiter(key).Wait(ctx)
}

// Len returns the number of tracked keys.
func (t *Throttle) Len() int {
	if t == nil {
		return 0
	}
	return t.limiters.Len()
}
