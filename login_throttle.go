package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const loginBucketTTL = 15 * time.Minute

// LoginThrottle is a token bucket per login key (normalized email)
type LoginThrottle struct {
	mu        sync.Mutex
	buckets   map[string]*loginBucket
	limit     rate.Limit
	burst     int
	lastSweep time.Time
	now       Clock
}

type loginBucket struct {
	lim *rate.Limiter
	ts  time.Time
}

// NewLoginThrottle allows burst attempts per key, refilled at perSecond.
// A non positive perSecond disables throttling.
func NewLoginThrottle(perSecond float64, burst int) *LoginThrottle {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &LoginThrottle{
		buckets: make(map[string]*loginBucket),
		limit:   limit,
		burst:   burst,
		now:     time.Now,
	}
}

// Allow consumes one attempt for key
func (t *LoginThrottle) Allow(key string) bool {
	if t == nil || t.limit == rate.Inf {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweep(now)

	b, ok := t.buckets[key]
	if !ok {
		b = &loginBucket{lim: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[key] = b
	}
	b.ts = now
	return b.lim.AllowN(now, 1)
}

// Reset forgets the attempts for key, called after a successful login
func (t *LoginThrottle) Reset(key string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	delete(t.buckets, key)
	t.mu.Unlock()
}

func (t *LoginThrottle) sweep(now time.Time) {
	if now.Sub(t.lastSweep) < time.Minute {
		return
	}
	t.lastSweep = now
	for k, b := range t.buckets {
		if now.Sub(b.ts) > loginBucketTTL {
			delete(t.buckets, k)
		}
	}
}
