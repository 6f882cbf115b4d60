package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	last     time.Time
	now      func() time.Time
}

// NewTokenBucket creates a full bucket refilling at rate tokens per second.
func NewTokenBucket(rate, capacity int) *TokenBucket {
	return newTokenBucket(rate, capacity, time.Now)
}

func newTokenBucket(rate, capacity int, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:   float64(capacity),
		capacity: float64(capacity),
		rate:     float64(rate),
		last:     now(),
		now:      now,
	}
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.last).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.last = now
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// full reports whether the bucket has refilled completely, i.e. it carries no state.
func (tb *TokenBucket) full() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens >= tb.capacity
}

// Keyed holds one bucket per key (remote IP, identifier). A Keyed with a
// non-positive rate allows everything; a nil *Keyed does too.
type Keyed struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	rate    int
	burst   int
	now     func() time.Time
}

func NewKeyed(rate, burst int) *Keyed {
	return newKeyed(rate, burst, time.Now)
}

func newKeyed(rate, burst int, now func() time.Time) *Keyed {
	if burst < 1 {
		burst = 1
	}
	return &Keyed{buckets: make(map[string]*TokenBucket), rate: rate, burst: burst, now: now}
}

// Enabled reports whether the limiter ever denies.
func (k *Keyed) Enabled() bool { return k != nil && k.rate > 0 }

// Allow consumes a token from key's bucket.
func (k *Keyed) Allow(key string) bool {
	if !k.Enabled() {
		return true
	}
	k.mu.Lock()
	b, ok := k.buckets[key]
	if !ok {
		b = newTokenBucket(k.rate, k.burst, k.now)
		k.buckets[key] = b
	}
	k.mu.Unlock()
	return b.Allow()
}

// Forget drops key's bucket.
func (k *Keyed) Forget(key string) {
	if !k.Enabled() {
		return
	}
	k.mu.Lock()
	delete(k.buckets, key)
	k.mu.Unlock()
}

// Prune drops buckets that have refilled completely and returns how many went.
func (k *Keyed) Prune() int {
	if !k.Enabled() {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for key, b := range k.buckets {
		if b.full() {
			delete(k.buckets, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	if k == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
