package http

import (
	"sync"
	"time"
)

// rateLimiter caps chat messages per connection over a fixed one-minute
// window. A zero limit disables limiting.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]*bucket
}

type bucket struct {
	count   int
	resetAt time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  time.Minute,
		buckets: make(map[string]*bucket),
	}
}

func (r *rateLimiter) allow(key string) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	b, ok := r.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{resetAt: now.Add(r.window)}
		r.buckets[key] = b
	}
	b.count++
	return b.count <= r.limit
}

// forget drops the bucket for a closed connection.
func (r *rateLimiter) forget(key string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.buckets, key)
	r.mu.Unlock()
}
