package token

import (
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v2"
)

// RateLimiter counts validations per caller inside a sliding TTL window.
// It owns a dedicated counter store, other subsystems cannot purge it and
// it cannot purge them.
type RateLimiter struct {
	counters *ttlcache.Cache
	limit    int
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	c := ttlcache.NewCache()
	c.SetTTL(window)
	c.SkipTTLExtensionOnHit(true)

	return &RateLimiter{
		counters: c,
		limit:    limit,
	}
}

// Allow increments the caller's counter and reports whether they are still
// inside their budget. A limit of zero disables the limiter.
func (r *RateLimiter) Allow(key string) bool {
	if r.limit <= 0 {
		return true
	}

	v, err := r.counters.Get(key)
	if err == ttlcache.ErrNotFound {
		n := &atomic.Int64{}
		n.Add(1)
		r.counters.Set(key, n)
		return true
	}
	if err != nil {
		return true
	}

	return v.(*atomic.Int64).Add(1) <= int64(r.limit)
}

// Reset clears one caller's counter.
func (r *RateLimiter) Reset(key string) {
	r.counters.Remove(key)
}

func (r *RateLimiter) Close() {
	r.counters.Close()
}
