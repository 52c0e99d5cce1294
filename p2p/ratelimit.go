package p2p

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter bounds outbound publish throughput per channel (spec.md
// §4.6: "at most publish_rate per second per channel"), keyed the way the
// teacher's gateway/middleware.RateLimiter keys its per-IP buckets, reused
// here per Aleph channel instead of per client address.
type RateLimiter struct {
	perSecond float64
	burst     int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewRateLimiter builds a limiter at ratePerSecond per channel (config's
// p2p.publish_rate, default 50).
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 50
	}
	if burst <= 0 {
		burst = int(ratePerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{perSecond: ratePerSecond, burst: burst, buckets: make(map[string]*rate.Limiter)}
}

// Wait blocks until a publish to channel is permitted or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, channel string) error {
	return r.bucket(channel).Wait(ctx)
}

func (r *RateLimiter) bucket(channel string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[channel]
	if !ok {
		b = rate.NewLimiter(rate.Limit(r.perSecond), r.burst)
		r.buckets[channel] = b
	}
	return b
}
