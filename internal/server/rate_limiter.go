// Package server implements a token bucket rate limiter for per-connection
// throttling that protects rooms from floods.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter allows Burst frames at once and refills the bucket at Burst
// tokens per RefillInterval.
type rateLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	burst, interval := cfg.Burst, cfg.RefillInterval
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(burst)/interval.Seconds()), burst),
		now:     time.Now,
	}
}

func (rl *rateLimiter) allow() bool {
	return rl.limiter.AllowN(rl.now(), 1)
}
