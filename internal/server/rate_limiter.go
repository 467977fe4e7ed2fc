// Package server implements a per-client token bucket limiter that protects
// the shared message server from a single noisy caller.
package server

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL      = 10 * time.Minute
	limiterSweepEveryN  = 512
	unknownRateLimitKey = "unknown"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client key and evicts buckets that
// have been idle for limiterIdleTTL. A nil *rateLimiter allows everything.
type rateLimiter struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	byKey map[string]*limiterEntry
	hits  uint64
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.RequestsPerSecond <= 0 || cfg.Burst <= 0 {
		return nil
	}
	return &rateLimiter{
		limit: rate.Limit(cfg.RequestsPerSecond),
		burst: cfg.Burst,
		byKey: make(map[string]*limiterEntry),
	}
}

func (rl *rateLimiter) allow(key string, now time.Time) bool {
	if rl == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = unknownRateLimitKey
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	rl.hits++
	if rl.hits%limiterSweepEveryN == 0 {
		cutoff := now.Add(-limiterIdleTTL)
		for k, v := range rl.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(rl.byKey, k)
			}
		}
	}

	return allowed
}

func (rl *rateLimiter) size() int {
	if rl == nil {
		return 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.byKey)
}
