/*
Copyright 2026 The gemcore Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dimkr/gemcore/cfg"
	"github.com/dimkr/gemcore/gemini"
)

// bucket is a per-IP token bucket: tokens accrue at refillRate per
// second up to capacity, and every request spends one.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

// RateLimiter enforces a per-IP token bucket, with a background
// goroutine that periodically evicts buckets idle for longer than
// RateLimitBucketTTL so memory use tracks active clients, not every
// IP ever seen. Grounded on the same goroutine-per-background-task
// shape the engine's accept loop uses: one goroutine, torn down when
// its context is canceled.
type RateLimiter struct {
	capacity   float64
	refillRate float64
	ttl        time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	wg sync.WaitGroup
}

// NewRateLimiter starts the background sweep goroutine, stopped when
// ctx is canceled.
func NewRateLimiter(ctx context.Context, c *cfg.Config) *RateLimiter {
	rl := &RateLimiter{
		capacity:   c.RateLimitCapacity,
		refillRate: c.RateLimitRefillRate,
		ttl:        c.RateLimitBucketTTL,
		buckets:    make(map[string]*bucket),
	}

	rl.wg.Go(func() {
		rl.sweep(ctx, c.RateLimitSweepPeriod)
	})

	return rl
}

// Wait blocks until the background sweep goroutine has exited,
// for tests and clean process shutdown.
func (rl *RateLimiter) Wait() {
	rl.wg.Wait()
}

func (rl *RateLimiter) sweep(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.mu.Lock()
			for ip, b := range rl.buckets {
				if now.Sub(b.lastSeen) > rl.ttl {
					delete(rl.buckets, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow reports whether clientIP has a token available, spending one
// if so.
func (rl *RateLimiter) Allow(clientIP string) bool {
	allowed, _ := rl.allow(clientIP)
	return allowed
}

// allow is [Allow], plus the number of whole seconds clientIP must
// wait before its bucket next holds a token, for the 44 response's
// retry-after hint (spec.md §4.5.2 step 4). retryAfter is meaningless
// when allowed is true.
func (rl *RateLimiter) allow(clientIP string) (allowed bool, retryAfter int) {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[clientIP]
	if !ok {
		b = &bucket{tokens: rl.capacity, lastRefill: now}
		rl.buckets[clientIP] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = min(rl.capacity, b.tokens+elapsed*rl.refillRate)
	b.lastRefill = now
	b.lastSeen = now

	if b.tokens < 1 {
		if rl.refillRate > 0 {
			retryAfter = int(math.Ceil((1 - b.tokens) / rl.refillRate))
		}
		return false, retryAfter
	}

	b.tokens--
	return true, 0
}

// Middleware returns the [Middleware] that enforces rl, responding
// with a 44 SLOW DOWN status and a retry-after hint when a client has
// exhausted its tokens.
func (rl *RateLimiter) Middleware() Middleware {
	return func(next gemini.Handler) gemini.Handler {
		return gemini.HandlerFunc(func(ctx context.Context, req *gemini.Request, clientIP string) *gemini.Response {
			allowed, retryAfter := rl.allow(clientIP)
			if !allowed {
				return &gemini.Response{Status: 44, Meta: fmt.Sprintf("Rate limit exceeded; retry after %d seconds", retryAfter)}
			}
			return next.Handle(ctx, req, clientIP)
		})
	}
}
