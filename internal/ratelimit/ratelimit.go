// Package ratelimit enforces per-exchange request budgets with shared
// token buckets.
package ratelimit

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

// ErrTimeout is returned when the caller's context expires before a
// token becomes available.
var ErrTimeout = errors.New("rate limit: timed out waiting for token")

// Registry holds one token bucket per exchange. All concurrent callers
// hitting the same exchange share a single bucket.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRegistry creates an empty limiter registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*rate.Limiter)}
}

// Configure sets the budget for an exchange. Reconfiguring replaces the
// bucket; in-flight waiters keep the old one.
func (r *Registry) Configure(exchange string, requestsPerSecond float64, burst int) {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[exchange] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

func (r *Registry) limiter(exchange string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[exchange]
	if !ok {
		// Unknown exchanges get a conservative default budget.
		l = rate.NewLimiter(rate.Limit(1), 1)
		r.limiters[exchange] = l
	}
	return l
}

// Acquire blocks until a token is available for the exchange or the
// context is done. Deadline expiry surfaces as ErrTimeout; caller
// cancellation surfaces as context.Canceled so it is never mistaken
// for a rate-limit stall.
func (r *Registry) Acquire(ctx context.Context, exchange string) error {
	if err := r.limiter(exchange).Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return ErrTimeout
	}
	return nil
}
