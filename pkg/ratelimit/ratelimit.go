// Package ratelimit provides fixed-window request rate limiting over a
// pluggable counter store, with in-memory and Redis-backed implementations
// and chi-compatible HTTP middleware.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidLimit    = errors.New("invalid limit")
	ErrInvalidInterval = errors.New("invalid interval")
	ErrKeyRequired     = errors.New("key is required")
	ErrStoreRequired   = errors.New("store is required")
)

// Result contains the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Limit is the maximum number of requests allowed in the window.
	Limit int

	// Remaining is the number of requests remaining in the current window.
	Remaining int

	// ResetAt is the time when the rate limit window resets.
	ResetAt time.Time
}

// RetryAfter returns how long to wait before the next request is allowed.
// Returns 0 if the current request was allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed {
		return 0
	}
	return time.Until(r.ResetAt)
}

// Store defines the counter storage backend.
type Store interface {
	// IncrementAndGet atomically increments the counter for the given key
	// and returns the new value along with the remaining window TTL.
	IncrementAndGet(ctx context.Context, key string, window time.Duration) (current int64, ttl time.Duration, err error)
}

// Limiter enforces a fixed-window limit of requests per key.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

// New creates a fixed-window limiter.
func New(store Store, limit int, window time.Duration) (*Limiter, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if window <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Limiter{store: store, limit: limit, window: window}, nil
}

// Allow checks if a single request is allowed for the given key and, if so,
// consumes one slot.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}

	current, ttl, err := l.store.IncrementAndGet(ctx, key, l.window)
	if err != nil {
		return nil, err
	}

	return &Result{
		Allowed:   current <= int64(l.limit),
		Limit:     l.limit,
		Remaining: max(0, l.limit-int(current)),
		ResetAt:   time.Now().Add(ttl),
	}, nil
}
