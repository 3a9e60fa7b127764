// Package ratelimit implements fixed-window request throttling for the
// authentication endpoints. Counters are keyed by (route, client IP) so
// each sensitive route carries an independent budget per caller.
//
// The window algorithm is deliberately a fixed-window counter, not a
// sliding log: a caller can burst up to twice the configured rate across
// a window boundary, in exchange for O(1) memory per key and no timestamp
// history. Counters live in a CounterStore so deployments can swap the
// single-process in-memory store for a shared Redis store.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CounterStore is the storage contract for window counters. Incr bumps the
// counter for key, starting a fresh window if none is active, and returns
// the post-increment count together with the instant the window resets.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)
}

// Result is the outcome of a limit check.
type Result struct {
	// Allowed is false when the caller has exhausted the window budget.
	Allowed bool

	// Remaining is how many requests are left in the current window.
	Remaining int

	// RetryAfter is how long until the window resets. Only meaningful
	// when Allowed is false.
	RetryAfter time.Duration
}

// Limiter answers allow/deny decisions against a CounterStore.
type Limiter struct {
	store CounterStore
}

// New creates a Limiter backed by the given store.
func New(store CounterStore) *Limiter {
	return &Limiter{store: store}
}

// Check records one request for (route, ip) and reports whether it fits
// within maxAttempts per window. A failing counter store allows the
// request: throttling is abuse mitigation, not a correctness gate, and a
// store outage must not take authentication down with it.
func (l *Limiter) Check(ctx context.Context, route, ip string, maxAttempts int, window time.Duration) Result {
	key := Key(route, ip)

	count, resetAt, err := l.store.Incr(ctx, key, window)
	if err != nil {
		slog.Warn("rate limit store unavailable, allowing request",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return Result{Allowed: true, Remaining: maxAttempts}
	}

	if count > maxAttempts {
		retry := time.Until(resetAt)
		if retry < time.Second {
			retry = time.Second
		}
		return Result{Allowed: false, RetryAfter: retry}
	}

	return Result{Allowed: true, Remaining: maxAttempts - count}
}

// Key builds the composite counter key for a route and client IP. The
// separator keeps "login"+"1.2.3.4" distinct from "log"+"in1.2.3.4".
func Key(route, ip string) string {
	return fmt.Sprintf("ratelimit:%s:%s", route, ip)
}
