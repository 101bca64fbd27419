// Package resilience protects webhook destinations from overload and
// cascading failures.
//
// This package uses:
//   - golang.org/x/time/rate: token bucket rate limiter from the Go team.
//   - github.com/sony/gobreaker: circuit breaker implementation by Sony.
//   - github.com/redis/go-redis/v9: distributed rate limiting shared across
//     relay instances.
package resilience

import "context"

// RateLimiter limits outbound calls per webhook destination. Implementations
// may be in-memory (per process) or Redis-backed (shared across instances).
type RateLimiter interface {
	// Allow reports whether a call to the webhook may proceed right now.
	Allow(ctx context.Context, webhookID string) (bool, error)
}

// CircuitBreaker stops calls to destinations that keep failing.
type CircuitBreaker interface {
	// Allow reports whether the destination's breaker admits a call.
	Allow(ctx context.Context, webhookID string) (bool, error)
	// RecordSuccess feeds a successful call into the breaker.
	RecordSuccess(ctx context.Context, webhookID string) error
	// RecordFailure feeds a failed call into the breaker.
	RecordFailure(ctx context.Context, webhookID string) error
}
