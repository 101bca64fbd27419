package resilience

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterConfig defines the per-destination rate limiting parameters.
//
// RequestsPerSecond controls the steady-state rate of allowed calls.
// BurstSize allows temporary spikes above the rate limit.
type RateLimiterConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 10,
		BurstSize:         5,
	}
}

// LocalRateLimiter maintains one token bucket per webhook destination,
// lazily created. Each destination gets an independent limiter so one
// busy endpoint cannot starve deliveries to others.
type LocalRateLimiter struct {
	config   RateLimiterConfig
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
}

func NewLocalRateLimiter(config RateLimiterConfig) *LocalRateLimiter {
	return &LocalRateLimiter{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow implements RateLimiter.
func (l *LocalRateLimiter) Allow(ctx context.Context, webhookID string) (bool, error) {
	return l.limiter(webhookID).Allow(), nil
}

func (l *LocalRateLimiter) limiter(webhookID string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[webhookID]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring the write lock.
	if lim, ok = l.limiters[webhookID]; ok {
		return lim
	}
	lim = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstSize)
	l.limiters[webhookID] = lim
	return lim
}

// Remove deletes the limiter for a destination, freeing memory.
// Should be called when a webhook is deleted.
func (l *LocalRateLimiter) Remove(webhookID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, webhookID)
}
