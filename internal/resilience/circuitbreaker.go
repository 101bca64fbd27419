package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerConfig defines the breaker behavior per destination.
//
// MaxRequests is the number of probe requests allowed in half-open state.
// Interval is the cyclic period for clearing counts while closed.
// Timeout is how long to stay open before probing again.
// FailureRatio trips the breaker once MinRequests have been observed.
type CircuitBreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:  5,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

// LocalCircuitBreaker maintains one gobreaker per webhook destination so a
// permanently-down endpoint is short-circuited without affecting deliveries
// to healthy ones. Success and failure are fed in explicitly because the
// dispatcher classifies outcomes by HTTP status, not by returned error.
type LocalCircuitBreaker struct {
	config   CircuitBreakerConfig
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
	pending  map[string][]func(bool)
	mu       sync.Mutex
}

func NewLocalCircuitBreaker(config CircuitBreakerConfig) *LocalCircuitBreaker {
	return &LocalCircuitBreaker{
		config:   config,
		breakers: make(map[string]*gobreaker.TwoStepCircuitBreaker),
		pending:  make(map[string][]func(bool)),
	}
}

func (l *LocalCircuitBreaker) breaker(webhookID string) *gobreaker.TwoStepCircuitBreaker {
	if cb, ok := l.breakers[webhookID]; ok {
		return cb
	}
	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        webhookID,
		MaxRequests: l.config.MaxRequests,
		Interval:    l.config.Interval,
		Timeout:     l.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < l.config.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= l.config.FailureRatio
		},
	})
	l.breakers[webhookID] = cb
	return cb
}

// Allow implements CircuitBreaker. A successful Allow reserves one outcome
// slot that the next RecordSuccess or RecordFailure for the destination
// consumes.
func (l *LocalCircuitBreaker) Allow(ctx context.Context, webhookID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	done, err := l.breaker(webhookID).Allow()
	if err != nil {
		return false, nil
	}
	l.pending[webhookID] = append(l.pending[webhookID], done)
	return true, nil
}

// RecordSuccess implements CircuitBreaker.
func (l *LocalCircuitBreaker) RecordSuccess(ctx context.Context, webhookID string) error {
	l.settle(webhookID, true)
	return nil
}

// RecordFailure implements CircuitBreaker.
func (l *LocalCircuitBreaker) RecordFailure(ctx context.Context, webhookID string) error {
	l.settle(webhookID, false)
	return nil
}

func (l *LocalCircuitBreaker) settle(webhookID string, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slots := l.pending[webhookID]
	if len(slots) == 0 {
		return
	}
	done := slots[0]
	l.pending[webhookID] = slots[1:]
	done(success)
}

// State returns the breaker state for a destination, for metrics and tests.
func (l *LocalCircuitBreaker) State(webhookID string) gobreaker.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.breaker(webhookID).State()
}
