// Package dispatch implements the webhook fan-out engine.
//
// One dispatch pass takes an event and calls every active, matching webhook
// that has not already received it, partitioning the results:
//
//	event ──► directory (webhooks for owner)
//	            │ filter: active, not yet delivered, subscription matches
//	            ▼
//	      ┌───────────┐  ┌───────────┐  ┌───────────┐
//	      │ callback 1│  │ callback 2│  │ callback N │   (bounded workers)
//	      └─────┬─────┘  └─────┬─────┘  └─────┬──────┘
//	            └──────────────┼──────────────┘
//	                           ▼
//	        {deliveredWebhookIds, failedWebhookIds}
//
// Webhooks listed in the event's delivered set are never contacted again,
// which keeps retries idempotent for subscribers that already succeeded.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Giftbit/internal-gutenberg/internal/domain"
	"github.com/Giftbit/internal-gutenberg/internal/observability"
	"github.com/Giftbit/internal-gutenberg/internal/resilience"
	"github.com/Giftbit/internal-gutenberg/internal/signature"
)

// SignatureHeader carries the comma-joined HMAC digests on callback requests.
const SignatureHeader = "Lightrail-Signature"

// Directory lists an account's webhooks, with secrets decrypted for signing.
type Directory interface {
	ListWebhooks(ctx context.Context, userID string) ([]*domain.Webhook, error)
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config defines dispatcher parameters.
//
// Concurrency bounds the fan-out workers per event.
// CallDeadline is the hard per-callback budget; a hung subscriber is a
// failure, never a stall for the rest of the batch.
type Config struct {
	Concurrency  int
	CallDeadline time.Duration
}

func DefaultConfig() Config {
	return Config{
		Concurrency:  4,
		CallDeadline: 6 * time.Second,
	}
}

// Dispatcher fans events out to matching webhooks.
// Use New to create, then optionally WithMetrics and WithResilience.
type Dispatcher struct {
	config     Config
	directory  Directory
	httpClient HTTPClient
	logger     *slog.Logger
	metrics    *observability.Metrics

	rateLimiter    resilience.RateLimiter
	circuitBreaker resilience.CircuitBreaker
}

func New(config Config, directory Directory, httpClient HTTPClient, logger *slog.Logger) *Dispatcher {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.CallDeadline == 0 {
		config.CallDeadline = 6 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		config:     config,
		directory:  directory,
		httpClient: httpClient,
		logger:     logger,
	}
}

// WithMetrics enables Prometheus metrics collection.
func (d *Dispatcher) WithMetrics(m *observability.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// WithResilience enables per-destination rate limiting and circuit breaking.
// A throttled or short-circuited webhook counts as failed for this pass and
// retries through the normal state machine.
func (d *Dispatcher) WithResilience(rl resilience.RateLimiter, cb resilience.CircuitBreaker) *Dispatcher {
	d.rateLimiter = rl
	d.circuitBreaker = cb
	return d
}

// Dispatch performs one fan-out pass for the event.
//
// Events missing a UserID or Type cannot be processed at all; the returned
// error wraps domain.ErrNonRetryable and no network calls are made. Ordinary
// per-webhook failures never surface as errors - they land in the failed set.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.Event) (domain.DispatchResult, error) {
	if event.UserID == "" {
		return domain.DispatchResult{}, fmt.Errorf("event %s is missing a userId: %w", event.ID, domain.ErrNonRetryable)
	}
	if event.Type == "" {
		return domain.DispatchResult{}, fmt.Errorf("event %s is missing a type: %w", event.ID, domain.ErrNonRetryable)
	}

	webhooks, err := d.directory.ListWebhooks(ctx, event.UserID)
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("list webhooks for user %s: %w", event.UserID, err)
	}

	// Already-delivered and inactive webhooks are never contacted again;
	// non-matching webhooks are simply irrelevant to this event.
	var candidates []*domain.Webhook
	for _, webhook := range webhooks {
		if !webhook.Active || event.Delivered(webhook.ID) {
			continue
		}
		if !webhook.MatchesEvent(event.Type) {
			continue
		}
		candidates = append(candidates, webhook)
	}

	delivered := append([]string(nil), event.DeliveredWebhookIDs...)
	if len(candidates) == 0 {
		return domain.DispatchResult{DeliveredWebhookIDs: delivered, FailedWebhookIDs: []string{}}, nil
	}

	body, err := json.Marshal(event.PublicPayload())
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("marshal event %s payload: %w", event.ID, domain.ErrNonRetryable)
	}

	// One result slot per candidate; merged after all calls settle so the
	// aggregation needs no shared mutable state.
	outcomes := make([]bool, len(candidates))
	sem := make(chan struct{}, d.config.Concurrency)
	var wg sync.WaitGroup
	for i, webhook := range candidates {
		i, webhook := i, webhook
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = d.call(ctx, event, webhook, body)
		}()
	}
	wg.Wait()

	failed := []string{}
	for i, ok := range outcomes {
		if ok {
			delivered = append(delivered, candidates[i].ID)
		} else {
			failed = append(failed, candidates[i].ID)
		}
	}

	return domain.DispatchResult{DeliveredWebhookIDs: delivered, FailedWebhookIDs: failed}, nil
}

// call performs one callback attempt and reports whether delivery was
// acknowledged with a 2xx. Transport errors and timeouts are failures, not
// errors - they must not abort the fan-out of sibling webhooks.
func (d *Dispatcher) call(ctx context.Context, event domain.Event, webhook *domain.Webhook, body []byte) bool {
	if d.rateLimiter != nil {
		allowed, err := d.rateLimiter.Allow(ctx, webhook.ID)
		if err != nil {
			d.logger.Warn("rate limiter error", "error", err, "webhook_id", webhook.ID)
		}
		if !allowed {
			d.logger.Debug("webhook call rate limited", "webhook_id", webhook.ID, "event_id", event.ID)
			d.recordThrottled(webhook.ID)
			return false
		}
	}

	if d.circuitBreaker != nil {
		allowed, err := d.circuitBreaker.Allow(ctx, webhook.ID)
		if err != nil {
			d.logger.Warn("circuit breaker error", "error", err, "webhook_id", webhook.ID)
		}
		if !allowed {
			d.logger.Debug("circuit breaker open", "webhook_id", webhook.ID, "event_id", event.ID)
			d.recordThrottled(webhook.ID)
			return false
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.config.CallDeadline)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("failed to create callback request",
			"error", err,
			"webhook_id", webhook.ID,
			"event_id", event.ID,
		)
		d.recordOutcome(ctx, event.UserID, webhook.ID, false)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature.SignBytes(webhook.SigningSecrets(), body))

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if d.metrics != nil {
		d.metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		d.logger.Info("webhook call failed",
			"error", err,
			"webhook_id", webhook.ID,
			"event_id", event.ID,
		)
		d.recordOutcome(ctx, event.UserID, webhook.ID, false)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if ok {
		d.logger.Debug("webhook call succeeded",
			"webhook_id", webhook.ID,
			"event_id", event.ID,
			"status_code", resp.StatusCode,
		)
	} else {
		d.logger.Info("webhook returned non-2xx",
			"webhook_id", webhook.ID,
			"event_id", event.ID,
			"status_code", resp.StatusCode,
		)
	}
	d.recordOutcome(ctx, event.UserID, webhook.ID, ok)
	return ok
}

func (d *Dispatcher) recordOutcome(ctx context.Context, userID, webhookID string, ok bool) {
	if d.circuitBreaker != nil {
		if ok {
			d.circuitBreaker.RecordSuccess(ctx, webhookID)
		} else {
			d.circuitBreaker.RecordFailure(ctx, webhookID)
		}
	}
	if d.metrics == nil {
		return
	}
	if ok {
		d.metrics.WebhookCallSuccess.WithLabelValues(userID).Inc()
	} else {
		d.metrics.WebhookCallFailure.WithLabelValues(userID).Inc()
	}
}

func (d *Dispatcher) recordThrottled(webhookID string) {
	if d.metrics != nil {
		d.metrics.CallsThrottled.WithLabelValues(webhookID).Inc()
	}
}
