// Package processor decides what happens to a queue message after a
// dispatch pass: delete it, back it off, or replace it with a copy carrying
// the delivery progress made so far.
//
// No state is stored between passes. Each invocation computes a single
// transition from the current event, this pass's dispatch outcome, and how
// long the message has been on the queue.
package processor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Giftbit/internal-gutenberg/internal/clock"
	"github.com/Giftbit/internal-gutenberg/internal/domain"
	"github.com/Giftbit/internal-gutenberg/internal/observability"
	"github.com/Giftbit/internal-gutenberg/internal/queue"
)

// RetryBudget is how long an event may keep failing to the same webhooks
// before it is dropped. Measured from the message's first-seen timestamp,
// not the event's own time, so expiry tracks queue dwell time.
const RetryBudget = 3 * 24 * time.Hour

// RequeueDelay is the send delay for messages carrying new delivery
// progress. Deliberately short: this path represents real progress that
// should resume promptly.
const RequeueDelay = 30 * time.Second

// Action is the decision for a processed message.
type Action int8

const (
	// ActionDelete removes the message: every matching webhook succeeded,
	// or the retry budget ran out.
	ActionDelete Action = iota
	// ActionBackoff delays redelivery of the existing message unchanged.
	ActionBackoff
	// ActionRequeue replaces the message with NewMessage, which carries the
	// grown delivered set. Send the new message BEFORE deleting the old one
	// or delivery progress is lost if the send fails.
	ActionRequeue
)

func (a Action) String() string {
	switch a {
	case ActionDelete:
		return "delete"
	case ActionBackoff:
		return "backoff"
	case ActionRequeue:
		return "requeue"
	default:
		return "unknown"
	}
}

// Result is the processor's sole output. NewMessage is set only for
// ActionRequeue.
type Result struct {
	Action     Action
	NewMessage *queue.Outbound
}

// Sender performs one fan-out pass. Implemented by dispatch.Dispatcher.
type Sender interface {
	Dispatch(ctx context.Context, event domain.Event) (domain.DispatchResult, error)
}

// Processor runs the dispatch-then-decide transition for one message.
type Processor struct {
	sender  Sender
	clock   clock.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

func New(sender Sender, clk clock.Clock, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Processor{
		sender: sender,
		clock:  clk,
		logger: logger,
	}
}

// WithMetrics enables Prometheus metrics collection.
func (p *Processor) WithMetrics(m *observability.Metrics) *Processor {
	p.metrics = m
	return p
}

// Process dispatches the event and decides the message's fate.
//
// The event itself is never mutated: on partial progress a brand-new event
// copy and send request are constructed and handed back to the caller.
// Errors from the dispatch pass (unprocessable input, directory outage)
// propagate unchanged; the caller classifies them with errors.Is.
func (p *Processor) Process(ctx context.Context, event domain.Event, firstSeen time.Time) (Result, error) {
	result, err := p.sender.Dispatch(ctx, event)
	if err != nil {
		return Result{}, err
	}

	if len(result.FailedWebhookIDs) == 0 {
		// All matching webhooks succeeded, or none matched.
		p.count(func(m *observability.Metrics) { m.EventsDeleted.Inc() })
		return Result{Action: ActionDelete}, nil
	}

	if domain.SameIDSet(result.DeliveredWebhookIDs, event.DeliveredWebhookIDs) {
		// The exact same webhooks are still failing; no progress this pass.
		if p.clock.Now().Sub(firstSeen) > RetryBudget {
			p.logger.Warn("retry budget exhausted, dropping event",
				"event_id", event.ID,
				"user_id", event.UserID,
				"failed_webhook_ids", result.FailedWebhookIDs,
			)
			p.count(func(m *observability.Metrics) { m.EventsExpired.Inc() })
			return Result{Action: ActionDelete}, nil
		}
		p.count(func(m *observability.Metrics) { m.EventsBackedOff.Inc() })
		return Result{Action: ActionBackoff}, nil
	}

	// The delivered set grew. Replace the message so already-successful
	// webhooks are not contacted on the next attempt.
	next := event.WithDeliveredWebhookIDs(result.DeliveredWebhookIDs)
	out, err := queue.NewOutbound(next, RequeueDelay)
	if err != nil {
		return Result{}, fmt.Errorf("build requeue message for event %s: %w", event.ID, err)
	}
	p.logger.Info("partial delivery, requeueing with progress",
		"event_id", event.ID,
		"user_id", event.UserID,
		"delivered_webhook_ids", next.DeliveredWebhookIDs,
		"failed_webhook_ids", result.FailedWebhookIDs,
	)
	p.count(func(m *observability.Metrics) { m.EventsRequeued.Inc() })
	return Result{Action: ActionRequeue, NewMessage: &out}, nil
}

func (p *Processor) count(fn func(*observability.Metrics)) {
	if p.metrics != nil {
		fn(p.metrics)
	}
}
