// Package relay is the queue-consuming entry point: it fetches messages,
// parses them into events, runs the processor, and acts on the decision.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Giftbit/internal-gutenberg/internal/domain"
	"github.com/Giftbit/internal-gutenberg/internal/observability"
	"github.com/Giftbit/internal-gutenberg/internal/processor"
	"github.com/Giftbit/internal-gutenberg/internal/queue"
)

// Config defines consumer parameters.
//
// Workers: number of concurrent message-processing goroutines.
// BatchSize: maximum messages to fetch per poll.
type Config struct {
	Workers   int
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Workers:   4,
		BatchSize: 10,
	}
}

// Processor decides the fate of one parsed event. Implemented by
// processor.Processor.
type Processor interface {
	Process(ctx context.Context, event domain.Event, firstSeen time.Time) (processor.Result, error)
}

// Consumer drives the fetch-process-act loop. Use NewConsumer to create,
// Start to begin processing, Stop for graceful shutdown.
type Consumer struct {
	config    Config
	client    queue.Client
	processor Processor
	logger    *slog.Logger
	metrics   *observability.Metrics

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewConsumer(config Config, client queue.Client, proc Processor, logger *slog.Logger) *Consumer {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Consumer{
		config:    config,
		client:    client,
		processor: proc,
		logger:    logger,
	}
}

// WithMetrics enables Prometheus metrics collection.
func (c *Consumer) WithMetrics(m *observability.Metrics) *Consumer {
	c.metrics = m
	return c
}

func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	c.logger.Info("relay consumer started", "workers", c.config.Workers)
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("relay consumer stopped")
}

func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			c.logger.Debug("relay worker shutting down", "worker_id", id)
			return
		}

		deliveries, err := c.client.Fetch(ctx, c.config.BatchSize)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				c.logger.Error("failed to fetch messages", "error", err, "worker_id", id)
				time.Sleep(time.Second)
			}
			continue
		}

		for _, delivery := range deliveries {
			if ctx.Err() != nil {
				return
			}
			c.handle(ctx, delivery)
		}
	}
}

// handle runs one message through the processor and acts on the decision.
//
// Decision mapping: Delete acks, Backoff re-hides the same message with the
// exponential full-jitter delay, Requeue sends the replacement BEFORE acking
// the old message so progress is never lost to a failed send.
func (c *Consumer) handle(ctx context.Context, delivery queue.Delivery) {
	msg := delivery.Message()
	logger := c.logger.With("message_id", msg.ID, "receive_count", msg.ReceiveCount)

	if c.metrics != nil {
		c.metrics.EventsProcessed.Inc()
	}

	event, err := queue.ParseEvent(msg)
	if err != nil {
		// Unparseable content can never succeed; drop it instead of
		// retrying forever.
		logger.Error("unprocessable message, dropping", "error", err)
		if c.metrics != nil {
			c.metrics.EventsRejected.Inc()
		}
		if err := delivery.Term(err.Error()); err != nil {
			logger.Error("failed to drop message", "error", err)
		}
		return
	}
	logger = logger.With("event_id", event.ID, "user_id", event.UserID)

	result, err := c.processor.Process(observability.ContextWithEventID(ctx, event.ID), event, msg.FirstSeen)
	if err != nil {
		if errors.Is(err, domain.ErrNonRetryable) {
			logger.Error("unprocessable event, dropping", "error", err)
			if c.metrics != nil {
				c.metrics.EventsRejected.Inc()
			}
			if err := delivery.Term(err.Error()); err != nil {
				logger.Error("failed to drop message", "error", err)
			}
			return
		}
		// Infrastructure trouble on our side. Back off and let the queue's
		// own retention be the ceiling; the retry budget only applies to
		// subscriber-side failures.
		logger.Error("event processing failed, backing off", "error", err)
		c.backoff(delivery, logger)
		return
	}

	switch result.Action {
	case processor.ActionDelete:
		if err := delivery.Ack(); err != nil {
			logger.Error("failed to delete message", "error", err)
		}
	case processor.ActionBackoff:
		c.backoff(delivery, logger)
	case processor.ActionRequeue:
		if err := c.client.Send(ctx, *result.NewMessage); err != nil {
			// The old message still holds the pre-pass state; backing it
			// off redelivers without losing anything.
			logger.Error("failed to send requeue message, backing off original", "error", err)
			c.backoff(delivery, logger)
			return
		}
		if err := delivery.Ack(); err != nil {
			logger.Error("failed to delete replaced message", "error", err)
		}
	}
}

func (c *Consumer) backoff(delivery queue.Delivery, logger *slog.Logger) {
	seconds := queue.BackoffSeconds(delivery.Message().ReceiveCount)
	logger.Info("backing off message", "delay_seconds", seconds)
	if err := delivery.Delay(time.Duration(seconds) * time.Second); err != nil {
		logger.Error("failed to back off message", "error", err)
	}
}
