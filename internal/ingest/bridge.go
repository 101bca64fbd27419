// Package ingest bridges producer events from Kafka onto the dispatch
// queue. Offsets are committed only after the event is durably on the
// queue, so delivery is at-least-once; the dispatcher's delivered-id
// tracking absorbs the resulting duplicates.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Giftbit/internal-gutenberg/internal/domain"
	"github.com/Giftbit/internal-gutenberg/internal/observability"
	"github.com/Giftbit/internal-gutenberg/internal/queue"
)

// Config defines Kafka bridge parameters.
type Config struct {
	Brokers       []string
	Topic         string
	GroupID       string
	CommitTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		CommitTimeout: 5 * time.Second,
	}
}

// EventMessage is the JSON shape producers publish to the topic.
type EventMessage struct {
	SpecVersion string          `json:"specversion"`
	Type        string          `json:"type"`
	Source      string          `json:"source"`
	ID          string          `json:"id"`
	Time        time.Time       `json:"time"`
	UserID      string          `json:"userid"`
	Data        json.RawMessage `json:"data"`
}

// Bridge consumes producer events and forwards them to the dispatch queue.
type Bridge struct {
	config  Config
	reader  *kafka.Reader
	sender  queue.Sender
	logger  *slog.Logger
	metrics *observability.Metrics

	wg       sync.WaitGroup
	shutdown chan struct{}
	stopOnce sync.Once
}

func NewBridge(config Config, sender queue.Sender, logger *slog.Logger) *Bridge {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // commit only after the queue send succeeds
		StartOffset:    kafka.LastOffset,
	})

	return &Bridge{
		config:   config,
		reader:   reader,
		sender:   sender,
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

// WithMetrics enables ingest counters.
func (b *Bridge) WithMetrics(m *observability.Metrics) *Bridge {
	b.metrics = m
	return b
}

// Start begins forwarding messages.
func (b *Bridge) Start(ctx context.Context) {
	b.wg.Add(1)
	go b.run(ctx)
	b.logger.Info("ingest bridge started",
		"topic", b.config.Topic,
		"group", b.config.GroupID,
	)
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() { close(b.shutdown) })
	b.wg.Wait()
	if err := b.reader.Close(); err != nil {
		b.logger.Error("failed to close kafka reader", "error", err)
	}
	b.logger.Info("ingest bridge stopped")
}

func (b *Bridge) run(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.shutdown:
			return
		default:
		}

		readCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
		msg, err := b.reader.FetchMessage(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			b.logger.Error("failed to fetch message", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		b.forward(ctx, msg)
	}
}

// forward converts one Kafka message into a queue send. Malformed messages
// are committed and counted rather than retried; a queue send failure leaves
// the offset uncommitted so the message is redelivered.
func (b *Bridge) forward(ctx context.Context, msg kafka.Message) {
	if b.metrics != nil {
		b.metrics.IngestMessages.Inc()
	}

	event, err := parseEventMessage(msg.Value)
	if err != nil {
		b.logger.Error("rejecting malformed producer event",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		if b.metrics != nil {
			b.metrics.IngestRejected.Inc()
		}
		b.commit(ctx, msg)
		return
	}

	out, err := queue.NewOutbound(event, 0)
	if err != nil {
		b.logger.Error("failed to encode event for queue", "error", err, "event_id", event.ID)
		if b.metrics != nil {
			b.metrics.IngestRejected.Inc()
		}
		b.commit(ctx, msg)
		return
	}

	if err := b.sender.Send(ctx, out); err != nil {
		b.logger.Error("failed to enqueue event, will redeliver",
			"error", err,
			"event_id", event.ID,
		)
		return
	}

	b.logger.Debug("event enqueued", "event_id", event.ID, "event_type", event.Type, "user_id", event.UserID)
	b.commit(ctx, msg)
}

func parseEventMessage(value []byte) (domain.Event, error) {
	var raw EventMessage
	if err := json.Unmarshal(value, &raw); err != nil {
		return domain.Event{}, err
	}
	if raw.ID == "" {
		return domain.Event{}, errors.New("event id is required")
	}
	if raw.Type == "" {
		return domain.Event{}, errors.New("event type is required")
	}
	if raw.UserID == "" {
		return domain.Event{}, errors.New("event userid is required")
	}
	if len(raw.Data) == 0 || !json.Valid(raw.Data) {
		return domain.Event{}, errors.New("event data must be valid json")
	}

	event := domain.Event{
		SpecVersion:     raw.SpecVersion,
		Type:            raw.Type,
		Source:          raw.Source,
		ID:              raw.ID,
		Time:            raw.Time,
		UserID:          raw.UserID,
		DataContentType: domain.DataContentTypeJSON,
		Data:            raw.Data,
	}
	if event.SpecVersion == "" {
		event.SpecVersion = "1.0"
	}
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	return event, nil
}

func (b *Bridge) commit(ctx context.Context, msg kafka.Message) {
	commitCtx, cancel := context.WithTimeout(ctx, b.config.CommitTimeout)
	defer cancel()
	if err := b.reader.CommitMessages(commitCtx, msg); err != nil {
		b.logger.Error("failed to commit offset", "error", err, "offset", msg.Offset)
	}
}
