package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStream implementation of Client.
//
// Mapping onto the queue contract: Ack deletes the message, NakWithDelay is
// the visibility-timeout change, and Term drops unprocessable input.
// JetStream has no native per-message send delay, so delayed sends carry a
// not-before header; deliveries fetched early are re-hidden for the
// remainder and not handed to the consumer.
const notBeforeHeader = "Gutenberg-Not-Before"

// JetStreamConfig names the stream and durable consumer the relay uses.
type JetStreamConfig struct {
	Stream  string
	Subject string
	Durable string
	AckWait time.Duration
	MaxWait time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		Stream:  "GUTENBERG_EVENTS",
		Subject: "gutenberg.events",
		Durable: "gutenberg-relay",
		AckWait: 30 * time.Second,
		MaxWait: 5 * time.Second,
	}
}

type JetStreamClient struct {
	config   JetStreamConfig
	js       jetstream.JetStream
	consumer jetstream.Consumer
	logger   *slog.Logger
}

// NewJetStreamClient creates the stream and durable consumer if needed.
func NewJetStreamClient(ctx context.Context, nc *nats.Conn, config JetStreamConfig, logger *slog.Logger) (*JetStreamClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      config.Stream,
		Subjects:  []string{config.Subject},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", config.Stream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   config.Durable,
		AckPolicy: jetstream.AckExplicitPolicy,
		AckWait:   config.AckWait,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", config.Durable, err)
	}

	return &JetStreamClient{
		config:   config,
		js:       js,
		consumer: consumer,
		logger:   logger,
	}, nil
}

// Fetch implements Client.
func (c *JetStreamClient) Fetch(ctx context.Context, max int) ([]Delivery, error) {
	batch, err := c.consumer.Fetch(max, jetstream.FetchMaxWait(c.config.MaxWait))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var deliveries []Delivery
	now := time.Now()
	for msg := range batch.Messages() {
		meta, err := msg.Metadata()
		if err != nil {
			c.logger.Error("message without metadata", "error", err)
			_ = msg.Term()
			continue
		}

		// Honor delayed sends: re-hide messages that arrived early.
		if nb := msg.Headers().Get(notBeforeHeader); nb != "" {
			notBefore, err := time.Parse(time.RFC3339Nano, nb)
			if err == nil && notBefore.After(now) {
				if err := msg.NakWithDelay(notBefore.Sub(now)); err != nil {
					c.logger.Error("failed to re-hide delayed message", "error", err)
				}
				continue
			}
		}

		deliveries = append(deliveries, &jetStreamDelivery{
			msg: msg,
			message: Message{
				ID:           strconv.FormatUint(meta.Sequence.Stream, 10),
				Attributes:   headersToAttributes(msg.Headers()),
				Body:         msg.Data(),
				ReceiveCount: int(meta.NumDelivered),
				FirstSeen:    meta.Timestamp,
			},
		})
	}
	if err := batch.Error(); err != nil {
		return deliveries, fmt.Errorf("fetch batch: %w", err)
	}
	return deliveries, nil
}

// Send implements Client.
func (c *JetStreamClient) Send(ctx context.Context, out Outbound) error {
	header := nats.Header{}
	for k, v := range out.Attributes {
		header.Set(k, v)
	}
	if out.Delay > 0 {
		header.Set(notBeforeHeader, time.Now().Add(out.Delay).UTC().Format(time.RFC3339Nano))
	}

	_, err := c.js.PublishMsg(ctx, &nats.Msg{
		Subject: c.config.Subject,
		Header:  header,
		Data:    out.Body,
	})
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Ping reports queue connectivity for readiness checks.
func (c *JetStreamClient) Ping(ctx context.Context) error {
	_, err := c.js.Stream(ctx, c.config.Stream)
	return err
}

type jetStreamDelivery struct {
	msg     jetstream.Msg
	message Message
}

func (d *jetStreamDelivery) Message() Message { return d.message }

func (d *jetStreamDelivery) Ack() error { return d.msg.Ack() }

func (d *jetStreamDelivery) Delay(delay time.Duration) error {
	return d.msg.NakWithDelay(delay)
}

func (d *jetStreamDelivery) Term(reason string) error {
	return d.msg.TermWithReason(reason)
}

// NATS canonicalizes header keys MIME-style ("userid" becomes "Userid");
// attribute keys are lowercase on our side of the contract.
func headersToAttributes(h nats.Header) map[string]string {
	attrs := make(map[string]string, len(h))
	for k := range h {
		attrs[strings.ToLower(k)] = h.Get(k)
	}
	return attrs
}
