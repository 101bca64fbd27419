// Package queue defines the durable event queue contract: the message
// attribute codec, the backoff policy, and the abstract client the relay
// consumes. The queue is at-least-once and replace-only - a message cannot
// be updated in place, so delivery progress travels by sending a new message
// and deleting the old one.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Giftbit/internal-gutenberg/internal/domain"
)

// Message attribute keys. These match the wire shape producers use.
const (
	AttrSpecVersion         = "specversion"
	AttrType                = "type"
	AttrSource              = "source"
	AttrID                  = "id"
	AttrTime                = "time"
	AttrUserID              = "userid"
	AttrDataContentType     = "datacontenttype"
	AttrDeliveredWebhookIDs = "deliveredwebhookids"
)

// Message is one received queue message.
type Message struct {
	// ID is the transport's message identifier, used for log correlation.
	ID string

	// Attributes carry the event envelope; the body carries the data payload.
	Attributes map[string]string
	Body       []byte

	// ReceiveCount is how many times this message has been delivered,
	// including this delivery. Drives the backoff ceiling.
	ReceiveCount int

	// FirstSeen is when the message was first enqueued. The retry budget is
	// measured from here, not from the event's own time, so expiry tracks
	// queue dwell time.
	FirstSeen time.Time
}

// Outbound is a send request for a new queue message.
type Outbound struct {
	Attributes map[string]string
	Body       []byte
	Delay      time.Duration
}

// ParseEvent reconstructs the event from a queue message. Messages with a
// wrong content type, a missing userid or type, or an unparseable body are
// unprocessable: the returned error wraps domain.ErrNonRetryable and the
// caller must delete the message rather than retry it.
func ParseEvent(msg Message) (domain.Event, error) {
	if ct := msg.Attributes[AttrDataContentType]; ct != domain.DataContentTypeJSON {
		return domain.Event{}, fmt.Errorf("message %s datacontenttype must be %q, got %q: %w",
			msg.ID, domain.DataContentTypeJSON, ct, domain.ErrNonRetryable)
	}
	if msg.Attributes[AttrUserID] == "" {
		return domain.Event{}, fmt.Errorf("message %s is missing userid: %w", msg.ID, domain.ErrNonRetryable)
	}
	if msg.Attributes[AttrType] == "" {
		return domain.Event{}, fmt.Errorf("message %s is missing type: %w", msg.ID, domain.ErrNonRetryable)
	}

	event := domain.Event{
		SpecVersion:     msg.Attributes[AttrSpecVersion],
		Type:            msg.Attributes[AttrType],
		Source:          msg.Attributes[AttrSource],
		ID:              msg.Attributes[AttrID],
		UserID:          msg.Attributes[AttrUserID],
		DataContentType: msg.Attributes[AttrDataContentType],
	}

	if ts := msg.Attributes[AttrTime]; ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return domain.Event{}, fmt.Errorf("message %s has unparseable time %q: %w", msg.ID, ts, domain.ErrNonRetryable)
		}
		event.Time = t
	}

	if raw := msg.Attributes[AttrDeliveredWebhookIDs]; raw != "" {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return domain.Event{}, fmt.Errorf("message %s has unparseable deliveredwebhookids: %w", msg.ID, domain.ErrNonRetryable)
		}
		event = event.WithDeliveredWebhookIDs(ids)
	}

	if !json.Valid(msg.Body) {
		return domain.Event{}, fmt.Errorf("message %s body is not valid JSON: %w", msg.ID, domain.ErrNonRetryable)
	}
	event.Data = json.RawMessage(msg.Body)

	return event, nil
}

// NewOutbound serializes an event into a send request with the given delay.
// Every requeue constructs a fresh message from the full event state.
func NewOutbound(event domain.Event, delay time.Duration) (Outbound, error) {
	delivered := event.DeliveredWebhookIDs
	if delivered == nil {
		delivered = []string{}
	}
	deliveredJSON, err := json.Marshal(delivered)
	if err != nil {
		return Outbound{}, fmt.Errorf("marshal delivered webhook ids: %w", err)
	}

	return Outbound{
		Attributes: map[string]string{
			AttrSpecVersion:         event.SpecVersion,
			AttrType:                event.Type,
			AttrSource:              event.Source,
			AttrID:                  event.ID,
			AttrTime:                event.Time.UTC().Format(time.RFC3339),
			AttrUserID:              event.UserID,
			AttrDataContentType:     event.DataContentType,
			AttrDeliveredWebhookIDs: string(deliveredJSON),
		},
		Body:  append([]byte(nil), event.Data...),
		Delay: delay,
	}, nil
}
