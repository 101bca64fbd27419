package domain

import (
	"encoding/json"
	"time"
)

// DataContentTypeJSON is the only supported event payload content type.
const DataContentTypeJSON = "application/json"

// Event is a single occurrence in the Lightrail system, fanned out to every
// webhook whose subscriptions match its type.
//
// The combination of Source and ID is unique. Events are never mutated in
// flight: delivery progress is carried forward by replacing the queue message
// with a copy holding a grown DeliveredWebhookIDs set.
type Event struct {
	// SpecVersion is the CloudEvents spec version the event follows.
	// Informational only.
	SpecVersion string `json:"specversion"`

	// Type is dot-separated, e.g. "lightrail.transaction.created". Required.
	Type string `json:"type"`

	// Source identifies the producing service as a URI reference,
	// e.g. "/lightrail/rothschild".
	Source string `json:"source"`

	// ID of the event. Unique per Source.
	ID string `json:"id"`

	// Time the event was generated.
	Time time.Time `json:"time"`

	// UserID is the account whose webhooks receive the event. Required.
	UserID string `json:"userId"`

	// DataContentType must be DataContentTypeJSON.
	DataContentType string `json:"datacontenttype"`

	// Data is the event body, opaque to the pipeline.
	Data json.RawMessage `json:"data"`

	// DeliveredWebhookIDs lists webhooks that already acknowledged this
	// event in the current retry lineage. Grows monotonically; a webhook
	// listed here is never contacted again for this event.
	DeliveredWebhookIDs []string `json:"deliveredWebhookIds,omitempty"`
}

// PublicEvent is the projection sent to webhook endpoints. Internal fields
// (UserID, Source, SpecVersion, delivery bookkeeping) are deliberately
// excluded from the outbound payload.
type PublicEvent struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Time string          `json:"time"`
	Data json.RawMessage `json:"data"`
}

// PublicPayload returns the public-facing projection of the event.
func (e Event) PublicPayload() PublicEvent {
	return PublicEvent{
		ID:   e.ID,
		Type: e.Type,
		Time: e.Time.UTC().Format(time.RFC3339),
		Data: e.Data,
	}
}

// Delivered reports whether the webhook already received this event.
func (e Event) Delivered(webhookID string) bool {
	for _, id := range e.DeliveredWebhookIDs {
		if id == webhookID {
			return true
		}
	}
	return false
}

// WithDeliveredWebhookIDs returns a copy of the event carrying the given
// delivered set. The receiver is left untouched; IDs are de-duplicated
// preserving first occurrence.
func (e Event) WithDeliveredWebhookIDs(ids []string) Event {
	next := e
	next.DeliveredWebhookIDs = dedupe(ids)
	return next
}

// DispatchResult is the outcome of a single fan-out pass.
//
// DeliveredWebhookIDs is seeded from the event's prior delivered set and
// grown with this pass's successes. FailedWebhookIDs holds only webhooks
// attempted and failed in this pass; it never carries forward.
type DispatchResult struct {
	DeliveredWebhookIDs []string
	FailedWebhookIDs    []string
}

// SameIDSet reports whether two ID lists contain the same members, ignoring
// order and duplicates. Delivered sets are compared this way so a reordered
// wire representation never looks like delivery progress.
func SameIDSet(a, b []string) bool {
	seen := make(map[string]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	matched := make(map[string]struct{}, len(b))
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			return false
		}
		matched[id] = struct{}{}
	}
	return len(matched) == len(seen)
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
