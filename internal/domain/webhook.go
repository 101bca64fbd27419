package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Webhook is a registered subscriber endpoint belonging to an account.
// The dispatch pipeline only ever reads webhooks; all mutation happens
// through the admin API.
type Webhook struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	Events      []string        `json:"events"`
	Active      bool            `json:"active"`
	Secrets     []WebhookSecret `json:"secrets,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedDate time.Time       `json:"createdDate"`
	UpdatedDate time.Time       `json:"updatedDate"`
	CreatedBy   string          `json:"createdBy,omitempty"`
}

// WebhookSecret is one signing secret. Webhooks can hold several at once so
// secrets can be rotated without dropping signature verification.
type WebhookSecret struct {
	ID          string    `json:"id"`
	Secret      string    `json:"secret"`
	CreatedDate time.Time `json:"createdDate"`
}

// SigningSecrets returns the raw secret values in stored order.
func (w *Webhook) SigningSecrets() []string {
	out := make([]string, len(w.Secrets))
	for i, s := range w.Secrets {
		out[i] = s.Secret
	}
	return out
}

// MatchesEvent reports whether the webhook subscribes to the event type.
func (w *Webhook) MatchesEvent(eventType string) bool {
	return MatchesEvent(w.Events, eventType)
}

// MatchesEvent evaluates a subscription pattern list against an event type.
// Every entry is considered; the first match wins.
//
// Patterns:
//   - "*" matches any event type.
//   - A trailing ".*" makes the rest of the pattern a prefix match. This is
//     a raw prefix, not a dot-boundary match: "a.*" matches "ab" as well as
//     "a.b". Tested behavior relied on by existing subscribers.
//   - Anything else must equal the event type exactly.
func MatchesEvent(subscriptions []string, eventType string) bool {
	for _, sub := range subscriptions {
		if sub == "*" {
			return true
		}
		if len(sub) > 1 && strings.HasSuffix(sub, ".*") {
			prefix := sub[:len(sub)-2]
			if len(eventType) >= len(prefix) && eventType[:len(prefix)] == prefix {
				return true
			}
			continue
		}
		if sub == eventType {
			return true
		}
	}
	return false
}

// ValidateURL rejects webhook callback URLs that are not absolute https
// (or http, allowed for test accounts and local development).
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w: %w", ErrInvalidInput, err)
	}
	if !u.IsAbs() || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("webhook url must be an absolute http(s) url: %w", ErrInvalidInput)
	}
	return nil
}
