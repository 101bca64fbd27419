package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/Giftbit/internal-gutenberg/internal/domain"
)

func validMessage() Message {
	return Message{
		ID: "msg-1",
		Attributes: map[string]string{
			AttrSpecVersion:         "1.0",
			AttrType:                "lightrail.transaction.created",
			AttrSource:              "/lightrail/rothschild",
			AttrID:                  "evt-1",
			AttrTime:                "2023-04-05T16:30:00Z",
			AttrUserID:              "user-a",
			AttrDataContentType:     "application/json",
			AttrDeliveredWebhookIDs: `["wh-1","wh-2"]`,
		},
		Body:         []byte(`{"amount":100}`),
		ReceiveCount: 1,
		FirstSeen:    time.Now(),
	}
}

func TestParseEvent(t *testing.T) {
	event, err := ParseEvent(validMessage())
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}

	if event.Type != "lightrail.transaction.created" {
		t.Errorf("Type = %q", event.Type)
	}
	if event.UserID != "user-a" {
		t.Errorf("UserID = %q", event.UserID)
	}
	if event.ID != "evt-1" {
		t.Errorf("ID = %q", event.ID)
	}
	if !event.Time.Equal(time.Date(2023, 4, 5, 16, 30, 0, 0, time.UTC)) {
		t.Errorf("Time = %v", event.Time)
	}
	if len(event.DeliveredWebhookIDs) != 2 {
		t.Errorf("DeliveredWebhookIDs = %v", event.DeliveredWebhookIDs)
	}
	if string(event.Data) != `{"amount":100}` {
		t.Errorf("Data = %s", event.Data)
	}
}

func TestParseEvent_NonRetryable(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Message)
	}{
		{"wrong content type", func(m *Message) { m.Attributes[AttrDataContentType] = "text/plain" }},
		{"missing content type", func(m *Message) { delete(m.Attributes, AttrDataContentType) }},
		{"missing userid", func(m *Message) { delete(m.Attributes, AttrUserID) }},
		{"missing type", func(m *Message) { delete(m.Attributes, AttrType) }},
		{"bad time", func(m *Message) { m.Attributes[AttrTime] = "yesterday" }},
		{"bad delivered ids", func(m *Message) { m.Attributes[AttrDeliveredWebhookIDs] = "wh-1,wh-2" }},
		{"invalid body", func(m *Message) { m.Body = []byte(`{"amount":`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := validMessage()
			tt.mutate(&msg)
			_, err := ParseEvent(msg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, domain.ErrNonRetryable) {
				t.Errorf("error should wrap ErrNonRetryable, got %v", err)
			}
		})
	}
}

func TestParseEvent_OptionalAttributesAbsent(t *testing.T) {
	msg := validMessage()
	delete(msg.Attributes, AttrTime)
	delete(msg.Attributes, AttrDeliveredWebhookIDs)

	event, err := ParseEvent(msg)
	if err != nil {
		t.Fatalf("ParseEvent() error = %v", err)
	}
	if !event.Time.IsZero() {
		t.Errorf("Time = %v, want zero", event.Time)
	}
	if len(event.DeliveredWebhookIDs) != 0 {
		t.Errorf("DeliveredWebhookIDs = %v, want empty", event.DeliveredWebhookIDs)
	}
}

func TestNewOutbound_RoundTrip(t *testing.T) {
	event, err := ParseEvent(validMessage())
	if err != nil {
		t.Fatal(err)
	}

	out, err := NewOutbound(event, 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if out.Delay != 30*time.Second {
		t.Errorf("Delay = %v", out.Delay)
	}
	if out.Attributes[AttrDeliveredWebhookIDs] != `["wh-1","wh-2"]` {
		t.Errorf("deliveredwebhookids = %q", out.Attributes[AttrDeliveredWebhookIDs])
	}

	back, err := ParseEvent(Message{ID: "msg-2", Attributes: out.Attributes, Body: out.Body})
	if err != nil {
		t.Fatalf("reparse error = %v", err)
	}
	if back.ID != event.ID || back.Type != event.Type || back.UserID != event.UserID {
		t.Errorf("round trip changed envelope: %+v", back)
	}
	if !domain.SameIDSet(back.DeliveredWebhookIDs, event.DeliveredWebhookIDs) {
		t.Errorf("round trip changed delivered set: %v", back.DeliveredWebhookIDs)
	}
}

func TestNewOutbound_EmptyDeliveredSet(t *testing.T) {
	event := domain.Event{
		Type:            "lightrail.transaction.created",
		ID:              "evt-1",
		UserID:          "user-a",
		DataContentType: domain.DataContentTypeJSON,
		Data:            []byte(`{}`),
	}

	out, err := NewOutbound(event, 0)
	if err != nil {
		t.Fatal(err)
	}
	if out.Attributes[AttrDeliveredWebhookIDs] != "[]" {
		t.Errorf("deliveredwebhookids = %q, want []", out.Attributes[AttrDeliveredWebhookIDs])
	}
}

func TestNewOutbound_CopiesBody(t *testing.T) {
	data := []byte(`{"amount":100}`)
	event := domain.Event{
		Type:            "t",
		UserID:          "u",
		DataContentType: domain.DataContentTypeJSON,
		Data:            data,
	}

	out, err := NewOutbound(event, 0)
	if err != nil {
		t.Fatal(err)
	}
	data[2] = 'X'
	if string(out.Body) != `{"amount":100}` {
		t.Errorf("outbound body aliases the event data: %s", out.Body)
	}
}
