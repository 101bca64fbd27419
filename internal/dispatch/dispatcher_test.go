package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Giftbit/internal-gutenberg/internal/domain"
	"github.com/Giftbit/internal-gutenberg/internal/signature"
)

type staticDirectory struct {
	webhooks []*domain.Webhook
	err      error
}

func (d *staticDirectory) ListWebhooks(ctx context.Context, userID string) ([]*domain.Webhook, error) {
	return d.webhooks, d.err
}

func testEvent() domain.Event {
	return domain.Event{
		SpecVersion:     "1.0",
		Type:            "lightrail.transaction.created",
		Source:          "/lightrail/rothschild",
		ID:              "evt-1",
		Time:            time.Date(2023, 4, 5, 16, 30, 0, 0, time.UTC),
		UserID:          "user-a",
		DataContentType: domain.DataContentTypeJSON,
		Data:            json.RawMessage(`{"amount":100}`),
	}
}

func newDispatcher(dir Directory) *Dispatcher {
	return New(DefaultConfig(), dir, &http.Client{}, nil)
}

func TestDispatch_DeliversSignedPublicPayload(t *testing.T) {
	var gotSignature, gotContentType atomic.Value
	var gotBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(body)
		gotSignature.Store(r.Header.Get(SignatureHeader))
		gotContentType.Store(r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := &staticDirectory{webhooks: []*domain.Webhook{{
		ID:     "wh-1",
		URL:    server.URL,
		Events: []string{"*"},
		Active: true,
		Secrets: []domain.WebhookSecret{
			{ID: "s1", Secret: "SECRET1"},
			{ID: "s2", Secret: "SECRET2"},
		},
	}}}

	result, err := newDispatcher(dir).Dispatch(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(result.DeliveredWebhookIDs) != 1 || result.DeliveredWebhookIDs[0] != "wh-1" {
		t.Errorf("DeliveredWebhookIDs = %v", result.DeliveredWebhookIDs)
	}
	if len(result.FailedWebhookIDs) != 0 {
		t.Errorf("FailedWebhookIDs = %v", result.FailedWebhookIDs)
	}

	if gotContentType.Load() != "application/json" {
		t.Errorf("Content-Type = %v", gotContentType.Load())
	}

	body := gotBody.Load().([]byte)
	wantSig := signature.SignBytes([]string{"SECRET1", "SECRET2"}, body)
	if gotSignature.Load() != wantSig {
		t.Errorf("signature = %v, want %v", gotSignature.Load(), wantSig)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["id"] != "evt-1" || payload["type"] != "lightrail.transaction.created" {
		t.Errorf("payload = %v", payload)
	}
	if payload["time"] != "2023-04-05T16:30:00Z" {
		t.Errorf("payload time = %v", payload["time"])
	}
	if _, ok := payload["userId"]; ok {
		t.Error("payload must not carry userId")
	}
}

func TestDispatch_SkipsDeliveredInactiveAndNonMatching(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := &staticDirectory{webhooks: []*domain.Webhook{
		{ID: "wh-delivered", URL: server.URL, Events: []string{"*"}, Active: true},
		{ID: "wh-inactive", URL: server.URL, Events: []string{"*"}, Active: false},
		{ID: "wh-other", URL: server.URL, Events: []string{"lightrail.value.*"}, Active: true},
		{ID: "wh-live", URL: server.URL, Events: []string{"lightrail.transaction.*"}, Active: true},
	}}

	event := testEvent()
	event.DeliveredWebhookIDs = []string{"wh-delivered"}

	result, err := newDispatcher(dir).Dispatch(context.Background(), event)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}
	if !domain.SameIDSet(result.DeliveredWebhookIDs, []string{"wh-delivered", "wh-live"}) {
		t.Errorf("DeliveredWebhookIDs = %v", result.DeliveredWebhookIDs)
	}
	if len(result.FailedWebhookIDs) != 0 {
		t.Errorf("FailedWebhookIDs = %v", result.FailedWebhookIDs)
	}
}

func TestDispatch_PartitionsSuccessAndFailure(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ok.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	// A closed server exercises the transport-error path.
	closed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	closed.Close()

	dir := &staticDirectory{webhooks: []*domain.Webhook{
		{ID: "wh-ok", URL: ok.URL, Events: []string{"*"}, Active: true},
		{ID: "wh-500", URL: failing.URL, Events: []string{"*"}, Active: true},
		{ID: "wh-down", URL: closed.URL, Events: []string{"*"}, Active: true},
	}}

	result, err := newDispatcher(dir).Dispatch(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if !domain.SameIDSet(result.DeliveredWebhookIDs, []string{"wh-ok"}) {
		t.Errorf("DeliveredWebhookIDs = %v", result.DeliveredWebhookIDs)
	}
	if !domain.SameIDSet(result.FailedWebhookIDs, []string{"wh-500", "wh-down"}) {
		t.Errorf("FailedWebhookIDs = %v", result.FailedWebhookIDs)
	}
}

func TestDispatch_NoCandidatesKeepsDeliveredSet(t *testing.T) {
	dir := &staticDirectory{}

	event := testEvent()
	event.DeliveredWebhookIDs = []string{"wh-1"}

	result, err := newDispatcher(dir).Dispatch(context.Background(), event)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !domain.SameIDSet(result.DeliveredWebhookIDs, []string{"wh-1"}) {
		t.Errorf("DeliveredWebhookIDs = %v", result.DeliveredWebhookIDs)
	}
	if len(result.FailedWebhookIDs) != 0 {
		t.Errorf("FailedWebhookIDs = %v", result.FailedWebhookIDs)
	}
}

func TestDispatch_RejectsUnprocessableEvents(t *testing.T) {
	dir := &staticDirectory{}
	d := newDispatcher(dir)

	noUser := testEvent()
	noUser.UserID = ""
	if _, err := d.Dispatch(context.Background(), noUser); !errors.Is(err, domain.ErrNonRetryable) {
		t.Errorf("missing userId: error = %v, want ErrNonRetryable", err)
	}

	noType := testEvent()
	noType.Type = ""
	if _, err := d.Dispatch(context.Background(), noType); !errors.Is(err, domain.ErrNonRetryable) {
		t.Errorf("missing type: error = %v, want ErrNonRetryable", err)
	}
}

func TestDispatch_DirectoryErrorPropagates(t *testing.T) {
	dirErr := errors.New("connection refused")
	dir := &staticDirectory{err: dirErr}

	_, err := newDispatcher(dir).Dispatch(context.Background(), testEvent())
	if !errors.Is(err, dirErr) {
		t.Errorf("error = %v, want wrapped directory error", err)
	}
	if errors.Is(err, domain.ErrNonRetryable) {
		t.Error("directory outage must stay retryable")
	}
}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(ctx context.Context, webhookID string) (bool, error) {
	return false, nil
}

func TestDispatch_ThrottledCallCountsAsFailed(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	dir := &staticDirectory{webhooks: []*domain.Webhook{
		{ID: "wh-1", URL: server.URL, Events: []string{"*"}, Active: true},
	}}

	d := newDispatcher(dir).WithResilience(denyAllLimiter{}, nil)
	result, err := d.Dispatch(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if calls.Load() != 0 {
		t.Error("rate-limited webhook must not be called")
	}
	if !domain.SameIDSet(result.FailedWebhookIDs, []string{"wh-1"}) {
		t.Errorf("FailedWebhookIDs = %v", result.FailedWebhookIDs)
	}
}
