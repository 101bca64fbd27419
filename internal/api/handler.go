// Package api is the admin REST surface for webhook and secret CRUD.
// Requests are scoped to the account in the X-Lightrail-User-Id header,
// set by the API gateway after auth.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Giftbit/internal-gutenberg/internal/domain"
	"github.com/Giftbit/internal-gutenberg/internal/secrets"
)

// UserIDHeader carries the authenticated account ID.
const UserIDHeader = "X-Lightrail-User-Id"

// maxWebhooksPerUser caps registrations per account.
const maxWebhooksPerUser = 20

// maxSecretsPerWebhook allows rotation with overlap without unbounded growth.
const maxSecretsPerWebhook = 3

// WebhookStore is the persistence surface the handlers need.
type WebhookStore interface {
	Create(ctx context.Context, userID string, webhook *domain.Webhook) error
	Get(ctx context.Context, userID, id string) (*domain.Webhook, error)
	ListWebhooks(ctx context.Context, userID string) ([]*domain.Webhook, error)
	Update(ctx context.Context, userID string, webhook *domain.Webhook) error
	Delete(ctx context.Context, userID, id string) error
}

type Handler struct {
	store  WebhookStore
	logger *slog.Logger
}

func NewHandler(store WebhookStore, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// webhookResponse is a webhook with signing secrets redacted to their last
// four characters. Full secret values only appear in creation responses and
// the per-secret GET.
type webhookResponse struct {
	ID          string           `json:"id"`
	URL         string           `json:"url"`
	Events      []string         `json:"events"`
	Active      bool             `json:"active"`
	Secrets     []secretResponse `json:"secrets"`
	Description string           `json:"description,omitempty"`
	CreatedDate time.Time        `json:"createdDate"`
	UpdatedDate time.Time        `json:"updatedDate"`
	CreatedBy   string           `json:"createdBy,omitempty"`
}

type secretResponse struct {
	ID          string    `json:"id"`
	Secret      string    `json:"secret"`
	CreatedDate time.Time `json:"createdDate"`
}

func redactWebhook(w *domain.Webhook) webhookResponse {
	resp := webhookResponse{
		ID:          w.ID,
		URL:         w.URL,
		Events:      w.Events,
		Active:      w.Active,
		Secrets:     make([]secretResponse, len(w.Secrets)),
		Description: w.Description,
		CreatedDate: w.CreatedDate,
		UpdatedDate: w.UpdatedDate,
		CreatedBy:   w.CreatedBy,
	}
	for i, s := range w.Secrets {
		resp.Secrets[i] = secretResponse{
			ID:          s.ID,
			Secret:      secrets.LastFour(s.Secret),
			CreatedDate: s.CreatedDate,
		}
	}
	return resp
}

type CreateWebhookRequest struct {
	ID          string   `json:"id"`
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Active      *bool    `json:"active,omitempty"`
	Description string   `json:"description,omitempty"`
}

func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	webhooks, err := h.store.ListWebhooks(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list webhooks", "error", err, "user_id", userID)
		h.respondError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}

	resp := make([]webhookResponse, len(webhooks))
	for i, webhook := range webhooks {
		resp[i] = redactWebhook(webhook)
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" || req.URL == "" || len(req.Events) == 0 {
		h.respondError(w, http.StatusBadRequest, "id, url, and events are required")
		return
	}
	if err := domain.ValidateURL(req.URL); err != nil {
		h.respondError(w, http.StatusBadRequest, "url must be an absolute http(s) url")
		return
	}

	existing, err := h.store.ListWebhooks(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to count webhooks", "error", err, "user_id", userID)
		h.respondError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}
	if len(existing) >= maxWebhooksPerUser {
		h.respondError(w, http.StatusConflict, "webhook limit reached; delete an existing webhook first")
		return
	}

	secret, err := secrets.NewWebhookSecret()
	if err != nil {
		h.logger.Error("failed to generate secret", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	now := time.Now().UTC()
	webhook := &domain.Webhook{
		ID:          req.ID,
		URL:         req.URL,
		Events:      req.Events,
		Active:      active,
		Secrets:     []domain.WebhookSecret{secret},
		Description: req.Description,
		CreatedDate: now,
		UpdatedDate: now,
		CreatedBy:   userID,
	}

	if err := h.store.Create(r.Context(), userID, webhook); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			h.respondError(w, http.StatusConflict, "webhook already exists")
			return
		}
		h.logger.Error("failed to create webhook", "error", err, "user_id", userID, "webhook_id", req.ID)
		h.respondError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}

	// The only response that carries the full secret value.
	resp := redactWebhook(webhook)
	resp.Secrets[0].Secret = secret.Secret
	h.respondJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	webhook, _ := h.getWebhook(w, r, userID)
	if webhook == nil {
		return
	}
	h.respondJSON(w, http.StatusOK, redactWebhook(webhook))
}

type UpdateWebhookRequest struct {
	URL         *string   `json:"url,omitempty"`
	Events      *[]string `json:"events,omitempty"`
	Active      *bool     `json:"active,omitempty"`
	Description *string   `json:"description,omitempty"`
}

func (h *Handler) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req UpdateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	webhook, _ := h.getWebhook(w, r, userID)
	if webhook == nil {
		return
	}

	if req.URL != nil {
		if err := domain.ValidateURL(*req.URL); err != nil {
			h.respondError(w, http.StatusBadRequest, "url must be an absolute http(s) url")
			return
		}
		webhook.URL = *req.URL
	}
	if req.Events != nil {
		if len(*req.Events) == 0 {
			h.respondError(w, http.StatusBadRequest, "events must not be empty")
			return
		}
		webhook.Events = *req.Events
	}
	if req.Active != nil {
		webhook.Active = *req.Active
	}
	if req.Description != nil {
		webhook.Description = *req.Description
	}
	webhook.UpdatedDate = time.Now().UTC()

	if err := h.store.Update(r.Context(), userID, webhook); err != nil {
		h.logger.Error("failed to update webhook", "error", err, "user_id", userID, "webhook_id", webhook.ID)
		h.respondError(w, http.StatusInternalServerError, "failed to update webhook")
		return
	}
	h.respondJSON(w, http.StatusOK, redactWebhook(webhook))
}

func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), userID, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "webhook not found")
			return
		}
		h.logger.Error("failed to delete webhook", "error", err, "user_id", userID, "webhook_id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateSecret(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	webhook, _ := h.getWebhook(w, r, userID)
	if webhook == nil {
		return
	}
	if len(webhook.Secrets) >= maxSecretsPerWebhook {
		h.respondError(w, http.StatusConflict, "a webhook cannot have more than 3 secrets")
		return
	}

	secret, err := secrets.NewWebhookSecret()
	if err != nil {
		h.logger.Error("failed to generate secret", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create secret")
		return
	}
	webhook.Secrets = append(webhook.Secrets, secret)
	webhook.UpdatedDate = time.Now().UTC()

	if err := h.store.Update(r.Context(), userID, webhook); err != nil {
		h.logger.Error("failed to store secret", "error", err, "user_id", userID, "webhook_id", webhook.ID)
		h.respondError(w, http.StatusInternalServerError, "failed to create secret")
		return
	}
	h.respondJSON(w, http.StatusCreated, secretResponse(secret))
}

func (h *Handler) GetSecret(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	webhook, _ := h.getWebhook(w, r, userID)
	if webhook == nil {
		return
	}

	secretID := chi.URLParam(r, "secretId")
	for _, s := range webhook.Secrets {
		if s.ID == secretID {
			h.respondJSON(w, http.StatusOK, secretResponse(s))
			return
		}
	}
	h.respondError(w, http.StatusNotFound, "secret not found")
}

func (h *Handler) DeleteSecret(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	webhook, _ := h.getWebhook(w, r, userID)
	if webhook == nil {
		return
	}
	if len(webhook.Secrets) == 1 {
		h.respondError(w, http.StatusConflict, "a webhook must keep at least one secret")
		return
	}

	secretID := chi.URLParam(r, "secretId")
	kept := webhook.Secrets[:0]
	found := false
	for _, s := range webhook.Secrets {
		if s.ID == secretID {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	if !found {
		h.respondError(w, http.StatusNotFound, "secret not found")
		return
	}
	webhook.Secrets = kept
	webhook.UpdatedDate = time.Now().UTC()

	if err := h.store.Update(r.Context(), userID, webhook); err != nil {
		h.logger.Error("failed to delete secret", "error", err, "user_id", userID, "webhook_id", webhook.ID)
		h.respondError(w, http.StatusInternalServerError, "failed to delete secret")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(UserIDHeader)
	if userID == "" {
		h.respondError(w, http.StatusUnauthorized, "missing user id")
		return "", false
	}
	return userID, true
}

func (h *Handler) getWebhook(w http.ResponseWriter, r *http.Request, userID string) (*domain.Webhook, error) {
	id := chi.URLParam(r, "id")
	webhook, err := h.store.Get(r.Context(), userID, id)
	if errors.Is(err, domain.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "webhook not found")
		return nil, err
	}
	if err != nil {
		h.logger.Error("failed to get webhook", "error", err, "user_id", userID, "webhook_id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to get webhook")
		return nil, err
	}
	return webhook, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{Error: message})
}
