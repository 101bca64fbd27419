// Package postgres stores webhook registrations. Signing secrets are
// encrypted at rest with the codec injected at construction.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Giftbit/internal-gutenberg/internal/domain"
	"github.com/Giftbit/internal-gutenberg/internal/secrets"
)

const schema = `
CREATE TABLE IF NOT EXISTS webhooks (
	user_id           TEXT        NOT NULL,
	id                TEXT        NOT NULL,
	url               TEXT        NOT NULL,
	events            TEXT[]      NOT NULL,
	active            BOOLEAN     NOT NULL DEFAULT TRUE,
	description       TEXT        NOT NULL DEFAULT '',
	encrypted_secrets JSONB       NOT NULL DEFAULT '[]',
	created_by        TEXT        NOT NULL DEFAULT '',
	created_date      TIMESTAMPTZ NOT NULL,
	updated_date      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, id)
)
`

// storedSecret is the JSONB shape of one encrypted signing secret.
type storedSecret struct {
	ID              string    `json:"id"`
	EncryptedSecret string    `json:"encryptedSecret"`
	CreatedDate     time.Time `json:"createdDate"`
}

type WebhookStore struct {
	pool  *pgxpool.Pool
	codec *secrets.Codec
}

func NewWebhookStore(pool *pgxpool.Pool, codec *secrets.Codec) *WebhookStore {
	return &WebhookStore{pool: pool, codec: codec}
}

// EnsureSchema creates the webhooks table if it does not exist.
func (s *WebhookStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Ping reports database connectivity for readiness checks.
func (s *WebhookStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *WebhookStore) Create(ctx context.Context, userID string, webhook *domain.Webhook) error {
	encrypted, err := s.encryptSecrets(webhook.Secrets)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO webhooks (user_id, id, url, events, active, description, encrypted_secrets, created_by, created_date, updated_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.pool.Exec(ctx, query,
		userID,
		webhook.ID,
		webhook.URL,
		webhook.Events,
		webhook.Active,
		webhook.Description,
		encrypted,
		webhook.CreatedBy,
		webhook.CreatedDate,
		webhook.UpdatedDate,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("webhook %s: %w", webhook.ID, domain.ErrAlreadyExists)
	}
	return err
}

func (s *WebhookStore) Get(ctx context.Context, userID, id string) (*domain.Webhook, error) {
	const query = `
		SELECT id, url, events, active, description, encrypted_secrets, created_by, created_date, updated_date
		FROM webhooks
		WHERE user_id = $1 AND id = $2
	`
	webhook, err := s.scanWebhook(s.pool.QueryRow(ctx, query, userID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("webhook %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return webhook, nil
}

// ListWebhooks returns all of an account's webhooks, newest first, with
// signing secrets decrypted. This is the dispatch directory read path;
// callers that display webhooks must redact the secrets.
func (s *WebhookStore) ListWebhooks(ctx context.Context, userID string) ([]*domain.Webhook, error) {
	const query = `
		SELECT id, url, events, active, description, encrypted_secrets, created_by, created_date, updated_date
		FROM webhooks
		WHERE user_id = $1
		ORDER BY created_date DESC
	`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webhooks []*domain.Webhook
	for rows.Next() {
		webhook, err := s.scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, webhook)
	}
	return webhooks, rows.Err()
}

func (s *WebhookStore) Update(ctx context.Context, userID string, webhook *domain.Webhook) error {
	encrypted, err := s.encryptSecrets(webhook.Secrets)
	if err != nil {
		return err
	}

	const query = `
		UPDATE webhooks
		SET url = $3, events = $4, active = $5, description = $6, encrypted_secrets = $7, updated_date = $8
		WHERE user_id = $1 AND id = $2
	`
	result, err := s.pool.Exec(ctx, query,
		userID,
		webhook.ID,
		webhook.URL,
		webhook.Events,
		webhook.Active,
		webhook.Description,
		encrypted,
		webhook.UpdatedDate,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("webhook %s: %w", webhook.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *WebhookStore) Delete(ctx context.Context, userID, id string) error {
	const query = `DELETE FROM webhooks WHERE user_id = $1 AND id = $2`
	result, err := s.pool.Exec(ctx, query, userID, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("webhook %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *WebhookStore) scanWebhook(row rowScanner) (*domain.Webhook, error) {
	var webhook domain.Webhook
	var encrypted []byte
	err := row.Scan(
		&webhook.ID,
		&webhook.URL,
		&webhook.Events,
		&webhook.Active,
		&webhook.Description,
		&encrypted,
		&webhook.CreatedBy,
		&webhook.CreatedDate,
		&webhook.UpdatedDate,
	)
	if err != nil {
		return nil, err
	}

	var stored []storedSecret
	if err := json.Unmarshal(encrypted, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal stored secrets for webhook %s: %w", webhook.ID, err)
	}
	webhook.Secrets = make([]domain.WebhookSecret, len(stored))
	for i, ss := range stored {
		plain, err := s.codec.Decrypt(ss.EncryptedSecret)
		if err != nil {
			return nil, fmt.Errorf("decrypt secret %s for webhook %s: %w", ss.ID, webhook.ID, err)
		}
		webhook.Secrets[i] = domain.WebhookSecret{
			ID:          ss.ID,
			Secret:      plain,
			CreatedDate: ss.CreatedDate,
		}
	}
	return &webhook, nil
}

func (s *WebhookStore) encryptSecrets(secretList []domain.WebhookSecret) ([]byte, error) {
	stored := make([]storedSecret, len(secretList))
	for i, secret := range secretList {
		encrypted, err := s.codec.Encrypt(secret.Secret)
		if err != nil {
			return nil, fmt.Errorf("encrypt secret %s: %w", secret.ID, err)
		}
		stored[i] = storedSecret{
			ID:              secret.ID,
			EncryptedSecret: encrypted,
			CreatedDate:     secret.CreatedDate,
		}
	}
	return json.Marshal(stored)
}
