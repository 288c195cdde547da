package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/firetick/firetick/internal/domain"
)

const collectionColumns = `id, account_id, name, description, created_at, updated_at`

const webhookColumns = `id, job_id, collection_id, url, method, headers, query_params,
	body, content_type, exec_order, created_at, updated_at`

func scanCollection(row pgx.Row) (*domain.Collection, error) {
	var c domain.Collection
	err := row.Scan(&c.ID, &c.AccountID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan collection: %w", err)
	}
	return &c, nil
}

func scanWebhook(row pgx.Row) (*domain.Webhook, error) {
	var w domain.Webhook
	err := row.Scan(&w.ID, &w.JobID, &w.CollectionID, &w.URL, &w.Method, &w.Headers,
		&w.QueryParams, &w.Body, &w.ContentType, &w.Order, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook: %w", err)
	}
	return &w, nil
}

// CreateCollection inserts a collection.
func (s *Store) CreateCollection(ctx context.Context, accountID uuid.UUID, name, description *string) (*domain.Collection, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO collections (account_id, name, description)
		VALUES ($1, $2, $3)
		RETURNING `+collectionColumns, accountID, name, description)
	return scanCollection(row)
}

// GetCollection fetches a collection by id.
func (s *Store) GetCollection(ctx context.Context, id uuid.UUID) (*domain.Collection, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+collectionColumns+` FROM collections WHERE id = $1`, id)
	return scanCollection(row)
}

// ListCollections returns the account's collections, newest first.
func (s *Store) ListCollections(ctx context.Context, accountID uuid.UUID) ([]domain.Collection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+collectionColumns+` FROM collections WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var collections []domain.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		collections = append(collections, *c)
	}
	return collections, rows.Err()
}

// DeleteCollection removes a collection; webhooks and runs cascade.
func (s *Store) DeleteCollection(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM collections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CreateWebhook inserts a webhook. Exactly one of JobID and CollectionID must
// be set; the check constraint enforces it.
func (s *Store) CreateWebhook(ctx context.Context, w *domain.Webhook) (*domain.Webhook, error) {
	headers := w.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	params := w.QueryParams
	if params == nil {
		params = map[string]string{}
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO webhooks (job_id, collection_id, url, method, headers, query_params, body, content_type, exec_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+webhookColumns,
		w.JobID, w.CollectionID, w.URL, w.Method, headers, params, w.Body, w.ContentType, w.Order)
	return scanWebhook(row)
}

// WebhookByJob returns the single webhook attached to a job.
func (s *Store) WebhookByJob(ctx context.Context, jobID uuid.UUID) (*domain.Webhook, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE job_id = $1`, jobID)
	return scanWebhook(row)
}

// WebhooksByCollection returns the collection's webhooks in execution order:
// explicit order first (lower fires first), unordered webhooks last, ties
// broken by creation time.
func (s *Store) WebhooksByCollection(ctx context.Context, collectionID uuid.UUID) ([]domain.Webhook, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+webhookColumns+`
		FROM webhooks
		WHERE collection_id = $1
		ORDER BY exec_order ASC NULLS LAST, created_at ASC`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []domain.Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, *w)
	}
	return webhooks, rows.Err()
}
