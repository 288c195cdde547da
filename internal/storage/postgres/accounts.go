package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/firetick/firetick/internal/domain"
)

const accountColumns = `id, user_id, name, created_at, updated_at`

const subscriptionColumns = `id, account_id, billing_id, plan_id, status,
	current_period_start, current_period_end, cancel_reason, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return &a, nil
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(&sub.ID, &sub.AccountID, &sub.BillingID, &sub.PlanID, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelReason, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return &sub, nil
}

// GetOrCreateAccount provisions an account idempotently by (userID, name).
// The upsert makes first authenticated use create the tenant without a
// separate signup step.
func (s *Store) GetOrCreateAccount(ctx context.Context, userID, name string) (*domain.Account, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (user_id, name)
		VALUES ($1, $2)
		ON CONFLICT (user_id, name) DO UPDATE SET updated_at = now()
		RETURNING `+accountColumns, userID, name)
	return scanAccount(row)
}

// DeleteAccount removes the account and everything it owns. Jobs,
// executions, collections, runs, reports, results and the subscription all
// cascade through foreign keys in one transaction.
func (s *Store) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetSubscriptionByAccount returns the account's subscription, or
// domain.ErrNotFound when none exists.
func (s *Store) GetSubscriptionByAccount(ctx context.Context, accountID uuid.UUID) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE account_id = $1`, accountID)
	return scanSubscription(row)
}

// PlanForAccount resolves the account's subscription plan id. An account
// without a subscription resolves to the empty plan, which classifies as
// free.
func (s *Store) PlanForAccount(ctx context.Context, accountID uuid.UUID) (string, error) {
	var planID string
	err := s.pool.QueryRow(ctx, `
		SELECT plan_id FROM subscriptions WHERE account_id = $1`, accountID).Scan(&planID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve plan for account %s: %w", accountID, err)
	}
	return planID, nil
}

// PlanForWebhook resolves webhook -> job -> account -> subscription in one
// query. Webhooks without a job (collection webhooks) or without a
// subscription resolve to the empty plan.
func (s *Store) PlanForWebhook(ctx context.Context, webhookID uuid.UUID) (string, error) {
	var planID string
	err := s.pool.QueryRow(ctx, `
		SELECT sub.plan_id
		FROM webhooks w
		JOIN jobs j ON j.id = w.job_id
		JOIN subscriptions sub ON sub.account_id = j.account_id
		WHERE w.id = $1`, webhookID).Scan(&planID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve plan for webhook %s: %w", webhookID, err)
	}
	return planID, nil
}

// CountURLReceivers returns the number of webhook endpoints the account owns
// across its jobs and collections.
func (s *Store) CountURLReceivers(ctx context.Context, accountID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM webhooks w
		LEFT JOIN jobs j ON j.id = w.job_id
		LEFT JOIN collections c ON c.id = w.collection_id
		WHERE j.account_id = $1 OR c.account_id = $1`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count url receivers: %w", err)
	}
	return n, nil
}
