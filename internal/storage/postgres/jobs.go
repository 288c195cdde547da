package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/firetick/firetick/internal/domain"
)

const jobColumns = `id, account_id, name, cron_expr, timezone, enabled, last_fire_at, next_fire_at, created_at, updated_at`

// pgLockNotAvailable is the SQLSTATE raised by FOR UPDATE NOWAIT when the row
// is already locked.
const pgLockNotAvailable = "55P03"

func scanJob(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(&j.ID, &j.AccountID, &j.Name, &j.CronExpr, &j.Timezone,
		&j.Enabled, &j.LastFireAt, &j.NextFireAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	return &j, nil
}

// FindDueJobs returns up to limit enabled jobs whose next fire time has
// passed, oldest first.
func (s *Store) FindDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE enabled AND next_fire_at IS NOT NULL AND next_fire_at <= $1
		ORDER BY next_fire_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// CreateJobParams carries the fields callers set when creating a job.
type CreateJobParams struct {
	AccountID  uuid.UUID
	Name       string
	CronExpr   string
	Timezone   string
	Enabled    bool
	NextFireAt *time.Time
}

// CreateJob inserts a job and returns the stored row.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (*domain.Job, error) {
	tz := p.Timezone
	if tz == "" {
		tz = "UTC"
	}
	row := s.db(ctx).QueryRow(ctx, `
		INSERT INTO jobs (account_id, name, cron_expr, timezone, enabled, next_fire_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+jobColumns,
		p.AccountID, p.Name, p.CronExpr, tz, p.Enabled, p.NextFireAt)
	return scanJob(row)
}

// UpdateJob persists the mutable fields of a job.
func (s *Store) UpdateJob(ctx context.Context, j *domain.Job) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE jobs
		SET name = $2, cron_expr = $3, timezone = $4, enabled = $5,
		    last_fire_at = $6, next_fire_at = $7, updated_at = now()
		WHERE id = $1`,
		j.ID, j.Name, j.CronExpr, j.Timezone, j.Enabled, j.LastFireAt, j.NextFireAt)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", j.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job; executions and its webhook cascade.
func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db(ctx).Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// ListJobs returns the account's jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, accountID uuid.UUID) ([]domain.Job, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// AdvanceJob records a fire: last_fire_at moves to firedAt and next_fire_at
// to the following cron instant. A nil nextFireAt clears the schedule for
// expressions with no future fire.
func (s *Store) AdvanceJob(ctx context.Context, id uuid.UUID, firedAt time.Time, nextFireAt *time.Time) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE jobs
		SET last_fire_at = $2, next_fire_at = $3, updated_at = now()
		WHERE id = $1`, id, firedAt, nextFireAt)
	if err != nil {
		return fmt.Errorf("failed to advance job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// WithJobRowLock runs fn while holding an exclusive row lock on the job,
// taken with FOR UPDATE NOWAIT. It returns domain.ErrLockNotAcquired when
// another session holds the row. This is the scheduler's claim fallback when
// the coordination store is unavailable.
//
// The ctx handed to fn carries the locking transaction, so store calls made
// inside fn execute on it rather than on a second pool connection that would
// block on the very lock the transaction holds.
func (s *Store) WithJobRowLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	return s.claimOnTx(ctx, tx, id, fn)
}

func (s *Store) claimOnTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, fn func(ctx context.Context) error) error {
	defer func() { _ = tx.Rollback(ctx) }()

	var locked uuid.UUID
	err := tx.QueryRow(ctx, `SELECT id FROM jobs WHERE id = $1 FOR UPDATE NOWAIT`, id).Scan(&locked)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return domain.ErrLockNotAcquired
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrJobNotFound
		}
		return fmt.Errorf("failed to lock job row %s: %w", id, err)
	}

	if err := fn(withTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CountJobs returns the number of live jobs for an account.
func (s *Store) CountJobs(ctx context.Context, accountID uuid.UUID) (int, error) {
	var n int
	err := s.db(ctx).QueryRow(ctx, `SELECT count(*) FROM jobs WHERE account_id = $1`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}
