package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/firetick/firetick/internal/domain"
)

const executionColumns = `id, job_id, status, attempt, worker_id, started_at, finished_at,
	duration_ms, response_status, response_body, error_message, created_at`

func scanExecution(row pgx.Row) (*domain.JobExecution, error) {
	var e domain.JobExecution
	err := row.Scan(&e.ID, &e.JobID, &e.Status, &e.Attempt, &e.WorkerID, &e.StartedAt,
		&e.FinishedAt, &e.DurationMS, &e.ResponseStatus, &e.ResponseBody, &e.ErrorMessage, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}
	return &e, nil
}

// InsertExecution creates a queued execution row for the given attempt.
// Retries append a new row rather than mutating the previous one, so the
// history is an append-only audit log.
func (s *Store) InsertExecution(ctx context.Context, jobID uuid.UUID, attempt int) (*domain.JobExecution, error) {
	row := s.db(ctx).QueryRow(ctx, `
		INSERT INTO job_executions (job_id, status, attempt)
		VALUES ($1, $2, $3)
		RETURNING `+executionColumns,
		jobID, domain.ExecutionQueued, attempt)
	return scanExecution(row)
}

// GetExecution fetches an execution by id.
func (s *Store) GetExecution(ctx context.Context, id uuid.UUID) (*domain.JobExecution, error) {
	row := s.db(ctx).QueryRow(ctx, `SELECT `+executionColumns+` FROM job_executions WHERE id = $1`, id)
	return scanExecution(row)
}

// MarkExecutionRunning transitions a queued execution to running and records
// the worker identity.
func (s *Store) MarkExecutionRunning(ctx context.Context, id uuid.UUID, workerID string, startedAt time.Time) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE job_executions
		SET status = $2, worker_id = $3, started_at = $4
		WHERE id = $1`, id, domain.ExecutionRunning, workerID, startedAt)
	if err != nil {
		return fmt.Errorf("failed to mark execution %s running: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExecutionNotFound
	}
	return nil
}

// CompleteExecutionParams carries the terminal outcome of one attempt.
type CompleteExecutionParams struct {
	ID             uuid.UUID
	Status         domain.ExecutionStatus
	FinishedAt     time.Time
	DurationMS     *int64
	ResponseStatus *int
	ResponseBody   *string
	ErrorMessage   *string
}

// CompleteExecution writes the terminal state of an execution.
func (s *Store) CompleteExecution(ctx context.Context, p CompleteExecutionParams) error {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE job_executions
		SET status = $2, finished_at = $3, duration_ms = $4,
		    response_status = $5, response_body = $6, error_message = $7
		WHERE id = $1`,
		p.ID, p.Status, p.FinishedAt, p.DurationMS, p.ResponseStatus, p.ResponseBody, p.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to complete execution %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExecutionNotFound
	}
	return nil
}

// ListExecutionsByJob returns the most recent executions for a job.
func (s *Store) ListExecutionsByJob(ctx context.Context, jobID uuid.UUID, limit int) ([]domain.JobExecution, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+executionColumns+`
		FROM job_executions
		WHERE job_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var execs []domain.JobExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, *e)
	}
	return execs, rows.Err()
}
