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

const runColumns = `id, collection_id, status, concurrent_users, duration_seconds,
	requests_per_second, started_at, completed_at, created_at`

const reportColumns = `id, run_id, total_requests, success_count, failure_count,
	avg_latency_ms, min_latency_ms, max_latency_ms, p95_latency_ms, p99_latency_ms, created_at`

func scanRun(row pgx.Row) (*domain.CollectionRun, error) {
	var r domain.CollectionRun
	err := row.Scan(&r.ID, &r.CollectionID, &r.Status, &r.ConcurrentUsers, &r.DurationSeconds,
		&r.RequestsPerSecond, &r.StartedAt, &r.CompletedAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return &r, nil
}

func scanReport(row pgx.Row) (*domain.CollectionReport, error) {
	var r domain.CollectionReport
	err := row.Scan(&r.ID, &r.RunID, &r.TotalRequests, &r.SuccessCount, &r.FailureCount,
		&r.AvgLatencyMS, &r.MinLatencyMS, &r.MaxLatencyMS, &r.P95LatencyMS, &r.P99LatencyMS, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}
	return &r, nil
}

// CreateRunParams carries the load profile for a new run.
type CreateRunParams struct {
	CollectionID      uuid.UUID
	ConcurrentUsers   int
	DurationSeconds   int
	RequestsPerSecond *float64
}

// CreateRun inserts a pending run.
func (s *Store) CreateRun(ctx context.Context, p CreateRunParams) (*domain.CollectionRun, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO collection_runs (collection_id, status, concurrent_users, duration_seconds, requests_per_second)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+runColumns,
		p.CollectionID, domain.RunPending, p.ConcurrentUsers, p.DurationSeconds, p.RequestsPerSecond)
	return scanRun(row)
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*domain.CollectionRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM collection_runs WHERE id = $1`, id)
	return scanRun(row)
}

// RunStatus reads just the run's status. Virtual users poll this between
// iterations to observe cancellation.
func (s *Store) RunStatus(ctx context.Context, id uuid.UUID) (domain.RunStatus, error) {
	var status domain.RunStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM collection_runs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrRunNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read run status %s: %w", id, err)
	}
	return status, nil
}

// MarkRunRunning transitions a pending run to running.
func (s *Store) MarkRunRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE collection_runs SET status = $2, started_at = $3 WHERE id = $1`,
		id, domain.RunRunning, startedAt)
	if err != nil {
		return fmt.Errorf("failed to mark run %s running: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// FinishRun writes the run's terminal status and completion time.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, completedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE collection_runs SET status = $2, completed_at = $3 WHERE id = $1`,
		id, status, completedAt)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// RequestRunCancel flags a running or pending run as cancelled. Virtual
// users observe the flag cooperatively.
func (s *Store) RequestRunCancel(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE collection_runs SET status = $2
		WHERE id = $1 AND status IN ($3, $4)`,
		id, domain.RunCancelled, domain.RunPending, domain.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to cancel run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// CreateReport inserts an empty pending report for a run.
func (s *Store) CreateReport(ctx context.Context, runID uuid.UUID) (*domain.CollectionReport, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO collection_reports (run_id) VALUES ($1)
		RETURNING `+reportColumns, runID)
	return scanReport(row)
}

// GetReportByRun returns the run's report.
func (s *Store) GetReportByRun(ctx context.Context, runID uuid.UUID) (*domain.CollectionReport, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+reportColumns+` FROM collection_reports WHERE run_id = $1
		ORDER BY created_at DESC LIMIT 1`, runID)
	return scanReport(row)
}

// AppendResult records one request sample. Samples are written concurrently
// by virtual users; ordering beyond created_at is not guaranteed.
func (s *Store) AppendResult(ctx context.Context, r *domain.CollectionResult) error {
	headers := r.RequestHeaders
	if headers == nil {
		headers = map[string]string{}
	}
	respHeaders := r.ResponseHeaders
	if respHeaders == nil {
		respHeaders = map[string]string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO collection_results
			(report_id, endpoint, method, request_headers, request_body,
			 response_status, response_headers, response_body, response_time_ms, is_success, error_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ReportID, r.Endpoint, r.Method, headers, r.RequestBody,
		r.ResponseStatus, respHeaders, r.ResponseBody, r.ResponseTimeMS, r.IsSuccess, r.ErrorText)
	if err != nil {
		return fmt.Errorf("failed to append result: %w", err)
	}
	return nil
}

// FinalizeReportParams carries the rolled-up aggregates for a finished run.
type FinalizeReportParams struct {
	ID            uuid.UUID
	TotalRequests int
	SuccessCount  int
	FailureCount  int
	AvgLatencyMS  *int64
	MinLatencyMS  *int64
	MaxLatencyMS  *int64
	P95LatencyMS  *int64
	P99LatencyMS  *int64
}

// FinalizeReport writes the aggregates into the report row.
func (s *Store) FinalizeReport(ctx context.Context, p FinalizeReportParams) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE collection_reports
		SET total_requests = $2, success_count = $3, failure_count = $4,
		    avg_latency_ms = $5, min_latency_ms = $6, max_latency_ms = $7,
		    p95_latency_ms = $8, p99_latency_ms = $9
		WHERE id = $1`,
		p.ID, p.TotalRequests, p.SuccessCount, p.FailureCount,
		p.AvgLatencyMS, p.MinLatencyMS, p.MaxLatencyMS, p.P95LatencyMS, p.P99LatencyMS)
	if err != nil {
		return fmt.Errorf("failed to finalize report %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ResetRun prepares a terminal run for re-execution: status back to pending,
// timestamps cleared, previous reports and their results purged. The whole
// reset is one transaction.
func (s *Store) ResetRun(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin reset transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE collection_runs
		SET status = $2, started_at = NULL, completed_at = NULL
		WHERE id = $1`, id, domain.RunPending)
	if err != nil {
		return fmt.Errorf("failed to reset run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrRunNotFound
	}

	// Results cascade with their reports.
	if _, err := tx.Exec(ctx, `DELETE FROM collection_reports WHERE run_id = $1`, id); err != nil {
		return fmt.Errorf("failed to purge reports for run %s: %w", id, err)
	}

	return tx.Commit(ctx)
}

// ListRunsByCollection returns the collection's runs, newest first.
func (s *Store) ListRunsByCollection(ctx context.Context, collectionID uuid.UUID) ([]domain.CollectionRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM collection_runs
		WHERE collection_id = $1 ORDER BY created_at DESC`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.CollectionRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}
