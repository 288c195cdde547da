// Package worker consumes queued executions from the broker, performs the
// outbound webhook call, and drives the retry chain to success or
// dead-letter.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/firetick/firetick/internal/broker"
	"github.com/firetick/firetick/internal/domain"
	"github.com/firetick/firetick/internal/quota"
	"github.com/firetick/firetick/internal/storage/postgres"
)

// DefaultRequestTimeout is the hard bound on one webhook call.
const DefaultRequestTimeout = 300 * time.Second

// Store is the persistence surface the executor needs.
type Store interface {
	GetExecution(ctx context.Context, id uuid.UUID) (*domain.JobExecution, error)
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	WebhookByJob(ctx context.Context, jobID uuid.UUID) (*domain.Webhook, error)
	MarkExecutionRunning(ctx context.Context, id uuid.UUID, workerID string, startedAt time.Time) error
	CompleteExecution(ctx context.Context, p postgres.CompleteExecutionParams) error
	InsertExecution(ctx context.Context, jobID uuid.UUID, attempt int) (*domain.JobExecution, error)
}

// RateLimiter is the daily quota surface.
type RateLimiter interface {
	CheckWebhook(ctx context.Context, webhookID uuid.UUID) quota.Decision
	IncrementWebhook(ctx context.Context, webhookID uuid.UUID) int64
}

// Enqueuer schedules retry deliveries.
type Enqueuer interface {
	Enqueue(ctx context.Context, task string, args []string, eta *time.Time) error
}

// Executor handles execute-job deliveries. Redelivery of a terminal
// execution is a no-op, which makes the handler idempotent under the
// broker's at-least-once semantics.
type Executor struct {
	store    Store
	limiter  RateLimiter
	queue    Enqueuer
	client   *http.Client
	workerID string
	policy   RetryPolicy
	log      *slog.Logger
	now      func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient overrides the egress client. Used by tests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor identified by workerID.
func NewExecutor(store Store, limiter RateLimiter, queue Enqueuer, workerID string, policy RetryPolicy, log *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		store:    store,
		limiter:  limiter,
		queue:    queue,
		client:   &http.Client{Timeout: DefaultRequestTimeout},
		workerID: workerID,
		policy:   policy,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handler adapts the executor to the broker's delivery signature.
func (e *Executor) Handler() broker.Handler {
	return func(ctx context.Context, msg broker.Message) error {
		if len(msg.Args) == 0 {
			return fmt.Errorf("execute-job message %s has no arguments", msg.ID)
		}
		executionID, err := uuid.Parse(msg.Args[0])
		if err != nil {
			return fmt.Errorf("%w: %q", domain.ErrInvalidID, msg.Args[0])
		}
		return e.Execute(ctx, executionID)
	}
}

// Execute performs one delivery attempt for the given execution id.
func (e *Executor) Execute(ctx context.Context, executionID uuid.UUID) error {
	start := e.now()

	exec, err := e.store.GetExecution(ctx, executionID)
	if errors.Is(err, domain.ErrExecutionNotFound) {
		e.log.ErrorContext(ctx, "execution not found", "execution_id", executionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}
	if exec.Status.IsTerminal() {
		e.log.InfoContext(ctx, "skipping redelivered terminal execution",
			"execution_id", executionID, "status", exec.Status)
		return nil
	}

	job, err := e.store.GetJob(ctx, exec.JobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return e.failTerminal(ctx, exec, "Job not found", start)
	}
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", exec.JobID, err)
	}
	if !job.Enabled {
		e.log.WarnContext(ctx, "job disabled, failing execution",
			"job_id", job.ID, "execution_id", executionID)
		return e.failTerminal(ctx, exec, "Job is disabled", start)
	}

	webhook, err := e.store.WebhookByJob(ctx, job.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return e.failTerminal(ctx, exec, "Webhook not found", start)
	}
	if err != nil {
		return fmt.Errorf("failed to load webhook for job %s: %w", job.ID, err)
	}

	// A rate-limited fire is a terminal failure that never consumes a retry
	// attempt.
	if d := e.limiter.CheckWebhook(ctx, webhook.ID); !d.Allowed {
		e.log.WarnContext(ctx, "execution rate limited",
			"webhook_id", webhook.ID, "current", d.Current, "limit", d.Limit)
		return e.failTerminal(ctx, exec, "rate limit exceeded", start)
	}
	e.limiter.IncrementWebhook(ctx, webhook.ID)

	if err := e.store.MarkExecutionRunning(ctx, exec.ID, e.workerID, start.UTC()); err != nil {
		return fmt.Errorf("failed to mark execution running: %w", err)
	}

	status, body, callErr := e.callWebhook(ctx, webhook, exec.ID.String(), job.Name)
	durationMS := e.now().Sub(start).Milliseconds()

	if callErr != nil {
		e.handleFailure(ctx, exec, job, callErr.Error(), durationMS, status)
		return nil
	}

	truncated := truncate(body, maxResponseBodyBytes)
	err = e.store.CompleteExecution(ctx, postgres.CompleteExecutionParams{
		ID:             exec.ID,
		Status:         domain.ExecutionSuccess,
		FinishedAt:     e.now().UTC(),
		DurationMS:     &durationMS,
		ResponseStatus: &status,
		ResponseBody:   &truncated,
	})
	if err != nil {
		return fmt.Errorf("failed to record success: %w", err)
	}
	e.log.InfoContext(ctx, "execution succeeded",
		"job_id", job.ID, "execution_id", exec.ID, "status", status, "duration_ms", durationMS)
	return nil
}

// callWebhook performs the HTTP call. A 2xx/3xx response returns the status
// and body; anything else returns an error describing the failure.
func (e *Executor) callWebhook(ctx context.Context, wh *domain.Webhook, executionID, jobName string) (int, string, error) {
	body := renderTemplate(wh.Body, executionID, jobName, e.now())

	req, err := buildRequest(ctx, wh, body)
	if err != nil {
		return 0, "", err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return 0, "", errors.New("Request timed out")
		}
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes+1))
	if readErr != nil {
		return resp.StatusCode, "", fmt.Errorf("failed to read response body: %w", readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return resp.StatusCode, "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(raw), maxErrorBytes))
	}
	return resp.StatusCode, string(raw), nil
}

// handleFailure routes a failed attempt: a retry when attempts remain, the
// dead letter otherwise. Retries append a new queued execution row and an
// ETA-delayed enqueue.
func (e *Executor) handleFailure(ctx context.Context, exec *domain.JobExecution, job *domain.Job, errMsg string, durationMS int64, status int) {
	errMsg = truncate(errMsg, maxErrorBytes)
	var respStatus *int
	if status != 0 {
		respStatus = &status
	}

	if exec.Attempt >= e.policy.MaxAttempts {
		deadMsg := fmt.Sprintf("Max attempts (%d) exceeded. Last error: %s", e.policy.MaxAttempts, errMsg)
		err := e.store.CompleteExecution(ctx, postgres.CompleteExecutionParams{
			ID:             exec.ID,
			Status:         domain.ExecutionDeadLetter,
			FinishedAt:     e.now().UTC(),
			DurationMS:     &durationMS,
			ResponseStatus: respStatus,
			ErrorMessage:   &deadMsg,
		})
		if err != nil {
			e.log.ErrorContext(ctx, "failed to record dead letter",
				"execution_id", exec.ID, "error", err)
			return
		}
		e.log.ErrorContext(ctx, "execution moved to dead letter",
			"job_id", job.ID, "execution_id", exec.ID, "attempts", exec.Attempt)
		return
	}

	err := e.store.CompleteExecution(ctx, postgres.CompleteExecutionParams{
		ID:             exec.ID,
		Status:         domain.ExecutionFailure,
		FinishedAt:     e.now().UTC(),
		DurationMS:     &durationMS,
		ResponseStatus: respStatus,
		ErrorMessage:   &errMsg,
	})
	if err != nil {
		e.log.ErrorContext(ctx, "failed to record failure",
			"execution_id", exec.ID, "error", err)
		return
	}

	next, err := e.store.InsertExecution(ctx, job.ID, exec.Attempt+1)
	if err != nil {
		e.log.ErrorContext(ctx, "failed to create retry execution",
			"job_id", job.ID, "error", err)
		return
	}

	retryAt := e.now().UTC().Add(e.policy.Delay(exec.Attempt))
	if err := e.queue.Enqueue(ctx, broker.TaskExecuteJob, []string{next.ID.String()}, &retryAt); err != nil {
		e.log.ErrorContext(ctx, "failed to enqueue retry",
			"execution_id", next.ID, "error", err)
		return
	}
	e.log.InfoContext(ctx, "scheduled retry",
		"job_id", job.ID, "attempt", next.Attempt, "max_attempts", e.policy.MaxAttempts, "retry_at", retryAt)
}

// failTerminal marks the execution failed with a reason and spawns no retry
// chain.
func (e *Executor) failTerminal(ctx context.Context, exec *domain.JobExecution, reason string, start time.Time) error {
	durationMS := e.now().Sub(start).Milliseconds()
	err := e.store.CompleteExecution(ctx, postgres.CompleteExecutionParams{
		ID:           exec.ID,
		Status:       domain.ExecutionFailure,
		FinishedAt:   e.now().UTC(),
		DurationMS:   &durationMS,
		ErrorMessage: &reason,
	})
	if err != nil {
		return fmt.Errorf("failed to record terminal failure: %w", err)
	}
	return nil
}
