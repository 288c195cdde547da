// Package loadtest runs collection load tests: a pool of virtual users
// cycles through a collection's endpoints for a bounded duration, recording
// per-request samples and a rolled-up latency report.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/firetick/firetick/internal/broker"
	"github.com/firetick/firetick/internal/domain"
	"github.com/firetick/firetick/internal/storage/postgres"
)

// DefaultRequestTimeout bounds each individual load-test request.
const DefaultRequestTimeout = 30 * time.Second

// Truncation limits for persisted samples.
const (
	maxBodyBytes  = 10 * 1024
	maxErrorBytes = 1024
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetRun(ctx context.Context, id uuid.UUID) (*domain.CollectionRun, error)
	RunStatus(ctx context.Context, id uuid.UUID) (domain.RunStatus, error)
	MarkRunRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	FinishRun(ctx context.Context, id uuid.UUID, status domain.RunStatus, completedAt time.Time) error
	WebhooksByCollection(ctx context.Context, collectionID uuid.UUID) ([]domain.Webhook, error)
	CreateReport(ctx context.Context, runID uuid.UUID) (*domain.CollectionReport, error)
	AppendResult(ctx context.Context, r *domain.CollectionResult) error
	FinalizeReport(ctx context.Context, p postgres.FinalizeReportParams) error
	ResetRun(ctx context.Context, id uuid.UUID) error
}

// Enqueuer re-enqueues reset runs.
type Enqueuer interface {
	Enqueue(ctx context.Context, task string, args []string, eta *time.Time) error
}

// Orchestrator executes collection runs.
type Orchestrator struct {
	store  Store
	queue  Enqueuer
	client *http.Client
	log    *slog.Logger
	now    func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHTTPClient overrides the egress client. Used by tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) { o.client = c }
}

// New creates an Orchestrator.
func New(store Store, queue Enqueuer, log *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		queue:  queue,
		client: &http.Client{Timeout: DefaultRequestTimeout},
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handler adapts the orchestrator to the broker's delivery signature for
// run-collection tasks.
func (o *Orchestrator) Handler() broker.Handler {
	return func(ctx context.Context, msg broker.Message) error {
		if len(msg.Args) == 0 {
			return fmt.Errorf("run-collection message %s has no arguments", msg.ID)
		}
		runID, err := uuid.Parse(msg.Args[0])
		if err != nil {
			return fmt.Errorf("%w: %q", domain.ErrInvalidID, msg.Args[0])
		}
		return o.Run(ctx, runID)
	}
}

// Run executes one collection run to a terminal state: completed, failed, or
// cancelled.
func (o *Orchestrator) Run(ctx context.Context, runID uuid.UUID) error {
	run, err := o.store.GetRun(ctx, runID)
	if errors.Is(err, domain.ErrRunNotFound) {
		o.log.ErrorContext(ctx, "run not found", "run_id", runID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run.Status.IsTerminal() {
		o.log.InfoContext(ctx, "skipping redelivered terminal run",
			"run_id", runID, "status", run.Status)
		return nil
	}

	started := o.now().UTC()
	if err := o.store.MarkRunRunning(ctx, runID, started); err != nil {
		return fmt.Errorf("failed to start run %s: %w", runID, err)
	}

	endpoints, err := o.store.WebhooksByCollection(ctx, run.CollectionID)
	if err != nil {
		o.finish(ctx, runID, domain.RunFailed)
		return fmt.Errorf("failed to load endpoints for run %s: %w", runID, err)
	}
	if len(endpoints) == 0 {
		o.log.WarnContext(ctx, "collection has no endpoints", "run_id", runID)
		o.finish(ctx, runID, domain.RunFailed)
		return nil
	}

	report, err := o.store.CreateReport(ctx, runID)
	if err != nil {
		o.finish(ctx, runID, domain.RunFailed)
		return fmt.Errorf("failed to create report for run %s: %w", runID, err)
	}

	o.log.InfoContext(ctx, "load run started",
		"run_id", runID, "collection_id", run.CollectionID,
		"concurrent_users", run.ConcurrentUsers, "duration_seconds", run.DurationSeconds)

	deadline := started.Add(time.Duration(run.DurationSeconds) * time.Second)
	samples := &sampleSet{}
	cancelled := false

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for range run.ConcurrentUsers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if o.runVirtualUser(ctx, run, report.ID, endpoints, deadline, samples) {
				mu.Lock()
				cancelled = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	agg := samples.summarize()
	if err := o.store.FinalizeReport(ctx, postgres.FinalizeReportParams{
		ID:            report.ID,
		TotalRequests: agg.Total,
		SuccessCount:  agg.Success,
		FailureCount:  agg.Failed,
		AvgLatencyMS:  agg.AvgMS,
		MinLatencyMS:  agg.MinMS,
		MaxLatencyMS:  agg.MaxMS,
		P95LatencyMS:  agg.P95MS,
		P99LatencyMS:  agg.P99MS,
	}); err != nil {
		o.finish(ctx, runID, domain.RunFailed)
		return fmt.Errorf("failed to finalize report for run %s: %w", runID, err)
	}

	final := domain.RunCompleted
	if !cancelled {
		// A cancel requested right before the deadline may never be observed
		// by a virtual user. Re-read the stored status so the terminal write
		// does not overwrite it with completed.
		if status, err := o.store.RunStatus(ctx, runID); err == nil && status == domain.RunCancelled {
			cancelled = true
		}
	}
	if cancelled {
		final = domain.RunCancelled
	}
	o.finish(ctx, runID, final)

	o.log.InfoContext(ctx, "load run finished",
		"run_id", runID, "status", final,
		"total", agg.Total, "success", agg.Success, "failed", agg.Failed)
	return nil
}

// runVirtualUser cycles through the endpoint list until the deadline.
// Between full iterations it checks the run status for cooperative
// cancellation and applies the per-iteration rate pacing. Returns true when
// the run was observed cancelled.
func (o *Orchestrator) runVirtualUser(ctx context.Context, run *domain.CollectionRun, reportID uuid.UUID, endpoints []domain.Webhook, deadline time.Time, samples *sampleSet) bool {
	for o.now().Before(deadline) {
		if ctx.Err() != nil {
			return false
		}

		status, err := o.store.RunStatus(ctx, run.ID)
		if err == nil && status == domain.RunCancelled {
			return true
		}

		for i := range endpoints {
			if !o.now().Before(deadline) {
				return false
			}
			o.fireOnce(ctx, reportID, &endpoints[i], samples)
		}

		// requests_per_second paces full passes over the collection, not
		// individual requests.
		if run.RequestsPerSecond != nil && *run.RequestsPerSecond > 0 {
			pause := time.Duration(float64(time.Second) / *run.RequestsPerSecond)
			select {
			case <-ctx.Done():
				return false
			case <-time.After(pause):
			}
		}
	}
	return false
}

// fireOnce performs one request against one endpoint and records the sample.
func (o *Orchestrator) fireOnce(ctx context.Context, reportID uuid.UUID, wh *domain.Webhook, samples *sampleSet) {
	reqCtx, cancel := context.WithTimeout(ctx, DefaultRequestTimeout)
	defer cancel()

	method := wh.Method
	if method == "" {
		method = http.MethodGet
	}

	result := &domain.CollectionResult{
		ReportID:       reportID,
		Endpoint:       wh.URL,
		Method:         method,
		RequestHeaders: wh.Headers,
	}
	if wh.Body != "" {
		body := truncate(wh.Body, maxBodyBytes)
		result.RequestBody = &body
	}

	start := o.now()
	status, respHeaders, respBody, err := o.doRequest(reqCtx, method, wh)
	latency := o.now().Sub(start).Milliseconds()

	result.ResponseTimeMS = latency
	if err != nil {
		msg := truncate(err.Error(), maxErrorBytes)
		result.ErrorText = &msg
	} else {
		result.ResponseStatus = &status
		result.ResponseHeaders = respHeaders
		body := truncate(respBody, maxBodyBytes)
		result.ResponseBody = &body
		result.IsSuccess = status >= 200 && status < 400
	}

	samples.add(latency, result.IsSuccess)

	if err := o.store.AppendResult(ctx, result); err != nil {
		o.log.WarnContext(ctx, "failed to record sample",
			"report_id", reportID, "endpoint", wh.URL, "error", err)
	}
}

func (o *Orchestrator) doRequest(ctx context.Context, method string, wh *domain.Webhook) (int, map[string]string, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, wh.URL, strings.NewReader(wh.Body))
	if err != nil {
		return 0, nil, "", err
	}
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}
	if wh.ContentType != "" {
		req.Header.Set("Content-Type", wh.ContentType)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return resp.StatusCode, nil, "", err
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return resp.StatusCode, headers, string(raw), nil
}

// Reset prepares a terminal run for re-execution and enqueues it again. The
// previous reports and samples are purged transactionally.
func (o *Orchestrator) Reset(ctx context.Context, runID uuid.UUID) error {
	if err := o.store.ResetRun(ctx, runID); err != nil {
		return fmt.Errorf("failed to reset run %s: %w", runID, err)
	}
	if err := o.queue.Enqueue(ctx, broker.TaskRunCollection, []string{runID.String()}, nil); err != nil {
		return fmt.Errorf("failed to re-enqueue run %s: %w", runID, err)
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, runID uuid.UUID, status domain.RunStatus) {
	if err := o.store.FinishRun(ctx, runID, status, o.now().UTC()); err != nil {
		o.log.ErrorContext(ctx, "failed to finish run",
			"run_id", runID, "status", status, "error", err)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
