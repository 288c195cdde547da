package httpapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/firetick/firetick/internal/domain"
)

type accountResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func toAccountResponse(a *domain.Account) accountResponse {
	return accountResponse{ID: a.ID, UserID: a.UserID, Name: a.Name, CreatedAt: a.CreatedAt}
}

type webhookRequest struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	QueryParams map[string]string `json:"query_params"`
	Body        string            `json:"body"`
	ContentType string            `json:"content_type"`
	Order       *int              `json:"order"`
}

type webhookResponse struct {
	ID          uuid.UUID         `json:"id"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	QueryParams map[string]string `json:"query_params"`
	Body        string            `json:"body,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Order       *int              `json:"order,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

func toWebhookResponse(w *domain.Webhook) webhookResponse {
	return webhookResponse{
		ID:          w.ID,
		URL:         w.URL,
		Method:      w.Method,
		Headers:     w.Headers,
		QueryParams: w.QueryParams,
		Body:        w.Body,
		ContentType: w.ContentType,
		Order:       w.Order,
		CreatedAt:   w.CreatedAt,
	}
}

type createJobRequest struct {
	Name     string         `json:"name"`
	CronExpr string         `json:"cron_expr"`
	Timezone string         `json:"timezone"`
	Enabled  *bool          `json:"enabled"`
	Webhook  webhookRequest `json:"webhook"`
}

type updateJobRequest struct {
	Name     *string `json:"name"`
	CronExpr *string `json:"cron_expr"`
	Timezone *string `json:"timezone"`
	Enabled  *bool   `json:"enabled"`
}

type jobResponse struct {
	ID         uuid.UUID        `json:"id"`
	Name       string           `json:"name"`
	CronExpr   string           `json:"cron_expr"`
	Timezone   string           `json:"timezone"`
	Enabled    bool             `json:"enabled"`
	LastFireAt *time.Time       `json:"last_fire_at,omitempty"`
	NextFireAt *time.Time       `json:"next_fire_at,omitempty"`
	Webhook    *webhookResponse `json:"webhook,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func toJobResponse(j *domain.Job, w *domain.Webhook) jobResponse {
	resp := jobResponse{
		ID:         j.ID,
		Name:       j.Name,
		CronExpr:   j.CronExpr,
		Timezone:   j.Timezone,
		Enabled:    j.Enabled,
		LastFireAt: j.LastFireAt,
		NextFireAt: j.NextFireAt,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	if w != nil {
		wr := toWebhookResponse(w)
		resp.Webhook = &wr
	}
	return resp
}

type executionResponse struct {
	ID             uuid.UUID  `json:"id"`
	JobID          uuid.UUID  `json:"job_id"`
	Status         string     `json:"status"`
	Attempt        int        `json:"attempt"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	DurationMS     *int64     `json:"duration_ms,omitempty"`
	ResponseStatus *int       `json:"response_status,omitempty"`
	ResponseBody   *string    `json:"response_body,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toExecutionResponse(e *domain.JobExecution) executionResponse {
	return executionResponse{
		ID:             e.ID,
		JobID:          e.JobID,
		Status:         string(e.Status),
		Attempt:        e.Attempt,
		StartedAt:      e.StartedAt,
		FinishedAt:     e.FinishedAt,
		DurationMS:     e.DurationMS,
		ResponseStatus: e.ResponseStatus,
		ResponseBody:   e.ResponseBody,
		ErrorMessage:   e.ErrorMessage,
		CreatedAt:      e.CreatedAt,
	}
}

type createCollectionRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type collectionResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toCollectionResponse(c *domain.Collection) collectionResponse {
	return collectionResponse{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

type createRunRequest struct {
	ConcurrentUsers   int      `json:"concurrent_users"`
	DurationSeconds   int      `json:"duration_seconds"`
	RequestsPerSecond *float64 `json:"requests_per_second"`
}

type runResponse struct {
	ID                uuid.UUID  `json:"id"`
	CollectionID      uuid.UUID  `json:"collection_id"`
	Status            string     `json:"status"`
	ConcurrentUsers   int        `json:"concurrent_users"`
	DurationSeconds   int        `json:"duration_seconds"`
	RequestsPerSecond *float64   `json:"requests_per_second,omitempty"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toRunResponse(r *domain.CollectionRun) runResponse {
	return runResponse{
		ID:                r.ID,
		CollectionID:      r.CollectionID,
		Status:            string(r.Status),
		ConcurrentUsers:   r.ConcurrentUsers,
		DurationSeconds:   r.DurationSeconds,
		RequestsPerSecond: r.RequestsPerSecond,
		StartedAt:         r.StartedAt,
		CompletedAt:       r.CompletedAt,
		CreatedAt:         r.CreatedAt,
	}
}

type reportResponse struct {
	ID            uuid.UUID `json:"id"`
	RunID         uuid.UUID `json:"run_id"`
	TotalRequests int       `json:"total_requests"`
	SuccessCount  int       `json:"success_count"`
	FailureCount  int       `json:"failure_count"`
	AvgLatencyMS  *int64    `json:"avg_latency_ms,omitempty"`
	MinLatencyMS  *int64    `json:"min_latency_ms,omitempty"`
	MaxLatencyMS  *int64    `json:"max_latency_ms,omitempty"`
	P95LatencyMS  *int64    `json:"p95_latency_ms,omitempty"`
	P99LatencyMS  *int64    `json:"p99_latency_ms,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toReportResponse(r *domain.CollectionReport) reportResponse {
	return reportResponse{
		ID:            r.ID,
		RunID:         r.RunID,
		TotalRequests: r.TotalRequests,
		SuccessCount:  r.SuccessCount,
		FailureCount:  r.FailureCount,
		AvgLatencyMS:  r.AvgLatencyMS,
		MinLatencyMS:  r.MinLatencyMS,
		MaxLatencyMS:  r.MaxLatencyMS,
		P95LatencyMS:  r.P95LatencyMS,
		P99LatencyMS:  r.P99LatencyMS,
		CreatedAt:     r.CreatedAt,
	}
}
