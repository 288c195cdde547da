package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account is the tenant unit. It owns jobs, collections and one subscription.
// Accounts are provisioned idempotently by (UserID, Name) on first
// authenticated use.
type Account struct {
	ID        uuid.UUID
	UserID    string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subscription binds an account to a billing plan. Exactly one per account.
type Subscription struct {
	ID                 uuid.UUID
	AccountID          uuid.UUID
	BillingID          string
	PlanID             string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelReason       *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Tier returns the subscription's effective tier, derived from the plan id.
func (s *Subscription) Tier() Tier {
	if s == nil {
		return TierFree
	}
	return TierFromPlanID(s.PlanID)
}

// Job is a scheduled outbound call bound to a cron expression.
//
// When Enabled is true, NextFireAt is non-nil and holds the next cron-derived
// instant strictly greater than LastFireAt (or the creation time if the job
// never fired). Disabled jobs are ignored by the poller.
type Job struct {
	ID         uuid.UUID
	AccountID  uuid.UUID
	Name       string
	CronExpr   string
	Timezone   string
	Enabled    bool
	LastFireAt *time.Time
	NextFireAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Webhook is the HTTP call definition attached to either a job or a
// collection. Exactly one of JobID and CollectionID is set.
//
// Order applies to collection webhooks only: lower fires first, nil sorts
// last.
type Webhook struct {
	ID           uuid.UUID
	JobID        *uuid.UUID
	CollectionID *uuid.UUID
	URL          string
	Method       string
	Headers      map[string]string
	QueryParams  map[string]string
	Body         string
	ContentType  string
	Order        *int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JobExecution is one delivery attempt for a job. Retries create a new row
// per attempt so the execution history is an append-only audit log.
type JobExecution struct {
	ID             uuid.UUID
	JobID          uuid.UUID
	Status         ExecutionStatus
	Attempt        int
	WorkerID       *string
	StartedAt      *time.Time
	FinishedAt     *time.Time
	DurationMS     *int64
	ResponseStatus *int
	ResponseBody   *string
	ErrorMessage   *string
	CreatedAt      time.Time
}

// Collection is an ordered bundle of webhooks used as load-run input.
type Collection struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	Name        *string
	Description *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CollectionRun is one load-test execution of a collection.
//
// RequestsPerSecond, when set, caps each virtual user to one full pass over
// the endpoint list per 1/rps seconds. The sleep applies per iteration of the
// whole collection, not per request.
type CollectionRun struct {
	ID                uuid.UUID
	CollectionID      uuid.UUID
	Status            RunStatus
	ConcurrentUsers   int
	DurationSeconds   int
	RequestsPerSecond *float64
	StartedAt         *time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
}

// CollectionReport is the aggregate summary of one run. P95 and P99 are nil
// when fewer than 20 samples were recorded.
type CollectionReport struct {
	ID            uuid.UUID
	RunID         uuid.UUID
	TotalRequests int
	SuccessCount  int
	FailureCount  int
	AvgLatencyMS  *int64
	MinLatencyMS  *int64
	MaxLatencyMS  *int64
	P95LatencyMS  *int64
	P99LatencyMS  *int64
	CreatedAt     time.Time
}

// CollectionResult is one request sample recorded during a run. Body fields
// are stored truncated.
type CollectionResult struct {
	ID              uuid.UUID
	ReportID        uuid.UUID
	Endpoint        string
	Method          string
	RequestHeaders  map[string]string
	RequestBody     *string
	ResponseStatus  *int
	ResponseHeaders map[string]string
	ResponseBody    *string
	ResponseTimeMS  int64
	IsSuccess       bool
	ErrorText       *string
	CreatedAt       time.Time
}
