package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firetick/firetick/internal/auth"
	"github.com/firetick/firetick/internal/domain"
	"github.com/firetick/firetick/internal/quota"
	"github.com/firetick/firetick/internal/storage/postgres"
)

const testSecret = "test-signing-secret"

type fakeStore struct {
	mu          sync.Mutex
	accounts    map[string]*domain.Account
	plans       map[uuid.UUID]string
	jobs        map[uuid.UUID]*domain.Job
	webhooks    map[uuid.UUID]*domain.Webhook
	executions  map[uuid.UUID][]domain.JobExecution
	collections map[uuid.UUID]*domain.Collection
	runs        map[uuid.UUID]*domain.CollectionRun
	reports     map[uuid.UUID]*domain.CollectionReport
	resets      []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:    map[string]*domain.Account{},
		plans:       map[uuid.UUID]string{},
		jobs:        map[uuid.UUID]*domain.Job{},
		webhooks:    map[uuid.UUID]*domain.Webhook{},
		executions:  map[uuid.UUID][]domain.JobExecution{},
		collections: map[uuid.UUID]*domain.Collection{},
		runs:        map[uuid.UUID]*domain.CollectionRun{},
		reports:     map[uuid.UUID]*domain.CollectionReport{},
	}
}

func (f *fakeStore) GetOrCreateAccount(_ context.Context, userID, name string) (*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := userID + "/" + name
	if a, ok := f.accounts[key]; ok {
		cp := *a
		return &cp, nil
	}
	a := &domain.Account{ID: uuid.New(), UserID: userID, Name: name, CreatedAt: time.Now()}
	f.accounts[key] = a
	cp := *a
	return &cp, nil
}

func (f *fakeStore) DeleteAccount(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, a := range f.accounts {
		if a.ID == id {
			delete(f.accounts, key)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) GetSubscriptionByAccount(_ context.Context, accountID uuid.UUID) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	plan, ok := f.plans[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.Subscription{AccountID: accountID, BillingID: "bill-1", PlanID: plan}, nil
}

func (f *fakeStore) PlanForAccount(_ context.Context, accountID uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plans[accountID], nil
}

func (f *fakeStore) CreateJob(_ context.Context, p postgres.CreateJobParams) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := &domain.Job{
		ID:         uuid.New(),
		AccountID:  p.AccountID,
		Name:       p.Name,
		CronExpr:   p.CronExpr,
		Timezone:   p.Timezone,
		Enabled:    p.Enabled,
		NextFireAt: p.NextFireAt,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	f.jobs[j.ID] = j
	cp := *j
	return &cp, nil
}

func (f *fakeStore) GetJob(_ context.Context, id uuid.UUID) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeStore) UpdateJob(_ context.Context, j *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[j.ID]; !ok {
		return domain.ErrJobNotFound
	}
	cp := *j
	f.jobs[j.ID] = &cp
	return nil
}

func (f *fakeStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return domain.ErrJobNotFound
	}
	delete(f.jobs, id)
	return nil
}

func (f *fakeStore) ListJobs(_ context.Context, accountID uuid.UUID) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Job
	for _, j := range f.jobs {
		if j.AccountID == accountID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (f *fakeStore) ListExecutionsByJob(_ context.Context, jobID uuid.UUID, limit int) ([]domain.JobExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	execs := f.executions[jobID]
	if len(execs) > limit {
		execs = execs[:limit]
	}
	return execs, nil
}

func (f *fakeStore) CreateWebhook(_ context.Context, w *domain.Webhook) (*domain.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *w
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now()
	f.webhooks[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeStore) WebhookByJob(_ context.Context, jobID uuid.UUID) (*domain.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.webhooks {
		if w.JobID != nil && *w.JobID == jobID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) WebhooksByCollection(_ context.Context, collectionID uuid.UUID) ([]domain.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Webhook
	for _, w := range f.webhooks {
		if w.CollectionID != nil && *w.CollectionID == collectionID {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateCollection(_ context.Context, accountID uuid.UUID, name, description *string) (*domain.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &domain.Collection{ID: uuid.New(), AccountID: accountID, Name: name, Description: description, CreatedAt: time.Now()}
	f.collections[c.ID] = c
	cp := *c
	return &cp, nil
}

func (f *fakeStore) GetCollection(_ context.Context, id uuid.UUID) (*domain.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) ListCollections(_ context.Context, accountID uuid.UUID) ([]domain.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Collection
	for _, c := range f.collections {
		if c.AccountID == accountID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteCollection(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collections[id]; !ok {
		return domain.ErrNotFound
	}
	delete(f.collections, id)
	return nil
}

func (f *fakeStore) CreateRun(_ context.Context, p postgres.CreateRunParams) (*domain.CollectionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &domain.CollectionRun{
		ID:                uuid.New(),
		CollectionID:      p.CollectionID,
		Status:            domain.RunPending,
		ConcurrentUsers:   p.ConcurrentUsers,
		DurationSeconds:   p.DurationSeconds,
		RequestsPerSecond: p.RequestsPerSecond,
		CreatedAt:         time.Now(),
	}
	f.runs[r.ID] = r
	cp := *r
	return &cp, nil
}

func (f *fakeStore) GetRun(_ context.Context, id uuid.UUID) (*domain.CollectionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) ListRunsByCollection(_ context.Context, collectionID uuid.UUID) ([]domain.CollectionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CollectionRun
	for _, r := range f.runs {
		if r.CollectionID == collectionID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) RequestRunCancel(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return domain.ErrRunNotFound
	}
	r.Status = domain.RunCancelled
	return nil
}

func (f *fakeStore) ResetRun(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return domain.ErrRunNotFound
	}
	r.Status = domain.RunPending
	f.resets = append(f.resets, id)
	return nil
}

func (f *fakeStore) GetReportByRun(_ context.Context, runID uuid.UUID) (*domain.CollectionReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rep, ok := f.reports[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rep
	return &cp, nil
}

type fakeLimiter struct {
	mu          sync.Mutex
	decision    quota.Decision
	urlDecision quota.Decision
	urlCounts   map[string]int64
}

func (l *fakeLimiter) CanCreate(context.Context, quota.Kind, uuid.UUID) (quota.Decision, error) {
	return l.decision, nil
}

func (l *fakeLimiter) CheckURL(context.Context, string, uuid.UUID) quota.Decision {
	return l.urlDecision
}

func (l *fakeLimiter) IncrementURL(_ context.Context, urlID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.urlCounts == nil {
		l.urlCounts = map[string]int64{}
	}
	l.urlCounts[urlID]++
	return l.urlCounts[urlID]
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []string
	args  [][]string
}

func (q *recordingQueue) Enqueue(_ context.Context, task string, args []string, _ *time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	q.args = append(q.args, args)
	return nil
}

type recordingBiller struct {
	cancelled []string
}

func (b *recordingBiller) CancelSubscription(_ context.Context, billingID string) {
	b.cancelled = append(b.cancelled, billingID)
}

type fixture struct {
	store   *fakeStore
	limiter *fakeLimiter
	queue   *recordingQueue
	biller  *recordingBiller
	router  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		store: newFakeStore(),
		limiter: &fakeLimiter{
			decision:    quota.Decision{Allowed: true},
			urlDecision: quota.Decision{Allowed: true},
		},
		queue:  &recordingQueue{},
		biller: &recordingBiller{},
	}
	server := NewServer(f.store, f.limiter, f.queue, f.biller, log)
	f.router = NewRouter(server, auth.NewVerifier(testSecret), log)
	return f
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"aud":   "authenticated",
		"email": userID + "@example.com",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+signToken(t, userID))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthIsOpen(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPIRequiresAuth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/jobs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateJob(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", "user-1", map[string]any{
		"name":      "hourly-ping",
		"cron_expr": "0 * * * *",
		"webhook": map[string]any{
			"url":    "https://example.com/hook",
			"method": "POST",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeBody[jobResponse](t, rec)
	assert.Equal(t, "hourly-ping", resp.Name)
	assert.Equal(t, "0 * * * *", resp.CronExpr)
	assert.Equal(t, "UTC", resp.Timezone)
	assert.True(t, resp.Enabled)
	require.NotNil(t, resp.NextFireAt, "enabled jobs get a next fire time")
	require.NotNil(t, resp.Webhook)
	assert.Equal(t, "https://example.com/hook", resp.Webhook.URL)
}

func TestCreateJobRejectsFrequentCronOnFreeTier(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", "user-1", map[string]any{
		"name":      "fast",
		"cron_expr": "*/30 * * * * *",
		"webhook":   map[string]any{"url": "https://example.com/hook"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "5 minutes")
}

func TestCreateJobAllowsFrequentCronOnProTier(t *testing.T) {
	f := newFixture(t)

	// Provision the account, then attach a pro plan.
	rec := f.do(t, http.MethodGet, "/api/v1/account", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	account := decodeBody[accountResponse](t, rec)
	f.store.plans[account.ID] = "pro_monthly"

	rec = f.do(t, http.MethodPost, "/api/v1/jobs", "user-1", map[string]any{
		"name":      "fast",
		"cron_expr": "*/30 * * * * *",
		"webhook":   map[string]any{"url": "https://example.com/hook"},
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateJobHonorsCreationCap(t *testing.T) {
	f := newFixture(t)
	f.limiter.decision = quota.Decision{Allowed: false, Current: 10, Limit: 10}

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", "user-1", map[string]any{
		"name":      "one-too-many",
		"cron_expr": "0 * * * *",
		"webhook":   map[string]any{"url": "https://example.com/hook"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "job limit reached (10/10)")
}

func TestJobOwnership(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", "user-1", map[string]any{
		"name":      "mine",
		"cron_expr": "0 * * * *",
		"webhook":   map[string]any{"url": "https://example.com/hook"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	job := decodeBody[jobResponse](t, rec)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID.String(), "user-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "foreign jobs look like missing jobs")

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID.String(), "user-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateJobRecomputesSchedule(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", "user-1", map[string]any{
		"name":      "mine",
		"cron_expr": "0 * * * *",
		"webhook":   map[string]any{"url": "https://example.com/hook"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[jobResponse](t, rec)

	rec = f.do(t, http.MethodPatch, "/api/v1/jobs/"+created.ID.String(), "user-1", map[string]any{
		"enabled": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[jobResponse](t, rec)
	assert.False(t, updated.Enabled)
	assert.Nil(t, updated.NextFireAt, "disabling clears the schedule")

	rec = f.do(t, http.MethodPatch, "/api/v1/jobs/"+created.ID.String(), "user-1", map[string]any{
		"enabled": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	updated = decodeBody[jobResponse](t, rec)
	assert.True(t, updated.Enabled)
	assert.NotNil(t, updated.NextFireAt, "re-enabling restores the schedule")
}

func TestDeleteJob(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/jobs", "user-1", map[string]any{
		"name":      "mine",
		"cron_expr": "0 * * * *",
		"webhook":   map[string]any{"url": "https://example.com/hook"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	job := decodeBody[jobResponse](t, rec)

	rec = f.do(t, http.MethodDelete, "/api/v1/jobs/"+job.ID.String(), "user-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID.String(), "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerRunEnqueues(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/collections", "user-1", map[string]any{
		"name": "smoke",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	collection := decodeBody[collectionResponse](t, rec)

	rec = f.do(t, http.MethodPost, "/api/v1/collections/"+collection.ID.String()+"/runs", "user-1", map[string]any{
		"concurrent_users": 2,
		"duration_seconds": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	run := decodeBody[runResponse](t, rec)
	assert.Equal(t, "pending", run.Status)

	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, "run-collection", f.queue.tasks[0])
	assert.Equal(t, []string{run.ID.String()}, f.queue.args[0])
}

func TestTriggerRunCountsEndpointUsage(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/collections", "user-1", map[string]any{"name": "smoke"})
	require.Equal(t, http.StatusCreated, rec.Code)
	collection := decodeBody[collectionResponse](t, rec)

	var endpointIDs []string
	for _, url := range []string{"https://example.com/a", "https://example.com/b"} {
		rec = f.do(t, http.MethodPost, "/api/v1/collections/"+collection.ID.String()+"/webhooks", "user-1", map[string]any{
			"url": url,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		endpointIDs = append(endpointIDs, decodeBody[webhookResponse](t, rec).ID.String())
	}

	rec = f.do(t, http.MethodPost, "/api/v1/collections/"+collection.ID.String()+"/runs", "user-1", map[string]any{
		"concurrent_users": 1,
		"duration_seconds": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Each endpoint's daily counter advanced once for the admitted run.
	for _, id := range endpointIDs {
		assert.Equal(t, int64(1), f.limiter.urlCounts[id])
	}
}

func TestTriggerRunRejectsExhaustedEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/collections", "user-1", map[string]any{"name": "smoke"})
	require.Equal(t, http.StatusCreated, rec.Code)
	collection := decodeBody[collectionResponse](t, rec)

	rec = f.do(t, http.MethodPost, "/api/v1/collections/"+collection.ID.String()+"/webhooks", "user-1", map[string]any{
		"url": "https://example.com/a",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	f.limiter.urlDecision = quota.Decision{Allowed: false, Current: 100, Limit: 100}
	rec = f.do(t, http.MethodPost, "/api/v1/collections/"+collection.ID.String()+"/runs", "user-1", map[string]any{
		"concurrent_users": 1,
		"duration_seconds": 10,
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
	assert.Empty(t, f.queue.tasks, "rejected runs are not enqueued")
	assert.Empty(t, f.limiter.urlCounts, "rejected runs do not consume budget")
}

func TestTriggerRunValidatesProfile(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/collections", "user-1", map[string]any{"name": "smoke"})
	require.Equal(t, http.StatusCreated, rec.Code)
	collection := decodeBody[collectionResponse](t, rec)

	rec = f.do(t, http.MethodPost, "/api/v1/collections/"+collection.ID.String()+"/runs", "user-1", map[string]any{
		"concurrent_users": 0,
		"duration_seconds": 10,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.queue.tasks)
}

func TestCancelRun(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/collections", "user-1", map[string]any{"name": "smoke"})
	require.Equal(t, http.StatusCreated, rec.Code)
	collection := decodeBody[collectionResponse](t, rec)

	rec = f.do(t, http.MethodPost, "/api/v1/collections/"+collection.ID.String()+"/runs", "user-1", map[string]any{
		"concurrent_users": 1,
		"duration_seconds": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	run := decodeBody[runResponse](t, rec)

	rec = f.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/cancel", "user-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/cancel", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "cancelled runs cannot be cancelled again")
}

func TestResetRun(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/collections", "user-1", map[string]any{"name": "smoke"})
	require.Equal(t, http.StatusCreated, rec.Code)
	collection := decodeBody[collectionResponse](t, rec)

	rec = f.do(t, http.MethodPost, "/api/v1/collections/"+collection.ID.String()+"/runs", "user-1", map[string]any{
		"concurrent_users": 1,
		"duration_seconds": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	run := decodeBody[runResponse](t, rec)
	f.queue.tasks = nil
	f.queue.args = nil

	rec = f.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/reset", "user-1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "only terminal runs can be reset")

	f.store.mu.Lock()
	f.store.runs[run.ID].Status = domain.RunCompleted
	f.store.mu.Unlock()

	rec = f.do(t, http.MethodPost, "/api/v1/runs/"+run.ID.String()+"/reset", "user-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uuid.UUID{run.ID}, f.store.resets)
	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, "run-collection", f.queue.tasks[0])
}

func TestCollectionWebhookCap(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/collections", "user-1", map[string]any{"name": "smoke"})
	require.Equal(t, http.StatusCreated, rec.Code)
	collection := decodeBody[collectionResponse](t, rec)

	f.limiter.decision = quota.Decision{Allowed: false, Current: 10, Limit: 10}
	rec = f.do(t, http.MethodPost, "/api/v1/collections/"+collection.ID.String()+"/webhooks", "user-1", map[string]any{
		"url": "https://example.com/a",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteAccountCancelsBilling(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/account", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	account := decodeBody[accountResponse](t, rec)
	f.store.plans[account.ID] = "pro_monthly"

	rec = f.do(t, http.MethodDelete, "/api/v1/account", "user-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"bill-1"}, f.biller.cancelled)
}
