package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/firetick/firetick/internal/cron"
	"github.com/firetick/firetick/internal/domain"
	"github.com/firetick/firetick/internal/quota"
	"github.com/firetick/firetick/internal/storage/postgres"
)

const (
	defaultExecutionPageSize = 50
	maxExecutionPageSize     = 200
)

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseID(r *http.Request, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		return uuid.Nil, domain.ErrInvalidID
	}
	return id, nil
}

// nextFireFor computes the first fire instant for a schedule, nil when the
// expression never fires again.
func nextFireFor(expr, tz string, now time.Time) (*time.Time, error) {
	next, err := cron.NextFireAfter(expr, tz, now)
	if err != nil {
		return nil, err
	}
	if next.IsZero() {
		return nil, nil
	}
	return &next, nil
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFromContext(r.Context())
	if !ok {
		respondError(w, "UNAUTHORIZED", "missing account", http.StatusUnauthorized)
		return
	}

	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Name == "" {
		validationError(w, "name", "required field missing")
		return
	}
	if req.Webhook.URL == "" {
		validationError(w, "webhook.url", "required field missing")
		return
	}

	tier := s.tierFor(r.Context(), account.ID)
	if err := cron.ValidateForTier(req.CronExpr, tier, s.now()); err != nil {
		fromDomainError(w, r, err)
		return
	}

	decision, err := s.limiter.CanCreate(r.Context(), quota.KindJob, account.ID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if !decision.Allowed {
		forbidden(w, fmt.Sprintf("job limit reached (%d/%d)", decision.Current, decision.Limit))
		return
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	var next *time.Time
	if enabled {
		next, err = nextFireFor(req.CronExpr, tz, s.now())
		if err != nil {
			fromDomainError(w, r, err)
			return
		}
	}

	job, err := s.store.CreateJob(r.Context(), postgres.CreateJobParams{
		AccountID:  account.ID,
		Name:       req.Name,
		CronExpr:   req.CronExpr,
		Timezone:   tz,
		Enabled:    enabled,
		NextFireAt: next,
	})
	if err != nil {
		fromDomainError(w, r, err)
		return
	}

	webhook, err := s.store.CreateWebhook(r.Context(), &domain.Webhook{
		JobID:       &job.ID,
		URL:         req.Webhook.URL,
		Method:      req.Webhook.Method,
		Headers:     req.Webhook.Headers,
		QueryParams: req.Webhook.QueryParams,
		Body:        req.Webhook.Body,
		ContentType: req.Webhook.ContentType,
	})
	if err != nil {
		fromDomainError(w, r, err)
		return
	}

	s.log.InfoContext(r.Context(), "job created",
		"job_id", job.ID, "account_id", account.ID, "cron_expr", job.CronExpr)
	respondCreated(w, toJobResponse(job, webhook))
}

// ownedJob loads the job and verifies it belongs to the caller's account.
// Foreign jobs surface as not found so ids do not leak across tenants.
func (s *Server) ownedJob(r *http.Request) (*domain.Job, error) {
	account, ok := accountFromContext(r.Context())
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	id, err := parseID(r, "jobID")
	if err != nil {
		return nil, err
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if job.AccountID != account.ID {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.ownedJob(r)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}
	webhook, err := s.store.WebhookByJob(r.Context(), job.ID)
	if err != nil {
		webhook = nil
	}
	respondOK(w, toJobResponse(job, webhook))
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFromContext(r.Context())
	if !ok {
		respondError(w, "UNAUTHORIZED", "missing account", http.StatusUnauthorized)
		return
	}

	jobs, err := s.store.ListJobs(r.Context(), account.ID)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		webhook, err := s.store.WebhookByJob(r.Context(), jobs[i].ID)
		if err != nil {
			webhook = nil
		}
		out = append(out, toJobResponse(&jobs[i], webhook))
	}
	respondOK(w, map[string]any{"jobs": out})
}

func (s *Server) updateJob(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	job, err := s.ownedJob(r)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}

	var req updateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	scheduleChanged := false
	if req.Name != nil {
		job.Name = *req.Name
	}
	if req.CronExpr != nil && *req.CronExpr != job.CronExpr {
		job.CronExpr = *req.CronExpr
		scheduleChanged = true
	}
	if req.Timezone != nil && *req.Timezone != job.Timezone {
		job.Timezone = *req.Timezone
		scheduleChanged = true
	}
	if req.Enabled != nil && *req.Enabled != job.Enabled {
		job.Enabled = *req.Enabled
		scheduleChanged = true
	}

	if scheduleChanged {
		tier := s.tierFor(r.Context(), account.ID)
		if err := cron.ValidateForTier(job.CronExpr, tier, s.now()); err != nil {
			fromDomainError(w, r, err)
			return
		}
		if job.Enabled {
			next, err := nextFireFor(job.CronExpr, job.Timezone, s.now())
			if err != nil {
				fromDomainError(w, r, err)
				return
			}
			job.NextFireAt = next
		} else {
			job.NextFireAt = nil
		}
	}

	if err := s.store.UpdateJob(r.Context(), job); err != nil {
		fromDomainError(w, r, err)
		return
	}

	webhook, err := s.store.WebhookByJob(r.Context(), job.ID)
	if err != nil {
		webhook = nil
	}
	respondOK(w, toJobResponse(job, webhook))
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.ownedJob(r)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}
	if err := s.store.DeleteJob(r.Context(), job.ID); err != nil {
		fromDomainError(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "job deleted", "job_id", job.ID)
	respondNoContent(w)
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	job, err := s.ownedJob(r)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}

	limit := defaultExecutionPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			validationError(w, "limit", "must be a positive integer")
			return
		}
		limit = min(n, maxExecutionPageSize)
	}

	executions, err := s.store.ListExecutionsByJob(r.Context(), job.ID, limit)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}

	out := make([]executionResponse, 0, len(executions))
	for i := range executions {
		out = append(out, toExecutionResponse(&executions[i]))
	}
	respondOK(w, map[string]any{"executions": out})
}
