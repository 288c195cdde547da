package httpapi

import (
	"fmt"
	"net/http"

	"github.com/firetick/firetick/internal/broker"
	"github.com/firetick/firetick/internal/domain"
	"github.com/firetick/firetick/internal/quota"
	"github.com/firetick/firetick/internal/storage/postgres"
)

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFromContext(r.Context())
	if !ok {
		respondError(w, "UNAUTHORIZED", "missing account", http.StatusUnauthorized)
		return
	}

	var req createCollectionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	collection, err := s.store.CreateCollection(r.Context(), account.ID, req.Name, req.Description)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}
	respondCreated(w, toCollectionResponse(collection))
}

// ownedCollection loads the collection and verifies tenancy. Foreign
// collections surface as not found.
func (s *Server) ownedCollection(r *http.Request) (*domain.Collection, error) {
	account, ok := accountFromContext(r.Context())
	if !ok {
		return nil, domain.ErrNotFound
	}
	id, err := parseID(r, "collectionID")
	if err != nil {
		return nil, err
	}
	collection, err := s.store.GetCollection(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if collection.AccountID != account.ID {
		return nil, domain.ErrNotFound
	}
	return collection, nil
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFromContext(r.Context())
	if !ok {
		respondError(w, "UNAUTHORIZED", "missing account", http.StatusUnauthorized)
		return
	}

	collections, err := s.store.ListCollections(r.Context(), account.ID)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}

	out := make([]collectionResponse, 0, len(collections))
	for i := range collections {
		out = append(out, toCollectionResponse(&collections[i]))
	}
	respondOK(w, map[string]any{"collections": out})
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	collection, err := s.ownedCollection(r)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}

	webhooks, err := s.store.WebhooksByCollection(r.Context(), collection.ID)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}

	endpoints := make([]webhookResponse, 0, len(webhooks))
	for i := range webhooks {
		endpoints = append(endpoints, toWebhookResponse(&webhooks[i]))
	}
	respondOK(w, map[string]any{
		"collection": toCollectionResponse(collection),
		"webhooks":   endpoints,
	})
}

func (s *Server) deleteCollection(w http.ResponseWriter, r *http.Request) {
	collection, err := s.ownedCollection(r)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}
	if err := s.store.DeleteCollection(r.Context(), collection.ID); err != nil {
		fromDomainError(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "collection deleted", "collection_id", collection.ID)
	respondNoContent(w)
}

func (s *Server) createCollectionWebhook(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	collection, err := s.ownedCollection(r)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}

	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.URL == "" {
		validationError(w, "url", "required field missing")
		return
	}

	decision, err := s.limiter.CanCreate(r.Context(), quota.KindURL, account.ID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if !decision.Allowed {
		forbidden(w, fmt.Sprintf("endpoint limit reached (%d/%d)", decision.Current, decision.Limit))
		return
	}

	webhook, err := s.store.CreateWebhook(r.Context(), &domain.Webhook{
		CollectionID: &collection.ID,
		URL:          req.URL,
		Method:       req.Method,
		Headers:      req.Headers,
		QueryParams:  req.QueryParams,
		Body:         req.Body,
		ContentType:  req.ContentType,
		Order:        req.Order,
	})
	if err != nil {
		fromDomainError(w, r, err)
		return
	}
	respondCreated(w, toWebhookResponse(webhook))
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	account, _ := accountFromContext(r.Context())
	collection, err := s.ownedCollection(r)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}

	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.ConcurrentUsers < 1 {
		validationError(w, "concurrent_users", "must be at least 1")
		return
	}
	if req.DurationSeconds < 1 {
		validationError(w, "duration_seconds", "must be at least 1")
		return
	}
	if req.RequestsPerSecond != nil && *req.RequestsPerSecond <= 0 {
		validationError(w, "requests_per_second", "must be positive")
		return
	}

	// Each endpoint in the collection must have daily budget left before the
	// run is admitted.
	webhooks, err := s.store.WebhooksByCollection(r.Context(), collection.ID)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}
	for i := range webhooks {
		d := s.limiter.CheckURL(r.Context(), webhooks[i].ID.String(), account.ID)
		if !d.Allowed {
			fromDomainError(w, r, fmt.Errorf("%w: endpoint %s reached its daily request limit (%d/%d)",
				domain.ErrRateLimited, webhooks[i].URL, d.Current, d.Limit))
			return
		}
	}

	run, err := s.store.CreateRun(r.Context(), postgres.CreateRunParams{
		CollectionID:      collection.ID,
		ConcurrentUsers:   req.ConcurrentUsers,
		DurationSeconds:   req.DurationSeconds,
		RequestsPerSecond: req.RequestsPerSecond,
	})
	if err != nil {
		fromDomainError(w, r, err)
		return
	}

	if err := s.queue.Enqueue(r.Context(), broker.TaskRunCollection, []string{run.ID.String()}, nil); err != nil {
		fromDomainError(w, r, err)
		return
	}
	for i := range webhooks {
		s.limiter.IncrementURL(r.Context(), webhooks[i].ID.String())
	}

	s.log.InfoContext(r.Context(), "load run enqueued",
		"run_id", run.ID, "collection_id", collection.ID,
		"concurrent_users", run.ConcurrentUsers, "duration_seconds", run.DurationSeconds)
	respondCreated(w, toRunResponse(run))
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	collection, err := s.ownedCollection(r)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}

	runs, err := s.store.ListRunsByCollection(r.Context(), collection.ID)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}

	out := make([]runResponse, 0, len(runs))
	for i := range runs {
		out = append(out, toRunResponse(&runs[i]))
	}
	respondOK(w, map[string]any{"runs": out})
}

// ownedRun loads the run and verifies tenancy through its collection.
func (s *Server) ownedRun(r *http.Request) (*domain.CollectionRun, error) {
	account, ok := accountFromContext(r.Context())
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	id, err := parseID(r, "runID")
	if err != nil {
		return nil, err
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		return nil, err
	}
	collection, err := s.store.GetCollection(r.Context(), run.CollectionID)
	if err != nil || collection.AccountID != account.ID {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.ownedRun(r)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}
	respondOK(w, toRunResponse(run))
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.ownedRun(r)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}
	if run.Status.IsTerminal() {
		conflict(w, fmt.Sprintf("run is already %s", run.Status))
		return
	}
	if err := s.store.RequestRunCancel(r.Context(), run.ID); err != nil {
		fromDomainError(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "run cancellation requested", "run_id", run.ID)
	respondNoContent(w)
}

// resetRun returns a finished run to pending, purges its previous report,
// and enqueues it for another pass.
func (s *Server) resetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.ownedRun(r)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}
	if !run.Status.IsTerminal() {
		conflict(w, "run is still in progress")
		return
	}

	if err := s.store.ResetRun(r.Context(), run.ID); err != nil {
		fromDomainError(w, r, err)
		return
	}
	if err := s.queue.Enqueue(r.Context(), broker.TaskRunCollection, []string{run.ID.String()}, nil); err != nil {
		fromDomainError(w, r, err)
		return
	}

	s.log.InfoContext(r.Context(), "run reset and re-enqueued", "run_id", run.ID)
	respondNoContent(w)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	run, err := s.ownedRun(r)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}
	report, err := s.store.GetReportByRun(r.Context(), run.ID)
	if err != nil {
		fromDomainError(w, r, err)
		return
	}
	respondOK(w, toReportResponse(report))
}
