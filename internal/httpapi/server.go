// Package httpapi is the authenticated REST boundary: job and collection
// CRUD, execution history, and load-run control.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/firetick/firetick/internal/auth"
	"github.com/firetick/firetick/internal/domain"
	"github.com/firetick/firetick/internal/quota"
	"github.com/firetick/firetick/internal/storage/postgres"
)

// Store is the persistence surface the handlers need.
type Store interface {
	GetOrCreateAccount(ctx context.Context, userID, name string) (*domain.Account, error)
	DeleteAccount(ctx context.Context, id uuid.UUID) error
	GetSubscriptionByAccount(ctx context.Context, accountID uuid.UUID) (*domain.Subscription, error)
	PlanForAccount(ctx context.Context, accountID uuid.UUID) (string, error)

	CreateJob(ctx context.Context, p postgres.CreateJobParams) (*domain.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	UpdateJob(ctx context.Context, j *domain.Job) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
	ListJobs(ctx context.Context, accountID uuid.UUID) ([]domain.Job, error)
	ListExecutionsByJob(ctx context.Context, jobID uuid.UUID, limit int) ([]domain.JobExecution, error)

	CreateWebhook(ctx context.Context, w *domain.Webhook) (*domain.Webhook, error)
	WebhookByJob(ctx context.Context, jobID uuid.UUID) (*domain.Webhook, error)
	WebhooksByCollection(ctx context.Context, collectionID uuid.UUID) ([]domain.Webhook, error)

	CreateCollection(ctx context.Context, accountID uuid.UUID, name, description *string) (*domain.Collection, error)
	GetCollection(ctx context.Context, id uuid.UUID) (*domain.Collection, error)
	ListCollections(ctx context.Context, accountID uuid.UUID) ([]domain.Collection, error)
	DeleteCollection(ctx context.Context, id uuid.UUID) error

	CreateRun(ctx context.Context, p postgres.CreateRunParams) (*domain.CollectionRun, error)
	GetRun(ctx context.Context, id uuid.UUID) (*domain.CollectionRun, error)
	ListRunsByCollection(ctx context.Context, collectionID uuid.UUID) ([]domain.CollectionRun, error)
	RequestRunCancel(ctx context.Context, id uuid.UUID) error
	ResetRun(ctx context.Context, id uuid.UUID) error
	GetReportByRun(ctx context.Context, runID uuid.UUID) (*domain.CollectionReport, error)
}

// Limiter is the creation-cap and daily-counter surface.
type Limiter interface {
	CanCreate(ctx context.Context, kind quota.Kind, accountID uuid.UUID) (quota.Decision, error)
	CheckURL(ctx context.Context, urlID string, accountID uuid.UUID) quota.Decision
	IncrementURL(ctx context.Context, urlID string) int64
}

// Enqueuer hands run-collection tasks to the broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, task string, args []string, eta *time.Time) error
}

// Biller cancels subscriptions with the billing provider.
type Biller interface {
	CancelSubscription(ctx context.Context, billingID string)
}

// Server holds the handler dependencies.
type Server struct {
	store   Store
	limiter Limiter
	queue   Enqueuer
	billing Biller
	log     *slog.Logger
	now     func() time.Time
}

// NewServer creates the handler set.
func NewServer(store Store, limiter Limiter, queue Enqueuer, billing Biller, log *slog.Logger) *Server {
	return &Server{
		store:   store,
		limiter: limiter,
		queue:   queue,
		billing: billing,
		log:     log,
		now:     time.Now,
	}
}

type accountKey struct{}

// accountFromContext returns the tenant account provisioned by AccountMiddleware.
func accountFromContext(ctx context.Context) (*domain.Account, bool) {
	a, ok := ctx.Value(accountKey{}).(*domain.Account)
	return a, ok
}

// AccountMiddleware provisions the caller's account idempotently from the
// verified identity and stores it on the request context. Runs after the
// auth middleware.
func (s *Server) AccountMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			respondError(w, "UNAUTHORIZED", "missing identity", http.StatusUnauthorized)
			return
		}

		account, err := s.store.GetOrCreateAccount(r.Context(), identity.ID, identity.Name)
		if err != nil {
			internalError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), accountKey{}, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tierFor resolves the account's subscription tier. Lookup failures classify
// as free rather than blocking the request.
func (s *Server) tierFor(ctx context.Context, accountID uuid.UUID) domain.Tier {
	planID, err := s.store.PlanForAccount(ctx, accountID)
	if err != nil {
		s.log.WarnContext(ctx, "plan lookup failed, assuming free tier",
			"account_id", accountID, "error", err)
		return domain.TierFree
	}
	return domain.TierFromPlanID(planID)
}

// deleteAccount removes the tenant and everything it owns. The billing
// cancellation is best effort and never blocks the delete.
func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFromContext(r.Context())
	if !ok {
		respondError(w, "UNAUTHORIZED", "missing account", http.StatusUnauthorized)
		return
	}

	if sub, err := s.store.GetSubscriptionByAccount(r.Context(), account.ID); err == nil {
		s.billing.CancelSubscription(r.Context(), sub.BillingID)
	}

	if err := s.store.DeleteAccount(r.Context(), account.ID); err != nil {
		fromDomainError(w, r, err)
		return
	}

	s.log.InfoContext(r.Context(), "account deleted", "account_id", account.ID)
	respondNoContent(w)
}

// getAccount returns the caller's provisioned account.
func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFromContext(r.Context())
	if !ok {
		respondError(w, "UNAUTHORIZED", "missing account", http.StatusUnauthorized)
		return
	}
	respondOK(w, toAccountResponse(account))
}
