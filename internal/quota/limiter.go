// Package quota enforces the daily webhook execution quota and the static
// per-account creation caps, keyed by subscription tier.
package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/firetick/firetick/internal/domain"
	"github.com/firetick/firetick/internal/redisx"
)

// Daily execution limits per webhook. The free/pro values mirror the billing
// configuration as deployed; the apparent inversion is intentional there.
const (
	DailyLimitFree int64 = 100
	DailyLimitPro  int64 = 10
)

// Creation caps counted by live rows.
const (
	URLCapFree int = 10
	URLCapPro  int = 10
	JobCapFree int = 10
	JobCapPro  int = 100
)

// CounterTTL is the passive reset window for daily counters.
const CounterTTL = 24 * time.Hour

// Kind selects which creation cap CanCreate consults.
type Kind string

const (
	KindJob Kind = "job"
	KindURL Kind = "url"
)

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed bool
	Current int64
	Limit   int64
}

// Counter is the coordination-store surface the limiter needs.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	GetInt(ctx context.Context, key string) (int64, error)
}

// PlanResolver resolves tenancy through the persistence gateway: webhook or
// account to subscription plan, plus live row counts for creation caps. An
// empty plan id means no subscription and classifies as free.
type PlanResolver interface {
	PlanForWebhook(ctx context.Context, webhookID uuid.UUID) (string, error)
	PlanForAccount(ctx context.Context, accountID uuid.UUID) (string, error)
	CountJobs(ctx context.Context, accountID uuid.UUID) (int, error)
	CountURLReceivers(ctx context.Context, accountID uuid.UUID) (int, error)
}

// Limiter checks and advances usage counters. All checks fail open: an
// unreachable coordination store or plan lookup failure allows the operation
// rather than blocking user traffic.
type Limiter struct {
	counter  Counter
	resolver PlanResolver
	log      *slog.Logger
}

// New creates a Limiter.
func New(counter Counter, resolver PlanResolver, log *slog.Logger) *Limiter {
	return &Limiter{counter: counter, resolver: resolver, log: log}
}

// DailyLimit returns the per-webhook daily execution limit for a tier.
func DailyLimit(tier domain.Tier) int64 {
	if tier == domain.TierPro {
		return DailyLimitPro
	}
	return DailyLimitFree
}

// failOpenLimit is the sentinel limit reported when a check cannot complete.
// Not a real tier limit, so fail-open decisions stay distinguishable from
// ordinary allowed ones.
const failOpenLimit int64 = -1

// CheckWebhook reports whether one more execution of the webhook is allowed
// today. The check-then-increment sequence is deliberately non-atomic; a small
// overshoot at the boundary is accepted.
func (l *Limiter) CheckWebhook(ctx context.Context, webhookID uuid.UUID) Decision {
	planID, err := l.resolver.PlanForWebhook(ctx, webhookID)
	if err != nil {
		l.log.WarnContext(ctx, "plan lookup failed, allowing execution",
			"webhook_id", webhookID, "error", err)
		return Decision{Allowed: true, Limit: failOpenLimit}
	}

	return l.check(ctx, redisx.WebhookRateKey(webhookID.String()), planID)
}

// CheckURL reports whether one more request to the URL receiver is allowed
// today.
func (l *Limiter) CheckURL(ctx context.Context, urlID string, accountID uuid.UUID) Decision {
	planID, err := l.resolver.PlanForAccount(ctx, accountID)
	if err != nil {
		l.log.WarnContext(ctx, "plan lookup failed, allowing request",
			"url_id", urlID, "account_id", accountID, "error", err)
		return Decision{Allowed: true, Limit: failOpenLimit}
	}

	return l.check(ctx, redisx.URLRateKey(urlID), planID)
}

func (l *Limiter) check(ctx context.Context, key, planID string) Decision {
	limit := DailyLimit(domain.TierFromPlanID(planID))

	current, err := l.counter.GetInt(ctx, key)
	if err != nil {
		l.log.WarnContext(ctx, "coordination store unavailable, allowing without rate limiting",
			"key", key, "error", err)
		return Decision{Allowed: true, Limit: failOpenLimit}
	}

	if current >= limit {
		l.log.WarnContext(ctx, "rate limit exceeded",
			"key", key, "current", current, "limit", limit, "plan_id", planID)
		return Decision{Allowed: false, Current: current, Limit: limit}
	}
	return Decision{Allowed: true, Current: current, Limit: limit}
}

// IncrementWebhook advances the webhook's daily counter. The TTL is set only
// on the increment that created the key, so the window slides from first use.
func (l *Limiter) IncrementWebhook(ctx context.Context, webhookID uuid.UUID) int64 {
	return l.increment(ctx, redisx.WebhookRateKey(webhookID.String()))
}

// IncrementURL advances the URL receiver's daily counter.
func (l *Limiter) IncrementURL(ctx context.Context, urlID string) int64 {
	return l.increment(ctx, redisx.URLRateKey(urlID))
}

func (l *Limiter) increment(ctx context.Context, key string) int64 {
	n, err := l.counter.Incr(ctx, key)
	if err != nil {
		l.log.WarnContext(ctx, "failed to increment rate limit counter", "key", key, "error", err)
		return 0
	}
	if n == 1 {
		if err := l.counter.Expire(ctx, key, CounterTTL); err != nil {
			l.log.WarnContext(ctx, "failed to set counter TTL", "key", key, "error", err)
		}
	}
	return n
}

// CanCreate reports whether the account may create another resource of the
// given kind, counted by live rows against the tier cap.
func (l *Limiter) CanCreate(ctx context.Context, kind Kind, accountID uuid.UUID) (Decision, error) {
	planID, err := l.resolver.PlanForAccount(ctx, accountID)
	if err != nil {
		l.log.WarnContext(ctx, "plan lookup failed, allowing creation",
			"kind", kind, "account_id", accountID, "error", err)
		return Decision{Allowed: true}, nil
	}
	tier := domain.TierFromPlanID(planID)

	var (
		current int
		limit   int
	)
	switch kind {
	case KindJob:
		limit = JobCapFree
		if tier == domain.TierPro {
			limit = JobCapPro
		}
		current, err = l.resolver.CountJobs(ctx, accountID)
	case KindURL:
		limit = URLCapFree
		if tier == domain.TierPro {
			limit = URLCapPro
		}
		current, err = l.resolver.CountURLReceivers(ctx, accountID)
	default:
		return Decision{Allowed: true}, nil
	}
	if err != nil {
		l.log.WarnContext(ctx, "resource count failed, allowing creation",
			"kind", kind, "account_id", accountID, "error", err)
		return Decision{Allowed: true}, nil
	}

	if current >= limit {
		return Decision{Allowed: false, Current: int64(current), Limit: int64(limit)}, nil
	}
	return Decision{Allowed: true, Current: int64(current), Limit: int64(limit)}, nil
}
