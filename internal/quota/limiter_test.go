package quota

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firetick/firetick/internal/redisx"
)

type fakeResolver struct {
	webhookPlan string
	accountPlan string
	jobCount    int
	urlCount    int
	err         error
}

func (f *fakeResolver) PlanForWebhook(context.Context, uuid.UUID) (string, error) {
	return f.webhookPlan, f.err
}

func (f *fakeResolver) PlanForAccount(context.Context, uuid.UUID) (string, error) {
	return f.accountPlan, f.err
}

func (f *fakeResolver) CountJobs(context.Context, uuid.UUID) (int, error) {
	return f.jobCount, f.err
}

func (f *fakeResolver) CountURLReceivers(context.Context, uuid.UUID) (int, error) {
	return f.urlCount, f.err
}

type erroringCounter struct{}

func (erroringCounter) Incr(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func (erroringCounter) Expire(context.Context, string, time.Duration) error {
	return errors.New("connection refused")
}

func (erroringCounter) GetInt(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLimiter(t *testing.T, resolver PlanResolver) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(redisx.NewWithClient(client), resolver, testLogger()), mr
}

func TestCheckWebhook(t *testing.T) {
	ctx := context.Background()
	webhookID := uuid.New()

	t.Run("allowed under the limit", func(t *testing.T) {
		limiter, _ := newLimiter(t, &fakeResolver{webhookPlan: "free_tier"})

		d := limiter.CheckWebhook(ctx, webhookID)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(0), d.Current)
		assert.Equal(t, DailyLimitFree, d.Limit)
	})

	t.Run("rejected at the limit", func(t *testing.T) {
		limiter, _ := newLimiter(t, &fakeResolver{webhookPlan: "free_tier"})
		for range DailyLimitFree {
			limiter.IncrementWebhook(ctx, webhookID)
		}

		d := limiter.CheckWebhook(ctx, webhookID)
		assert.False(t, d.Allowed)
		assert.Equal(t, DailyLimitFree, d.Current)
		assert.Equal(t, DailyLimitFree, d.Limit)
	})

	t.Run("pro plan uses pro limit", func(t *testing.T) {
		limiter, _ := newLimiter(t, &fakeResolver{webhookPlan: "pro_monthly"})

		d := limiter.CheckWebhook(ctx, webhookID)
		assert.True(t, d.Allowed)
		assert.Equal(t, DailyLimitPro, d.Limit)
	})

	t.Run("fails open when store unavailable", func(t *testing.T) {
		limiter := New(erroringCounter{}, &fakeResolver{webhookPlan: "free_tier"}, testLogger())

		d := limiter.CheckWebhook(ctx, webhookID)
		assert.True(t, d.Allowed)
		assert.Equal(t, failOpenLimit, d.Limit)
	})

	t.Run("fails open when plan lookup fails", func(t *testing.T) {
		limiter, _ := newLimiter(t, &fakeResolver{err: errors.New("db down")})

		d := limiter.CheckWebhook(ctx, webhookID)
		assert.True(t, d.Allowed)
		assert.Equal(t, failOpenLimit, d.Limit)
	})
}

func TestCheckURL(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	urlID := uuid.NewString()

	t.Run("allowed under the limit", func(t *testing.T) {
		limiter, _ := newLimiter(t, &fakeResolver{accountPlan: "free_tier"})

		d := limiter.CheckURL(ctx, urlID, accountID)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(0), d.Current)
		assert.Equal(t, DailyLimitFree, d.Limit)
	})

	t.Run("rejected at the limit", func(t *testing.T) {
		limiter, _ := newLimiter(t, &fakeResolver{accountPlan: "pro_monthly"})
		for range DailyLimitPro {
			limiter.IncrementURL(ctx, urlID)
		}

		d := limiter.CheckURL(ctx, urlID, accountID)
		assert.False(t, d.Allowed)
		assert.Equal(t, DailyLimitPro, d.Current)
		assert.Equal(t, DailyLimitPro, d.Limit)
	})

	t.Run("counts on the url key", func(t *testing.T) {
		limiter, mr := newLimiter(t, &fakeResolver{accountPlan: "free_tier"})

		n := limiter.IncrementURL(ctx, urlID)
		require.Equal(t, int64(1), n)
		assert.Equal(t, CounterTTL, mr.TTL(redisx.URLRateKey(urlID)))
	})

	t.Run("fails open when store unavailable", func(t *testing.T) {
		limiter := New(erroringCounter{}, &fakeResolver{accountPlan: "free_tier"}, testLogger())

		d := limiter.CheckURL(ctx, urlID, accountID)
		assert.True(t, d.Allowed)
		assert.Equal(t, failOpenLimit, d.Limit)
	})
}

func TestIncrementWebhook(t *testing.T) {
	ctx := context.Background()
	webhookID := uuid.New()

	t.Run("first increment sets the TTL", func(t *testing.T) {
		limiter, mr := newLimiter(t, &fakeResolver{})

		n := limiter.IncrementWebhook(ctx, webhookID)
		require.Equal(t, int64(1), n)

		key := redisx.WebhookRateKey(webhookID.String())
		ttl := mr.TTL(key)
		assert.Equal(t, CounterTTL, ttl)
	})

	t.Run("later increments keep the original TTL", func(t *testing.T) {
		limiter, mr := newLimiter(t, &fakeResolver{})

		limiter.IncrementWebhook(ctx, webhookID)
		mr.FastForward(time.Hour)
		n := limiter.IncrementWebhook(ctx, webhookID)
		require.Equal(t, int64(2), n)

		ttl := mr.TTL(redisx.WebhookRateKey(webhookID.String()))
		assert.Equal(t, CounterTTL-time.Hour, ttl)
	})

	t.Run("counter resets after expiry", func(t *testing.T) {
		limiter, mr := newLimiter(t, &fakeResolver{})

		limiter.IncrementWebhook(ctx, webhookID)
		mr.FastForward(CounterTTL + time.Second)

		n := limiter.IncrementWebhook(ctx, webhookID)
		assert.Equal(t, int64(1), n)
	})

	t.Run("store error reads as zero", func(t *testing.T) {
		limiter := New(erroringCounter{}, &fakeResolver{}, testLogger())
		assert.Equal(t, int64(0), limiter.IncrementWebhook(ctx, webhookID))
	})
}

func TestCanCreate(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()

	tests := []struct {
		name     string
		kind     Kind
		resolver *fakeResolver
		allowed  bool
		limit    int64
	}{
		{
			name:     "free job under cap",
			kind:     KindJob,
			resolver: &fakeResolver{accountPlan: "free", jobCount: 9},
			allowed:  true,
			limit:    int64(JobCapFree),
		},
		{
			name:     "free job at cap",
			kind:     KindJob,
			resolver: &fakeResolver{accountPlan: "free", jobCount: 10},
			allowed:  false,
			limit:    int64(JobCapFree),
		},
		{
			name:     "pro job cap is higher",
			kind:     KindJob,
			resolver: &fakeResolver{accountPlan: "pro_monthly", jobCount: 50},
			allowed:  true,
			limit:    int64(JobCapPro),
		},
		{
			name:     "url cap same for both tiers",
			kind:     KindURL,
			resolver: &fakeResolver{accountPlan: "pro_monthly", urlCount: 10},
			allowed:  false,
			limit:    int64(URLCapPro),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, _ := newLimiter(t, tt.resolver)

			d, err := limiter.CanCreate(ctx, tt.kind, accountID)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.limit, d.Limit)
		})
	}

	t.Run("fails open on resolver error", func(t *testing.T) {
		limiter, _ := newLimiter(t, &fakeResolver{err: errors.New("db down")})

		d, err := limiter.CanCreate(ctx, KindJob, accountID)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}
