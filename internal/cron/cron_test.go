package cron

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firetick/firetick/internal/domain"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "five field", expr: "*/5 * * * *"},
		{name: "six field", expr: "*/10 * * * * *"},
		{name: "complex five field", expr: "0 9 * * 1-5"},
		{name: "too few fields", expr: "* * *", wantErr: true},
		{name: "too many fields", expr: "* * * * * * *", wantErr: true},
		{name: "garbage field", expr: "x * * * *", wantErr: true},
		{name: "empty", expr: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := Parse(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrInvalidCron))
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, sched)
		})
	}
}

func TestNextFireAfter(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 30, 500_000_000, time.UTC)

	t.Run("five field advances to next minute boundary", func(t *testing.T) {
		next, err := NextFireAfter("*/5 * * * *", "", base)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 10, 12, 5, 0, 0, time.UTC), next.UTC())
	})

	t.Run("six field advances within the minute", func(t *testing.T) {
		next, err := NextFireAfter("*/10 * * * * *", "", base)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 10, 12, 0, 40, 0, time.UTC), next.UTC())
	})

	t.Run("strictly greater than input", func(t *testing.T) {
		onBoundary := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
		next, err := NextFireAfter("0 * * * * *", "", onBoundary)
		require.NoError(t, err)
		assert.True(t, next.After(onBoundary))
	})

	t.Run("timezone aware", func(t *testing.T) {
		// 09:00 in New York is 14:00 UTC on this date (EST, UTC-5).
		day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
		next, err := NextFireAfter("0 9 * * *", "America/New_York", day)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("invalid timezone", func(t *testing.T) {
		_, err := NextFireAfter("* * * * *", "Mars/Olympus", base)
		require.Error(t, err)
	})
}

func TestMinInterval(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want time.Duration
	}{
		{name: "seconds step fast path", expr: "*/10 * * * * *", want: 10 * time.Second},
		{name: "seconds literal fast path", expr: "30 * * * * *", want: 30 * time.Second},
		{name: "every five minutes", expr: "*/5 * * * *", want: 5 * time.Minute},
		{name: "hourly", expr: "0 * * * *", want: time.Hour},
		{name: "weekday mornings", expr: "0 9 * * 1-5", want: 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := minIntervalFrom(tt.expr, base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateForTier(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("free tier rejects 30 second cadence", func(t *testing.T) {
		err := ValidateForTier("*/30 * * * * *", domain.TierFree, now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidCron))
		assert.Contains(t, err.Error(), "5 minutes")
	})

	t.Run("pro tier accepts 10 second cadence", func(t *testing.T) {
		err := ValidateForTier("*/10 * * * * *", domain.TierPro, now)
		assert.NoError(t, err)

		got, err := minIntervalFrom("*/10 * * * * *", now)
		require.NoError(t, err)
		assert.Equal(t, 10*time.Second, got)
	})

	t.Run("pro tier rejects every second", func(t *testing.T) {
		err := ValidateForTier("*/1 * * * * *", domain.TierPro, now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "5 seconds")
	})

	t.Run("free tier accepts five minute cadence", func(t *testing.T) {
		assert.NoError(t, ValidateForTier("*/5 * * * *", domain.TierFree, now))
	})

	t.Run("free tier rejects every minute", func(t *testing.T) {
		err := ValidateForTier("* * * * *", domain.TierFree, now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "5 minutes")
	})

	t.Run("malformed expression", func(t *testing.T) {
		err := ValidateForTier("not a cron", domain.TierFree, now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInvalidCron))
	})

	t.Run("pure function same inputs same outcome", func(t *testing.T) {
		first := ValidateForTier("*/30 * * * * *", domain.TierFree, now)
		second := ValidateForTier("*/30 * * * * *", domain.TierFree, now)
		require.Error(t, first)
		require.Error(t, second)
		assert.Equal(t, first.Error(), second.Error())
	})
}

func TestTierFloor(t *testing.T) {
	assert.Equal(t, FreeTierMinInterval, TierFloor(domain.TierFree))
	assert.Equal(t, ProTierMinInterval, TierFloor(domain.TierPro))
}
