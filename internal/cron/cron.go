// Package cron parses 5-field and 6-field cron expressions, computes fire
// times in a job's timezone, and enforces per-tier cadence floors.
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/firetick/firetick/internal/domain"
)

// Minimum inter-fire intervals per tier.
const (
	FreeTierMinInterval = 300 * time.Second
	ProTierMinInterval  = 5 * time.Second
)

// fireSampleSize bounds the min-interval scan when no fast path applies.
const fireSampleSize = 100

var (
	fiveField = robfig.NewParser(robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow)
	sixField  = robfig.NewParser(robfig.Second | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow)
)

// Parse parses a 5-field (minute precision) or 6-field (second precision)
// cron expression. Errors wrap domain.ErrInvalidCron.
func Parse(expr string) (robfig.Schedule, error) {
	fields := strings.Fields(expr)

	var (
		sched robfig.Schedule
		err   error
	)
	switch len(fields) {
	case 5:
		sched, err = fiveField.Parse(expr)
	case 6:
		sched, err = sixField.Parse(expr)
	default:
		return nil, fmt.Errorf("%w: expected 5 or 6 fields, got %d", domain.ErrInvalidCron, len(fields))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCron, err)
	}
	return sched, nil
}

// NextFireAfter returns the smallest instant strictly greater than t that
// matches expr in the given timezone. An empty tz means UTC. The zero time is
// returned when the schedule has no future fire.
func NextFireAfter(expr, tz string, t time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}

	loc := time.UTC
	if tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}

	next := sched.Next(t.In(loc))
	if next.IsZero() {
		return time.Time{}, nil
	}
	return next.Truncate(time.Second), nil
}

// MinInterval returns the smallest gap between consecutive fires of expr,
// starting from the current time. Zero means the schedule is degenerate or
// fires at most once in the sampled horizon.
func MinInterval(expr string) (time.Duration, error) {
	return minIntervalFrom(expr, time.Now().UTC())
}

func minIntervalFrom(expr string, base time.Time) (time.Duration, error) {
	sched, err := Parse(expr)
	if err != nil {
		return 0, err
	}

	// Fast path: a 6-field expression whose seconds term is */N or a
	// positive literal fires at most every N seconds.
	if fields := strings.Fields(expr); len(fields) == 6 {
		if n, ok := secondsTerm(fields[0]); ok && n > 0 {
			return time.Duration(n) * time.Second, nil
		}
	}

	var (
		prev time.Time
		min  time.Duration
	)
	t := base
	for i := 0; i < fireSampleSize; i++ {
		next := sched.Next(t)
		if next.IsZero() {
			break
		}
		if !prev.IsZero() {
			if gap := next.Sub(prev); min == 0 || gap < min {
				min = gap
			}
		}
		prev = next
		t = next
	}
	return min, nil
}

// secondsTerm extracts N from a seconds field of the form */N or a literal
// integer.
func secondsTerm(field string) (int, bool) {
	if rest, ok := strings.CutPrefix(field, "*/"); ok {
		n, err := strconv.Atoi(rest)
		return n, err == nil
	}
	n, err := strconv.Atoi(field)
	return n, err == nil
}

// TierFloor returns the minimum inter-fire interval allowed for a tier.
func TierFloor(tier domain.Tier) time.Duration {
	if tier == domain.TierPro {
		return ProTierMinInterval
	}
	return FreeTierMinInterval
}

// ValidateForTier rejects schedules whose cadence violates the tier floor.
//
// A degenerate schedule (no measurable interval) is rejected only when its
// first fire lands inside the floor window measured from now; otherwise it is
// accepted.
func ValidateForTier(expr string, tier domain.Tier, now time.Time) error {
	floor := TierFloor(tier)

	minGap, err := minIntervalFrom(expr, now)
	if err != nil {
		return err
	}

	if minGap == 0 {
		sched, err := Parse(expr)
		if err != nil {
			return err
		}
		first := sched.Next(now.UTC())
		if first.IsZero() {
			return nil
		}
		if until := first.Sub(now); until > 0 && until < floor {
			return fmt.Errorf("%w: schedule interval too frequent, minimum interval for %s tier is %s, next fire would be in %d seconds",
				domain.ErrInvalidCron, tier, floorText(floor), int(until.Seconds()))
		}
		return nil
	}

	if minGap < floor {
		return fmt.Errorf("%w: schedule interval too frequent for %s tier, minimum interval is %s, your schedule has a minimum interval of %d seconds",
			domain.ErrInvalidCron, tier, floorText(floor), int(minGap.Seconds()))
	}
	return nil
}

// floorText renders the floor the way users read it: "5 minutes" for the free
// tier, "5 seconds" for pro.
func floorText(floor time.Duration) string {
	if floor >= time.Minute {
		minutes := int(floor.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	seconds := int(floor.Seconds())
	if seconds == 1 {
		return "1 second"
	}
	return fmt.Sprintf("%d seconds", seconds)
}
