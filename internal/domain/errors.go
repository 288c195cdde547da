package domain

import "errors"

// Domain errors shared across components. Repository implementations map
// store-level misses onto these sentinels so callers can branch with
// errors.Is.

var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrJobNotFound indicates the referenced job does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrExecutionNotFound indicates the referenced execution does not exist.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrRunNotFound indicates the referenced collection run does not exist.
	ErrRunNotFound = errors.New("collection run not found")

	// ErrLockNotAcquired indicates another process holds the claim.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrRateLimited indicates the daily webhook quota is exhausted.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrQuotaExceeded indicates a static creation cap was reached.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrInvalidCron indicates the cron expression cannot be parsed or
	// violates the tier cadence floor.
	ErrInvalidCron = errors.New("invalid cron expression")

	// ErrInvalidID indicates the provided ID format is invalid.
	ErrInvalidID = errors.New("invalid ID format")
)
