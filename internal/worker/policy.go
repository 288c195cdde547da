package worker

import "time"

// BackoffType selects how retry delays grow across attempts.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffLinear      BackoffType = "linear"
	BackoffFixed       BackoffType = "fixed"
)

// RetryPolicy bounds the retry chain for failed executions. One process-wide
// policy applies to every job.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Type        BackoffType
}

// DefaultRetryPolicy matches the deployed configuration: three attempts with
// exponential backoff from a 60 second base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     60 * time.Second,
		Type:        BackoffExponential,
	}
}

// Delay returns the wait before the attempt following the given one:
// exponential base*2^(attempt-1), linear base*attempt, or the fixed base.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch p.Type {
	case BackoffLinear:
		return p.Backoff * time.Duration(attempt)
	case BackoffFixed:
		return p.Backoff
	default:
		return p.Backoff * time.Duration(1<<(attempt-1))
	}
}
