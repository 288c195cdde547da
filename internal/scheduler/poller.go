// Package scheduler runs the polling loop that discovers due jobs, claims
// each one across the fleet, and hands executions to the broker.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/firetick/firetick/internal/broker"
	"github.com/firetick/firetick/internal/cron"
	"github.com/firetick/firetick/internal/domain"
	"github.com/firetick/firetick/internal/metrics"
	"github.com/firetick/firetick/internal/redisx"
)

// Defaults for the claim protocol and the adaptive tick.
const (
	DefaultBatchSize   = 100
	DefaultLockTTL     = 30 * time.Second
	DefaultMinInterval = time.Second
	DefaultMaxInterval = 5 * time.Second

	// maxBackoffDoublings caps the empty-tick backoff at 2^2.
	maxBackoffDoublings = 2
)

// JobStore is the persistence surface the poller needs.
type JobStore interface {
	FindDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	InsertExecution(ctx context.Context, jobID uuid.UUID, attempt int) (*domain.JobExecution, error)
	AdvanceJob(ctx context.Context, id uuid.UUID, firedAt time.Time, nextFireAt *time.Time) error
	WithJobRowLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error
}

// Locker is the coordination-store surface for leased claims.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Enqueuer hands claimed executions to the task broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, task string, args []string, eta *time.Time) error
}

// Config tunes the poll loop.
type Config struct {
	BatchSize   int
	LockTTL     time.Duration
	MinInterval time.Duration
	MaxInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = DefaultMaxInterval
	}
}

// Poller is one member of the scheduler fleet. It is single-threaded; fleet
// safety comes from the claim protocol, not from serializing pollers.
type Poller struct {
	store   JobStore
	locker  Locker
	queue   Enqueuer
	cfg     Config
	metrics *metrics.Scheduler
	log     *slog.Logger
	now     func() time.Time
}

// New creates a Poller.
func New(store JobStore, locker Locker, queue Enqueuer, cfg Config, m *metrics.Scheduler, log *slog.Logger) *Poller {
	cfg.applyDefaults()
	return &Poller{
		store:   store,
		locker:  locker,
		queue:   queue,
		cfg:     cfg,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Run executes the poll loop until ctx is cancelled. The tick interval starts
// at MinInterval, doubles on each empty tick up to MaxInterval, and snaps
// back as soon as a tick finds work.
func (p *Poller) Run(ctx context.Context) error {
	p.log.InfoContext(ctx, "scheduler poller started",
		"batch_size", p.cfg.BatchSize, "lock_ttl", p.cfg.LockTTL,
		"min_interval", p.cfg.MinInterval, "max_interval", p.cfg.MaxInterval)

	emptyTicks := 0
	for {
		found := p.tick(ctx)
		if found > 0 {
			emptyTicks = 0
		} else if emptyTicks < maxBackoffDoublings {
			emptyTicks++
		}

		select {
		case <-ctx.Done():
			p.log.InfoContext(ctx, "scheduler poller stopping")
			return ctx.Err()
		case <-time.After(p.interval(emptyTicks)):
		}
	}
}

// interval is the adaptive tick: MinInterval doubled once per empty tick,
// capped at MaxInterval.
func (p *Poller) interval(emptyTicks int) time.Duration {
	if emptyTicks > maxBackoffDoublings {
		emptyTicks = maxBackoffDoublings
	}
	interval := p.cfg.MinInterval << emptyTicks
	if interval > p.cfg.MaxInterval {
		interval = p.cfg.MaxInterval
	}
	return interval
}

// tick performs one poll pass and returns the number of due jobs seen.
func (p *Poller) tick(ctx context.Context) int {
	start := p.now()
	defer func() {
		p.metrics.PollDuration.Observe(p.now().Sub(start).Seconds())
	}()

	now := p.now().UTC()
	due, err := p.store.FindDueJobs(ctx, now, p.cfg.BatchSize)
	if err != nil {
		p.metrics.JobsPolled.WithLabelValues("error").Inc()
		p.log.ErrorContext(ctx, "failed to scan for due jobs", "error", err)
		return 0
	}
	p.metrics.JobsPolled.WithLabelValues("success").Add(float64(len(due)))

	for _, job := range due {
		if ctx.Err() != nil {
			break
		}
		claimed, err := p.claimAndEnqueue(ctx, job, now)
		if err != nil {
			p.log.ErrorContext(ctx, "failed to fire job",
				"job_id", job.ID, "error", err)
			continue
		}
		if claimed {
			p.log.InfoContext(ctx, "job fired",
				"job_id", job.ID, "job_name", job.Name, "fired_at", now)
		}
	}
	return len(due)
}

// claimAndEnqueue fires one due job at most once across the fleet. The claim
// is a leased coordination-store lock; when the store is unreachable the
// poller falls back to a row-level FOR UPDATE NOWAIT on the job. Either way
// the job is reloaded under the claim before firing, which guards against a
// racing poller that advanced it first.
func (p *Poller) claimAndEnqueue(ctx context.Context, job domain.Job, now time.Time) (bool, error) {
	key := redisx.LockKey(job.ID.String())

	ok, err := p.locker.AcquireLock(ctx, key, p.cfg.LockTTL)
	if err != nil {
		p.log.WarnContext(ctx, "coordination store unavailable, using row-lock fallback",
			"job_id", job.ID, "error", err)
		return p.claimWithRowLock(ctx, job.ID, now)
	}
	if !ok {
		p.metrics.LockFailures.Inc()
		return false, nil
	}
	defer func() {
		if err := p.locker.ReleaseLock(ctx, key); err != nil {
			p.log.WarnContext(ctx, "failed to release claim lock", "job_id", job.ID, "error", err)
		}
	}()

	return p.fireClaimed(ctx, job.ID, now)
}

func (p *Poller) claimWithRowLock(ctx context.Context, jobID uuid.UUID, now time.Time) (bool, error) {
	var claimed bool
	err := p.store.WithJobRowLock(ctx, jobID, func(ctx context.Context) error {
		var err error
		claimed, err = p.fireClaimed(ctx, jobID, now)
		return err
	})
	if errors.Is(err, domain.ErrLockNotAcquired) {
		p.metrics.LockFailures.Inc()
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// fireClaimed runs the critical section: reload guard, execution insert,
// next-fire advance, broker enqueue. The advance happens before the enqueue
// so a crash in between drops the fire instead of duplicating it.
func (p *Poller) fireClaimed(ctx context.Context, jobID uuid.UUID, now time.Time) (bool, error) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if !job.Enabled || job.NextFireAt == nil || job.NextFireAt.After(now) {
		return false, nil
	}

	exec, err := p.store.InsertExecution(ctx, job.ID, 1)
	if err != nil {
		return false, fmt.Errorf("failed to insert execution: %w", err)
	}

	var nextFire *time.Time
	next, err := cron.NextFireAfter(job.CronExpr, job.Timezone, now)
	if err != nil {
		return false, fmt.Errorf("failed to compute next fire: %w", err)
	}
	if !next.IsZero() {
		nextFire = &next
	}

	if err := p.store.AdvanceJob(ctx, job.ID, now, nextFire); err != nil {
		return false, fmt.Errorf("failed to advance job: %w", err)
	}

	if err := p.queue.Enqueue(ctx, broker.TaskExecuteJob, []string{exec.ID.String()}, nil); err != nil {
		p.metrics.JobsEnqueued.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to enqueue execution: %w", err)
	}
	p.metrics.JobsEnqueued.WithLabelValues("success").Inc()
	return true, nil
}
