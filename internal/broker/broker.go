// Package broker is a point-to-point task queue over redis with delayed
// delivery and late acknowledgement.
//
// Each task name owns three keys: a ready list (firetick:queue:<task>), a
// delayed sorted set scored by ETA (firetick:delayed:<task>), and a
// per-consumer processing list (firetick:processing:<task>:<consumer>).
// Messages move ready -> processing atomically and are removed from
// processing only after the handler returns, so a crashed consumer leaves its
// messages behind for requeue on restart. Delivery is at least once; handlers
// must be idempotent with respect to the ids they receive.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Task names.
const (
	TaskExecuteJob    = "execute-job"
	TaskRunCollection = "run-collection"
)

const (
	defaultPollInterval = time.Second
	defaultConcurrency  = 4
)

// Message is the wire envelope for one task delivery.
type Message struct {
	ID         string     `json:"id"`
	Task       string     `json:"task"`
	Args       []string   `json:"args"`
	ETA        *time.Time `json:"eta,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
}

// Handler processes one delivered message.
type Handler func(ctx context.Context, msg Message) error

// Broker produces and consumes tasks.
type Broker struct {
	client       *redis.Client
	consumerID   string
	pollInterval time.Duration
	concurrency  int
	log          *slog.Logger
	now          func() time.Time
}

// Option configures a Broker.
type Option func(*Broker)

// WithPollInterval sets how often the consumer checks for ready and delayed
// work. Used by tests to tighten the loop.
func WithPollInterval(d time.Duration) Option {
	return func(b *Broker) { b.pollInterval = d }
}

// WithConcurrency bounds the number of concurrent handlers per Consume call.
func WithConcurrency(n int) Option {
	return func(b *Broker) { b.concurrency = n }
}

// WithConsumerID overrides the consumer identity. The id must be stable
// across restarts for orphan requeue to find the previous processing list.
func WithConsumerID(id string) Option {
	return func(b *Broker) { b.consumerID = id }
}

// New creates a Broker over an existing redis client.
func New(client *redis.Client, log *slog.Logger, opts ...Option) *Broker {
	b := &Broker{
		client:       client,
		consumerID:   "consumer-" + uuid.NewString(),
		pollInterval: defaultPollInterval,
		concurrency:  defaultConcurrency,
		log:          log,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func queueKey(task string) string   { return "firetick:queue:" + task }
func delayedKey(task string) string { return "firetick:delayed:" + task }

func (b *Broker) processingKey(task string) string {
	return "firetick:processing:" + task + ":" + b.consumerID
}

// Enqueue delivers a task immediately, or no earlier than eta when eta is in
// the future.
func (b *Broker) Enqueue(ctx context.Context, task string, args []string, eta *time.Time) error {
	msg := Message{
		ID:         uuid.NewString(),
		Task:       task,
		Args:       args,
		ETA:        eta,
		EnqueuedAt: b.now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task, err)
	}

	if eta != nil && eta.After(b.now()) {
		err = b.client.ZAdd(ctx, delayedKey(task), redis.Z{
			Score:  float64(eta.Unix()),
			Member: payload,
		}).Err()
		if err != nil {
			return fmt.Errorf("failed to enqueue delayed task %s: %w", task, err)
		}
		return nil
	}

	if err := b.client.LPush(ctx, queueKey(task), payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", task, err)
	}
	return nil
}

// Consume delivers messages for one task name to the handler until ctx is
// cancelled. Each message goes to exactly one consumer; acknowledgement
// happens after the handler returns, regardless of its error. Handler errors
// are logged, not redelivered; retry semantics live in the handlers
// themselves.
func (b *Broker) Consume(ctx context.Context, task string, handler Handler) error {
	if err := b.requeueOrphans(ctx, task); err != nil {
		b.log.WarnContext(ctx, "failed to requeue orphaned messages", "task", task, "error", err)
	}

	type delivery struct {
		raw string
		msg Message
	}
	deliveries := make(chan delivery)

	var wg sync.WaitGroup
	for range b.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				if err := handler(ctx, d.msg); err != nil {
					b.log.ErrorContext(ctx, "task handler failed",
						"task", task, "message_id", d.msg.ID, "error", err)
				}
				if err := b.ack(ctx, task, d.raw); err != nil {
					b.log.WarnContext(ctx, "failed to ack message",
						"task", task, "message_id", d.msg.ID, "error", err)
				}
			}
		}()
	}

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		b.promoteDelayed(ctx, task)

		for {
			raw, err := b.client.LMove(ctx, queueKey(task), b.processingKey(task), "RIGHT", "LEFT").Result()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				b.log.WarnContext(ctx, "failed to pop task", "task", task, "error", err)
				break
			}

			var msg Message
			if err := json.Unmarshal([]byte(raw), &msg); err != nil {
				b.log.ErrorContext(ctx, "dropping malformed message", "task", task, "error", err)
				_ = b.ack(ctx, task, raw)
				continue
			}

			select {
			case deliveries <- delivery{raw: raw, msg: msg}:
			case <-ctx.Done():
				// Not yet handled; put it back for the next consumer.
				_ = b.client.LPush(context.WithoutCancel(ctx), queueKey(task), raw).Err()
				_ = b.ack(context.WithoutCancel(ctx), task, raw)
				close(deliveries)
				wg.Wait()
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			close(deliveries)
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ack removes one occurrence of the raw payload from the processing list.
func (b *Broker) ack(ctx context.Context, task, raw string) error {
	return b.client.LRem(ctx, b.processingKey(task), 1, raw).Err()
}

// promoteDelayed moves due delayed messages onto the ready list. ZRem gates
// the push so concurrent promoters move each member once.
func (b *Broker) promoteDelayed(ctx context.Context, task string) {
	due, err := b.client.ZRangeByScore(ctx, delayedKey(task), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(b.now().Unix(), 10),
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			b.log.WarnContext(ctx, "failed to scan delayed tasks", "task", task, "error", err)
		}
		return
	}

	for _, raw := range due {
		removed, err := b.client.ZRem(ctx, delayedKey(task), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := b.client.LPush(ctx, queueKey(task), raw).Err(); err != nil {
			b.log.WarnContext(ctx, "failed to promote delayed task", "task", task, "error", err)
		}
	}
}

// requeueOrphans returns messages left in this consumer's processing list by
// a previous crashed run to the ready list.
func (b *Broker) requeueOrphans(ctx context.Context, task string) error {
	for {
		raw, err := b.client.RPopLPush(ctx, b.processingKey(task), queueKey(task)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		b.log.InfoContext(ctx, "requeued orphaned message", "task", task, "payload_bytes", len(raw))
	}
}
