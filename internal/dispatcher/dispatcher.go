// Package dispatcher is a Redis-backed durable delayed work queue (spec
// §4.5): scheduled sends become jobs here once their ScheduledFor instant
// arrives, and Delivery Workers claim them for at-least-once processing.
//
// A sorted set ("queueKey") orders job IDs by due time; a string key per job
// ("payloadKey") holds the JSON job body, attempt count included. Claiming a job is
// an atomic ZREM: only the worker whose ZREM removes the member actually
// owns it, so two workers racing on the same due job never both proceed.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rhewin/birthday-notifier/internal/metrics"
)

const (
	queueKeyPrefix   = "dispatcher:queue"
	payloadKeyPrefix = "dispatcher:payload:"
)

var ErrJobNotFound = errors.New("dispatcher: job not found")

// Job is the durable payload stored per idempotency key.
type Job struct {
	IdempotencyKey string    `json:"idempotency_key"`
	RecipientID    string    `json:"recipient_id"`
	ScheduledFor   time.Time `json:"scheduled_for"`
	TraceID        string    `json:"trace_id"`
	AttemptCount   int       `json:"attempt_count"`
}

type Config struct {
	MaxAttempts  int
	BaseBackoff  time.Duration // backoff = BaseBackoff * 2^(attempt-1)
	QueueName    string
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseBackoff: 2 * time.Second,
		QueueName:   "default",
	}
}

type Dispatcher struct {
	rdb    redis.UniversalClient
	cfg    Config
	logger *slog.Logger
}

func New(rdb redis.UniversalClient, cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{rdb: rdb, cfg: cfg, logger: logger.With("component", "dispatcher")}
}

func (d *Dispatcher) queueKey() string {
	return queueKeyPrefix + ":" + d.cfg.QueueName
}

func (d *Dispatcher) payloadKey(idempotencyKey string) string {
	return payloadKeyPrefix + idempotencyKey
}

// Enqueue schedules a job for delivery at scheduledFor. Re-enqueuing the
// same idempotency key overwrites the existing entry's due time — the
// Planner relies on this when a timezone change reschedules an already
// queued job.
func (d *Dispatcher) Enqueue(ctx context.Context, idempotencyKey, recipientID string, scheduledFor time.Time, traceID string) error {
	job := Job{
		IdempotencyKey: idempotencyKey,
		RecipientID:    recipientID,
		ScheduledFor:   scheduledFor,
		TraceID:        traceID,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := d.rdb.TxPipeline()
	pipe.Set(ctx, d.payloadKey(idempotencyKey), payload, 0)
	pipe.ZAdd(ctx, d.queueKey(), redis.Z{Score: float64(scheduledFor.Unix()), Member: idempotencyKey})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job %s: %w", idempotencyKey, err)
	}

	d.logger.InfoContext(ctx, "job enqueued", "idempotency_key", idempotencyKey, "scheduled_for", scheduledFor, "trace_id", traceID)
	metrics.QueueEnqueuedTotal.Inc()
	return nil
}

// Remove deletes a not-yet-claimed job. A no-op if the job was already
// claimed or never existed — the Planner calls this best-effort when a
// birthdate or timezone change supersedes a queued job.
func (d *Dispatcher) Remove(ctx context.Context, idempotencyKey string) error {
	pipe := d.rdb.TxPipeline()
	pipe.ZRem(ctx, d.queueKey(), idempotencyKey)
	pipe.Del(ctx, d.payloadKey(idempotencyKey))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove job %s: %w", idempotencyKey, err)
	}
	return nil
}

// Exists reports whether idempotencyKey currently has a not-yet-claimed job
// queued, so callers can avoid a redundant enqueue (spec §4.4 step 2: "check
// the Dispatcher for an existing job with that idempotency key").
func (d *Dispatcher) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	_, err := d.rdb.ZScore(ctx, d.queueKey(), idempotencyKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("check job existence %s: %w", idempotencyKey, err)
	}
	return true, nil
}

// ClaimDue atomically claims up to limit jobs whose due time has arrived.
// Each returned Job's ZREM succeeded for this caller alone — concurrent
// workers never receive the same job from this call.
func (d *Dispatcher) ClaimDue(ctx context.Context, now time.Time, limit int64) ([]Job, error) {
	ids, err := d.rdb.ZRangeByScore(ctx, d.queueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range due jobs: %w", err)
	}

	var claimed []Job
	for _, id := range ids {
		removed, err := d.rdb.ZRem(ctx, d.queueKey(), id).Result()
		if err != nil {
			d.logger.ErrorContext(ctx, "claim job", "idempotency_key", id, "error", err)
			continue
		}
		if removed == 0 {
			// Another worker claimed it first.
			continue
		}

		raw, err := d.rdb.Get(ctx, d.payloadKey(id)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			d.logger.ErrorContext(ctx, "load claimed job payload", "idempotency_key", id, "error", err)
			continue
		}

		var job Job
		if err := json.Unmarshal(raw, &job); err != nil {
			d.logger.ErrorContext(ctx, "unmarshal claimed job payload", "idempotency_key", id, "error", err)
			continue
		}
		claimed = append(claimed, job)
	}
	metrics.QueueClaimedTotal.Add(float64(len(claimed)))
	return claimed, nil
}

// Complete removes a job's payload after successful delivery.
func (d *Dispatcher) Complete(ctx context.Context, idempotencyKey string) error {
	if err := d.rdb.Del(ctx, d.payloadKey(idempotencyKey)).Err(); err != nil {
		return fmt.Errorf("complete job %s: %w", idempotencyKey, err)
	}
	return nil
}

// Retry re-enqueues a failed job with exponential backoff (spec §4.5/§4.6:
// backoff = BaseBackoff * 2^(attempt-1), so 2s, 4s, 8s... with the default
// BaseBackoff). Callers pass the attempt count about
// to be recorded (i.e. after incrementing). Once attempt exceeds
// MaxAttempts, Retry returns false and the caller must mark the record
// terminally FAILED instead of re-enqueuing.
func (d *Dispatcher) Retry(ctx context.Context, job Job, attempt int) (retried bool, err error) {
	if attempt > d.cfg.MaxAttempts {
		return false, nil
	}

	job.AttemptCount = attempt
	backoff := time.Duration(float64(d.cfg.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	nextDue := time.Now().Add(backoff)

	payload, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("marshal retried job: %w", err)
	}

	pipe := d.rdb.TxPipeline()
	pipe.Set(ctx, d.payloadKey(job.IdempotencyKey), payload, 0)
	pipe.ZAdd(ctx, d.queueKey(), redis.Z{Score: float64(nextDue.Unix()), Member: job.IdempotencyKey})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("retry job %s: %w", job.IdempotencyKey, err)
	}

	d.logger.InfoContext(ctx, "job retry scheduled",
		"idempotency_key", job.IdempotencyKey, "attempt", attempt, "next_due", nextDue, "trace_id", job.TraceID)
	return true, nil
}

// QueueDepth reports the number of not-yet-claimed jobs, for metrics/health.
func (d *Dispatcher) QueueDepth(ctx context.Context) (int64, error) {
	n, err := d.rdb.ZCard(ctx, d.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	metrics.QueueDepth.Set(float64(n))
	return n, nil
}
