// Package worker implements the Delivery Worker (spec §4.6): it polls the
// Dispatcher for due jobs and, for each, resolves the scheduled send,
// renders the birthday message, and invokes the delivery endpoint through
// the circuit breaker, classifying the outcome per spec §7.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rhewin/birthday-notifier/internal/circuitbreaker"
	"github.com/rhewin/birthday-notifier/internal/deliveryclient"
	"github.com/rhewin/birthday-notifier/internal/dispatcher"
	"github.com/rhewin/birthday-notifier/internal/domain"
	"github.com/rhewin/birthday-notifier/internal/metrics"
	"github.com/rhewin/birthday-notifier/internal/repository"
)

const recipientUnavailableMessage = "recipient unavailable"

// DefaultConcurrency is the number of jobs processed in parallel per poll
// (spec §4.6, "configurable concurrency, default 5").
const DefaultConcurrency = 5

type Config struct {
	PollInterval time.Duration
	Concurrency  int
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		Concurrency:  DefaultConcurrency,
	}
}

type Worker struct {
	id          string
	scheduled   repository.ScheduleStore
	recipients  repository.RecipientStore
	dispatcher  *dispatcher.Dispatcher
	breaker     *circuitbreaker.Breaker
	sender      deliveryclient.Sender
	logger      *slog.Logger
	cfg         Config
}

func New(
	scheduled repository.ScheduleStore,
	recipients repository.RecipientStore,
	disp *dispatcher.Dispatcher,
	breaker *circuitbreaker.Breaker,
	sender deliveryclient.Sender,
	logger *slog.Logger,
	cfg Config,
) *Worker {
	hostname, _ := os.Hostname()
	return &Worker{
		id:         fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		scheduled:  scheduled,
		recipients: recipients,
		dispatcher: disp,
		breaker:    breaker,
		sender:     sender,
		logger:     logger.With("component", "worker"),
		cfg:        cfg,
	}
}

// Start runs the poll loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("delivery worker started", "id", w.id, "concurrency", w.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("delivery worker shut down", "id", w.id)
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	jobs, err := w.dispatcher.ClaimDue(ctx, time.Now(), int64(w.cfg.Concurrency))
	if err != nil {
		w.logger.Error("claim due jobs", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(j dispatcher.Job) {
			defer wg.Done()
			w.runJob(ctx, j)
		}(job)
	}
	wg.Wait()
}

// runJob implements the per-job logic from spec §4.6: lookup, SENT no-op
// guard, transition to PROCESSING, recipient resolution, message render,
// delivery attempt, outcome classification.
func (w *Worker) runJob(ctx context.Context, job dispatcher.Job) {
	record, err := w.scheduled.FindByKey(ctx, job.IdempotencyKey)
	if err != nil {
		w.logger.Error("job has no scheduled send record", "idempotency_key", job.IdempotencyKey, "error", err)
		return
	}

	if record.Status == domain.StatusSent {
		// Already delivered by a previous attempt — at-least-once dispatch,
		// idempotency-key-guarded commit (spec §3).
		if err := w.dispatcher.Complete(ctx, job.IdempotencyKey); err != nil {
			w.logger.Error("complete already-sent job", "idempotency_key", job.IdempotencyKey, "error", err)
		}
		return
	}

	record, err = w.scheduled.Transition(ctx, record.ID, domain.StatusProcessing, nil)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Lost a race to another worker/retry — not an error.
			return
		}
		w.logger.Error("transition to processing", "idempotency_key", job.IdempotencyKey, "error", err)
		return
	}

	recipient, err := w.recipients.FindByID(ctx, record.RecipientID)
	if err != nil || recipient.IsDeleted() {
		note := recipientUnavailableMessage
		if _, terr := w.scheduled.Transition(ctx, record.ID, domain.StatusFailed, &note); terr != nil {
			w.logger.Error("fail record for unavailable recipient", "idempotency_key", job.IdempotencyKey, "error", terr)
		}
		if cerr := w.dispatcher.Complete(ctx, job.IdempotencyKey); cerr != nil {
			w.logger.Error("complete job for unavailable recipient", "idempotency_key", job.IdempotencyKey, "error", cerr)
		}
		return
	}

	message := fmt.Sprintf("Hey, %s it's your birthday", recipient.FullName())

	var result deliveryclient.Result
	breakerErr := w.breaker.Execute(ctx, func(callCtx context.Context) error {
		result = w.sender.Send(callCtx, recipient.Email, message, job.TraceID)
		return result.Err
	})

	if errors.Is(breakerErr, circuitbreaker.ErrOpen) {
		w.scheduleRetry(ctx, record, job, "circuit breaker open")
		return
	}

	metrics.DeliveryDuration.WithLabelValues(outcomeLabel(result.Outcome)).Observe(result.Duration.Seconds())
	metrics.DeliveryOutcomesTotal.WithLabelValues(outcomeLabel(result.Outcome)).Inc()

	switch result.Outcome {
	case deliveryclient.OutcomeSent:
		if _, err := w.scheduled.Transition(ctx, record.ID, domain.StatusSent, nil); err != nil {
			w.logger.Error("transition to sent", "idempotency_key", job.IdempotencyKey, "error", err)
			return
		}
		if err := w.dispatcher.Complete(ctx, job.IdempotencyKey); err != nil {
			w.logger.Error("complete sent job", "idempotency_key", job.IdempotencyKey, "error", err)
		}
		w.logger.Info("birthday message sent", "recipient_id", recipient.ID, "trace_id", job.TraceID)

	case deliveryclient.OutcomeRejected:
		errMsg := errMessage(result.Err, result.StatusCode)
		if _, err := w.scheduled.Transition(ctx, record.ID, domain.StatusFailed, &errMsg); err != nil {
			w.logger.Error("transition to failed", "idempotency_key", job.IdempotencyKey, "error", err)
		}
		if err := w.dispatcher.Complete(ctx, job.IdempotencyKey); err != nil {
			w.logger.Error("complete rejected job", "idempotency_key", job.IdempotencyKey, "error", err)
		}

	default: // OutcomeTransientFailure
		w.scheduleRetry(ctx, record, job, errMessage(result.Err, result.StatusCode))
	}
}

func (w *Worker) scheduleRetry(ctx context.Context, record *domain.ScheduledSend, job dispatcher.Job, reason string) {
	// record.AttemptCount already reflects the attempt that just failed (it
	// was incremented when the record entered PROCESSING).
	retried, err := w.dispatcher.Retry(ctx, job, record.AttemptCount)
	if err != nil {
		w.logger.Error("schedule retry", "idempotency_key", job.IdempotencyKey, "error", err)
	}

	if !retried {
		note := reason
		if _, err := w.scheduled.Transition(ctx, record.ID, domain.StatusFailed, &note); err != nil {
			w.logger.Error("transition to failed after max attempts", "idempotency_key", job.IdempotencyKey, "error", err)
		}
		if err := w.dispatcher.Complete(ctx, job.IdempotencyKey); err != nil {
			w.logger.Error("complete exhausted job", "idempotency_key", job.IdempotencyKey, "error", err)
		}
		return
	}

	note := reason
	if _, err := w.scheduled.Transition(ctx, record.ID, domain.StatusRetrying, &note); err != nil {
		w.logger.Error("transition to retrying", "idempotency_key", job.IdempotencyKey, "error", err)
	}
	metrics.RetriesScheduledTotal.Inc()
}

func outcomeLabel(o deliveryclient.Outcome) string {
	switch o {
	case deliveryclient.OutcomeSent:
		return "sent"
	case deliveryclient.OutcomeRejected:
		return "rejected"
	default:
		return "transient_failure"
	}
}

func errMessage(err error, statusCode int) string {
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("unexpected status code: %d", statusCode)
}
