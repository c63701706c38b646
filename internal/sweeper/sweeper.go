// Package sweeper implements the Hourly Sweeper (spec §4.4): a single-
// instance periodic coordinator that promotes today's occurrences from
// UNPROCESSED to PENDING and hands due PENDING records to the Dispatcher.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rhewin/birthday-notifier/internal/clock"
	"github.com/rhewin/birthday-notifier/internal/domain"
	"github.com/rhewin/birthday-notifier/internal/metrics"
	"github.com/rhewin/birthday-notifier/internal/repository"
	"github.com/rhewin/birthday-notifier/internal/requestid"
)

// Enqueuer is the Dispatcher slice the Sweeper needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, idempotencyKey, recipientID string, scheduledFor time.Time, traceID string) error
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}

// Summary is the sweep result shape shared by the Hourly Sweeper and the
// Manual Trigger (spec §4.4/§6).
type Summary struct {
	Total                int
	Queued               int
	SkippedNotDue        int
	SkippedAlreadyQueued int
	FailedIDs            []string
}

type Sweeper struct {
	scheduled   repository.ScheduleStore
	recipients  repository.RecipientStore
	dispatcher  Enqueuer
	logger      *slog.Logger
	messageHour int
	cron        *cron.Cron
	now         func() time.Time
}

func New(
	scheduled repository.ScheduleStore,
	recipients repository.RecipientStore,
	dispatcher Enqueuer,
	logger *slog.Logger,
	messageHour int,
) *Sweeper {
	return &Sweeper{
		scheduled:   scheduled,
		recipients:  recipients,
		dispatcher:  dispatcher,
		logger:      logger.With("component", "sweeper"),
		messageHour: messageHour,
		cron:        cron.New(),
		now:         time.Now,
	}
}

// Start registers the minute-0 cadence and begins running. It also performs
// one immediate sweep before the first scheduled tick, so a process that
// restarted after downtime queues overdue records within one cycle (spec
// §4.4, "Recovery after downtime").
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc("0 * * * *", func() { s.Tick(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("sweeper started", "cadence", "0 * * * *")

	s.Tick(ctx)
	return nil
}

// Stop halts the cron schedule, waiting for any in-flight tick to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Tick runs one full sweep: promote today's occurrences, then dispatch due
// records. Errors are logged per-recipient/per-record; one failure never
// aborts the rest of the sweep.
func (s *Sweeper) Tick(ctx context.Context) Summary {
	start := s.now()
	if err := s.PromoteToday(ctx); err != nil {
		s.logger.Error("promote today", "error", err)
	}
	summary, err := s.DispatchDue(ctx, false)
	if err != nil {
		s.logger.Error("dispatch due", "error", err)
	}

	metrics.SweepDuration.Observe(s.now().Sub(start).Seconds())
	metrics.SweepOutcomesTotal.WithLabelValues("queued").Add(float64(summary.Queued))
	metrics.SweepOutcomesTotal.WithLabelValues("skipped_not_due").Add(float64(summary.SkippedNotDue))
	metrics.SweepOutcomesTotal.WithLabelValues("skipped_already_queued").Add(float64(summary.SkippedAlreadyQueued))
	metrics.SweepOutcomesTotal.WithLabelValues("failed").Add(float64(len(summary.FailedIDs)))
	return summary
}

// PromoteToday enumerates live recipients and promotes any whose birthday
// falls on today-in-their-tz to a PENDING (or newly-created PENDING)
// scheduled send (spec §4.4 step 1).
func (s *Sweeper) PromoteToday(ctx context.Context) error {
	cursor := ""
	for {
		batch, next, err := s.recipients.FindAllLive(ctx, cursor, 500)
		if err != nil {
			return err
		}
		for _, r := range batch {
			if err := s.promoteOne(ctx, r); err != nil {
				s.logger.Error("promote recipient", "recipient_id", r.ID, "error", err)
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

func (s *Sweeper) promoteOne(ctx context.Context, r *domain.Recipient) error {
	today, err := clock.TodayLocal(r.Timezone, s.now())
	if err != nil {
		return err
	}

	sameMonthDay := r.BirthDate.Month() == today.Month() && r.BirthDate.Day() == today.Day()
	leapPromoted := r.BirthDate.Month() == time.February && r.BirthDate.Day() == 29 &&
		today.Month() == time.February && today.Day() == 28 && !isLeapYear(today.Year())
	if !sameMonthDay && !leapPromoted {
		return nil
	}

	key := domain.IdempotencyKeyFor(r.ID, domain.MessageTypeBirthday, today)

	_, scheduledFor, err := clock.NextOccurrence(int(r.BirthDate.Month()), r.BirthDate.Day(), r.Timezone, s.now(), s.messageHour)
	if err != nil {
		return err
	}

	existing, err := s.scheduled.FindByKey(ctx, key)
	if err != nil {
		record := &domain.ScheduledSend{
			RecipientID:    r.ID,
			MessageType:    domain.MessageTypeBirthday,
			ScheduledDate:  today,
			ScheduledFor:   scheduledFor,
			IdempotencyKey: key,
			Status:         domain.StatusPending,
		}
		created, err := s.scheduled.CreateIfAbsent(ctx, record)
		if err != nil {
			return err
		}
		if created.Status == domain.StatusUnprocessed {
			_, err = s.scheduled.Transition(ctx, created.ID, domain.StatusPending, nil)
		}
		return err
	}

	if existing.Status == domain.StatusUnprocessed {
		_, err := s.scheduled.Transition(ctx, existing.ID, domain.StatusPending, nil)
		return err
	}
	return nil
}

func isLeapYear(year int) bool {
	return (year%4 == 0 && year%100 != 0) || year%400 == 0
}

// DispatchDue enqueues PENDING/RETRYING (and not-yet-exhausted FAILED)
// records whose scheduled_for has arrived (spec §4.4 step 2). force bypasses
// the scheduled_for check entirely (used by the Manual Trigger, spec §4.7)
// by treating every currently-queueable record as due regardless of clock.
func (s *Sweeper) DispatchDue(ctx context.Context, force bool) (Summary, error) {
	// Look 24h ahead so today's not-yet-due records (in any timezone) are
	// returned and counted as SkippedNotDue instead of silently omitted.
	cutoff := s.now().Add(24 * time.Hour)
	if force {
		cutoff = cutoff.AddDate(1, 0, 0) // far enough ahead to include every not-yet-due record
	}

	records, err := s.scheduled.FindDue(ctx, cutoff, maxAttemptsForDueQuery)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Total: len(records)}
	for _, record := range records {
		if !force && record.ScheduledFor.After(s.now()) {
			summary.SkippedNotDue++
			continue
		}

		already, err := s.dispatcher.Exists(ctx, record.IdempotencyKey)
		if err != nil {
			s.logger.Error("check existing job", "idempotency_key", record.IdempotencyKey, "error", err)
			summary.FailedIDs = append(summary.FailedIDs, record.ID)
			continue
		}
		if already {
			summary.SkippedAlreadyQueued++
			continue
		}

		if err := s.dispatcher.Enqueue(ctx, record.IdempotencyKey, record.RecipientID, record.ScheduledFor, requestid.New()); err != nil {
			s.logger.Error("enqueue due record", "idempotency_key", record.IdempotencyKey, "error", err)
			summary.FailedIDs = append(summary.FailedIDs, record.ID)
			continue
		}
		summary.Queued++
	}

	return summary, nil
}

// maxAttemptsForDueQuery bounds which FAILED rows FindDue still considers
// recoverable (spec §4.2, "safety net for restarts"). It is fixed at 5, the
// Dispatcher's default MaxAttempts; it does not follow QUEUE_MAX_RETRIES.
const maxAttemptsForDueQuery = 5
