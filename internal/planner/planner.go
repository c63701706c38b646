// Package planner reacts to recipient lifecycle events and keeps the
// Schedule Store in sync (spec §4.3).
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhewin/birthday-notifier/internal/clock"
	"github.com/rhewin/birthday-notifier/internal/domain"
	"github.com/rhewin/birthday-notifier/internal/repository"
)

const lateRegistrationNote = "recipient created after scheduled send time; awaiting manual trigger"
const cancelledBirthdateChangeNote = "cancelled due to birthdate change"

// JobRemover is the slice of the Dispatcher the Planner needs: removing a
// not-yet-picked-up job by idempotency key. Defined here rather than
// imported from internal/dispatcher to keep the Planner's dependency
// surface to exactly what spec §4.3 requires.
type JobRemover interface {
	Remove(ctx context.Context, idempotencyKey string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, idempotencyKey, recipientID string, scheduledFor time.Time, traceID string) error
}

// MessageTypes lists every recurring-notification type the Planner plans
// for a new recipient. Extensible beyond "birthday" per spec §3.
var MessageTypes = []domain.MessageType{domain.MessageTypeBirthday}

type Planner struct {
	store       repository.ScheduleStore
	jobs        JobRemover
	dispatcher  Enqueuer
	logger      *slog.Logger
	messageHour int
	now         func() time.Time
}

func New(store repository.ScheduleStore, jobs JobRemover, dispatcher Enqueuer, logger *slog.Logger, messageHour int) *Planner {
	return &Planner{
		store:       store,
		jobs:        jobs,
		dispatcher:  dispatcher,
		logger:      logger.With("component", "planner"),
		messageHour: messageHour,
		now:         time.Now,
	}
}

// HandleCreated is the RECIPIENT_CREATED subscriber (spec §4.3).
func (p *Planner) HandleCreated(ctx context.Context, payload any) error {
	evt, ok := payload.(domain.RecipientCreatedEvent)
	if !ok {
		return fmt.Errorf("planner: unexpected payload type %T", payload)
	}
	for _, mt := range MessageTypes {
		if _, err := p.plan(ctx, evt.Recipient, mt, evt.TraceID); err != nil {
			return fmt.Errorf("plan recipient %s: %w", evt.Recipient.ID, err)
		}
	}
	return nil
}

// plan computes the next occurrence and materialises a ScheduledSend record
// (spec §4.3's plan(recipient) operation).
func (p *Planner) plan(ctx context.Context, r domain.Recipient, mt domain.MessageType, traceID string) (*domain.ScheduledSend, error) {
	localDate, scheduledFor, err := clock.NextOccurrence(int(r.BirthDate.Month()), r.BirthDate.Day(), r.Timezone, p.now(), p.messageHour)
	if err != nil {
		return nil, fmt.Errorf("resolve next occurrence: %w", err)
	}

	today, err := clock.TodayLocal(r.Timezone, p.now())
	if err != nil {
		return nil, fmt.Errorf("resolve today local: %w", err)
	}
	if localDate.Before(today) {
		// Already passed this year — nothing to do.
		return nil, nil
	}

	key := domain.IdempotencyKeyFor(r.ID, mt, localDate)

	status := domain.StatusUnprocessed
	isToday := localDate.Equal(today)
	if isToday {
		status = domain.StatusPending
	}

	record := &domain.ScheduledSend{
		RecipientID:    r.ID,
		MessageType:    mt,
		ScheduledDate:  localDate,
		ScheduledFor:   scheduledFor,
		IdempotencyKey: key,
		Status:         status,
	}

	if isToday && scheduledFor.Before(p.now()) {
		note := lateRegistrationNote
		record.ErrorMessage = &note
	}

	created, err := p.store.CreateIfAbsent(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("create if absent: %w", err)
	}

	p.logger.InfoContext(ctx, "planned scheduled send",
		"recipient_id", r.ID, "idempotency_key", key, "status", created.Status, "trace_id", traceID)

	return created, nil
}

// HandleUpdated is the RECIPIENT_UPDATED subscriber (spec §4.3).
func (p *Planner) HandleUpdated(ctx context.Context, payload any) error {
	evt, ok := payload.(domain.RecipientUpdatedEvent)
	if !ok {
		return fmt.Errorf("planner: unexpected payload type %T", payload)
	}

	birthChanged := !evt.Old.BirthDate.Equal(evt.New.BirthDate)
	tzChanged := evt.Old.Timezone != evt.New.Timezone

	if !birthChanged && !tzChanged {
		return nil
	}

	if birthChanged {
		return p.handleBirthdateChange(ctx, evt)
	}
	return p.handleTimezoneChange(ctx, evt)
}

func (p *Planner) handleBirthdateChange(ctx context.Context, evt domain.RecipientUpdatedEvent) error {
	for _, mt := range MessageTypes {
		oldLocalDate, _, err := clock.NextOccurrence(int(evt.Old.BirthDate.Month()), evt.Old.BirthDate.Day(), evt.Old.Timezone, p.now(), p.messageHour)
		if err != nil {
			return fmt.Errorf("resolve old occurrence: %w", err)
		}
		oldKey := domain.IdempotencyKeyFor(evt.Old.ID, mt, oldLocalDate)

		// FindByKey returns a nil record alongside a not-found error, so a
		// missing prior record and a lookup failure both fall through to the
		// "nothing to cancel" branch below without special-casing either.
		existing, _ := p.store.FindByKey(ctx, oldKey)

		// Remove the queued job *before* mutating the record (spec §4.3
		// ordering rule): closes the race where the Worker would start
		// processing an obsolete record.
		if err := p.jobs.Remove(ctx, oldKey); err != nil {
			p.logger.WarnContext(ctx, "remove queued job for old birthdate",
				"idempotency_key", oldKey, "error", err)
		}

		if existing != nil && (existing.Status == domain.StatusProcessing || existing.Status == domain.StatusSent) {
			// Worker already claimed (or finished) the old record — let it
			// complete. A new record for the new date is still planned
			// below, accepting the documented possible double-send.
			p.logger.WarnContext(ctx, "birthdate changed while old record in flight, not cancelling",
				"idempotency_key", oldKey, "status", existing.Status)
		} else if existing != nil {
			note := cancelledBirthdateChangeNote
			if _, err := p.store.Transition(ctx, existing.ID, domain.StatusFailed, &note); err != nil {
				p.logger.WarnContext(ctx, "cancel old scheduled send",
					"idempotency_key", oldKey, "error", err)
			}
		}

		if _, err := p.plan(ctx, evt.New, mt, evt.TraceID); err != nil {
			return fmt.Errorf("plan new birthdate: %w", err)
		}
	}
	return nil
}

func (p *Planner) handleTimezoneChange(ctx context.Context, evt domain.RecipientUpdatedEvent) error {
	for _, mt := range MessageTypes {
		localDate, _, err := clock.NextOccurrence(int(evt.Old.BirthDate.Month()), evt.Old.BirthDate.Day(), evt.Old.Timezone, p.now(), p.messageHour)
		if err != nil {
			return fmt.Errorf("resolve occurrence under old tz: %w", err)
		}
		key := domain.IdempotencyKeyFor(evt.New.ID, mt, localDate)

		existing, err := p.store.FindByKey(ctx, key)
		if err != nil {
			// Nothing planned yet under this key — nothing to migrate.
			continue
		}

		if existing.Status == domain.StatusProcessing || existing.Status == domain.StatusSent {
			continue
		}

		if err := p.jobs.Remove(ctx, key); err != nil {
			p.logger.WarnContext(ctx, "remove queued job for timezone change",
				"idempotency_key", key, "error", err)
		}

		newScheduledFor, err := recomputeScheduledFor(existing.ScheduledDate, evt.New.Timezone, p.messageHour)
		if err != nil {
			return fmt.Errorf("recompute scheduled_for: %w", err)
		}

		updated, err := p.store.UpdateSchedule(ctx, existing.ID, existing.ScheduledDate, newScheduledFor)
		if err != nil {
			return fmt.Errorf("update schedule: %w", err)
		}

		if updated.Status == domain.StatusPending && newScheduledFor.Before(p.now()) {
			if err := p.dispatcher.Enqueue(ctx, key, evt.New.ID, newScheduledFor, evt.TraceID); err != nil {
				p.logger.WarnContext(ctx, "immediate enqueue after timezone change",
					"idempotency_key", key, "error", err)
			}
		}
	}
	return nil
}

// recomputeScheduledFor resolves messageHour:00 local on the same calendar
// date under a new timezone (used when only the timezone changed).
func recomputeScheduledFor(scheduledDate time.Time, tz string, messageHour int) (time.Time, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return time.Time{}, err
	}
	at := time.Date(scheduledDate.Year(), scheduledDate.Month(), scheduledDate.Day(), messageHour, 0, 0, 0, loc)
	return at.UTC(), nil
}

func loadLocation(tz string) (*time.Location, error) {
	return time.LoadLocation(tz)
}

// HandleDeleted is the RECIPIENT_DELETED subscriber. Scheduled sends are not
// deleted (spec §3): the Worker observes DeletedAt at dispatch time instead.
func (p *Planner) HandleDeleted(_ context.Context, payload any) error {
	if _, ok := payload.(domain.RecipientDeletedEvent); !ok {
		return fmt.Errorf("planner: unexpected payload type %T", payload)
	}
	return nil
}
