package repository

import (
	"context"
	"time"

	"github.com/rhewin/birthday-notifier/internal/domain"
)

// ScheduleStore is the Schedule Store contract (spec §4.2). Every operation
// is durable and committed before returning.
type ScheduleStore interface {
	// CreateIfAbsent inserts record keyed by its IdempotencyKey. On conflict
	// it returns the existing row unchanged, never an error.
	CreateIfAbsent(ctx context.Context, record *domain.ScheduledSend) (*domain.ScheduledSend, error)

	FindByKey(ctx context.Context, idempotencyKey string) (*domain.ScheduledSend, error)

	// FindPendingForLocalDate returns PENDING records whose ScheduledDate equals date.
	FindPendingForLocalDate(ctx context.Context, date time.Time) ([]*domain.ScheduledSend, error)

	// FindDue returns records eligible for recovery: status in
	// {PENDING, RETRYING, FAILED-not-terminal} and ScheduledFor <= cutoffUTC.
	// maxAttempts bounds which FAILED rows are still considered non-terminal.
	FindDue(ctx context.Context, cutoffUTC time.Time, maxAttempts int) ([]*domain.ScheduledSend, error)

	// Transition applies one state-machine edge. errMsg is recorded when
	// entering FAILED or RETRYING; cleared when entering SENT.
	Transition(ctx context.Context, id string, next domain.Status, errMsg *string) (*domain.ScheduledSend, error)

	// UpdateSchedule rewrites ScheduledDate/ScheduledFor. Only legal when the
	// current status is UNPROCESSED or PENDING.
	UpdateSchedule(ctx context.Context, id string, scheduledDate, scheduledFor time.Time) (*domain.ScheduledSend, error)

	// RescheduleStale returns abandoned PROCESSING records (last_attempt_at
	// older than staleCutoff, attempt_count still under maxAttempts) to
	// RETRYING, up to limit rows. Used by the Reaper to recover jobs whose
	// worker crashed mid-delivery.
	RescheduleStale(ctx context.Context, staleCutoff time.Time, maxAttempts, limit int) (int, error)

	// FailStale terminally fails abandoned PROCESSING records that have
	// already exhausted their attempt budget, up to limit rows.
	FailStale(ctx context.Context, staleCutoff time.Time, maxAttempts, limit int) (int, error)
}
