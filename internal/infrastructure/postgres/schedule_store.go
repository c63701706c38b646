package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhewin/birthday-notifier/internal/domain"
)

type ScheduleStore struct {
	pool *pgxpool.Pool
}

func NewScheduleStore(pool *pgxpool.Pool) *ScheduleStore {
	return &ScheduleStore{pool: pool}
}

func (s *ScheduleStore) CreateIfAbsent(ctx context.Context, record *domain.ScheduledSend) (*domain.ScheduledSend, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	query := `
		INSERT INTO scheduled_sends (
			id, recipient_id, message_type, scheduled_date, scheduled_for,
			idempotency_key, status, attempt_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		RETURNING id, recipient_id, message_type, scheduled_date, scheduled_for,
		          idempotency_key, status, attempt_count, last_attempt_at,
		          sent_at, error_message, created_at, updated_at`

	row := s.pool.QueryRow(ctx, query,
		record.ID, record.RecipientID, record.MessageType, record.ScheduledDate,
		record.ScheduledFor, record.IdempotencyKey, record.Status,
	)

	created, err := scanScheduledSend(row)
	if err == nil {
		return created, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		// Idempotency key already exists — return the existing row unchanged.
		return s.FindByKey(ctx, record.IdempotencyKey)
	}
	return nil, fmt.Errorf("create scheduled send: %w", err)
}

func (s *ScheduleStore) FindByKey(ctx context.Context, idempotencyKey string) (*domain.ScheduledSend, error) {
	query := `
		SELECT id, recipient_id, message_type, scheduled_date, scheduled_for,
		       idempotency_key, status, attempt_count, last_attempt_at,
		       sent_at, error_message, created_at, updated_at
		FROM scheduled_sends
		WHERE idempotency_key = $1`

	row := s.pool.QueryRow(ctx, query, idempotencyKey)
	return scanScheduledSend(row)
}

func (s *ScheduleStore) FindPendingForLocalDate(ctx context.Context, date time.Time) ([]*domain.ScheduledSend, error) {
	query := `
		SELECT id, recipient_id, message_type, scheduled_date, scheduled_for,
		       idempotency_key, status, attempt_count, last_attempt_at,
		       sent_at, error_message, created_at, updated_at
		FROM scheduled_sends
		WHERE status = $1 AND scheduled_date = $2`

	rows, err := s.pool.Query(ctx, query, domain.StatusPending, date)
	if err != nil {
		return nil, fmt.Errorf("find pending for local date: %w", err)
	}
	defer rows.Close()
	return scanScheduledSends(rows)
}

func (s *ScheduleStore) FindDue(ctx context.Context, cutoffUTC time.Time, maxAttempts int) ([]*domain.ScheduledSend, error) {
	query := `
		SELECT id, recipient_id, message_type, scheduled_date, scheduled_for,
		       idempotency_key, status, attempt_count, last_attempt_at,
		       sent_at, error_message, created_at, updated_at
		FROM scheduled_sends
		WHERE scheduled_for <= $1
		  AND (
		        status IN ($2, $3)
		        OR (status = $4 AND attempt_count < $5)
		      )
		ORDER BY scheduled_for ASC`

	rows, err := s.pool.Query(ctx, query,
		cutoffUTC, domain.StatusPending, domain.StatusRetrying, domain.StatusFailed, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("find due: %w", err)
	}
	defer rows.Close()
	return scanScheduledSends(rows)
}

// Transition applies one state-machine edge via a conditional UPDATE guarded
// by the expected current status, so concurrent workers/planners cannot race
// past each other (spec §5, "Per-record" ordering).
func (s *ScheduleStore) Transition(ctx context.Context, id string, next domain.Status, errMsg *string) (*domain.ScheduledSend, error) {
	current, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(current.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, next)
	}

	// attempt_count counts delivery attempts, so it only advances when a
	// record enters PROCESSING — the other edges (SENT/RETRYING/FAILED) are
	// outcomes of that same attempt, not new ones.
	incrementsAttempt := next == domain.StatusProcessing

	query := `
		UPDATE scheduled_sends
		SET    status          = $3,
		       attempt_count   = attempt_count + $4,
		       last_attempt_at = CASE WHEN $4 > 0 THEN NOW() ELSE last_attempt_at END,
		       sent_at         = CASE WHEN $3 = $5 THEN NOW() ELSE sent_at END,
		       error_message   = CASE WHEN $3 = $5 THEN NULL ELSE COALESCE($6, error_message) END,
		       updated_at      = NOW()
		WHERE id = $1 AND status = $2
		RETURNING id, recipient_id, message_type, scheduled_date, scheduled_for,
		          idempotency_key, status, attempt_count, last_attempt_at,
		          sent_at, error_message, created_at, updated_at`

	increment := 0
	if incrementsAttempt {
		increment = 1
	}

	row := s.pool.QueryRow(ctx, query, id, current.Status, next, increment, domain.StatusSent, errMsg)
	updated, err := scanScheduledSend(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race against a concurrent transition.
			return nil, fmt.Errorf("%w: concurrent transition", domain.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("transition: %w", err)
	}
	return updated, nil
}

func (s *ScheduleStore) UpdateSchedule(ctx context.Context, id string, scheduledDate, scheduledFor time.Time) (*domain.ScheduledSend, error) {
	query := `
		UPDATE scheduled_sends
		SET    scheduled_date = $2,
		       scheduled_for  = $3,
		       updated_at     = NOW()
		WHERE id = $1 AND status IN ($4, $5)
		RETURNING id, recipient_id, message_type, scheduled_date, scheduled_for,
		          idempotency_key, status, attempt_count, last_attempt_at,
		          sent_at, error_message, created_at, updated_at`

	row := s.pool.QueryRow(ctx, query, id, scheduledDate, scheduledFor,
		domain.StatusUnprocessed, domain.StatusPending)
	updated, err := scanScheduledSend(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotMutable
		}
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return updated, nil
}

// RescheduleStale rescues PROCESSING records abandoned by a crashed worker:
// their last_attempt_at predates staleCutoff and they still have attempts
// left, so they go back to RETRYING, where the next sweep's FindDue finds
// them and re-enqueues them for the Worker.
func (s *ScheduleStore) RescheduleStale(ctx context.Context, staleCutoff time.Time, maxAttempts, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_sends
		SET    status        = $4,
		       error_message = 'worker lease expired',
		       updated_at    = NOW()
		WHERE id IN (
			SELECT id FROM scheduled_sends
			WHERE  status        = $3
			  AND  last_attempt_at < $1
			  AND  attempt_count  < $5
			ORDER BY last_attempt_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, staleCutoff, limit, domain.StatusProcessing, domain.StatusRetrying, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("reschedule stale: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// FailStale terminally fails PROCESSING records abandoned by a crashed
// worker that have already exhausted their attempt budget.
func (s *ScheduleStore) FailStale(ctx context.Context, staleCutoff time.Time, maxAttempts, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_sends
		SET    status        = $4,
		       error_message = 'worker lease expired: max attempts exceeded',
		       updated_at    = NOW()
		WHERE id IN (
			SELECT id FROM scheduled_sends
			WHERE  status        = $3
			  AND  last_attempt_at < $1
			  AND  attempt_count  >= $5
			ORDER BY last_attempt_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`, staleCutoff, limit, domain.StatusProcessing, domain.StatusFailed, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("fail stale: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *ScheduleStore) findByID(ctx context.Context, id string) (*domain.ScheduledSend, error) {
	query := `
		SELECT id, recipient_id, message_type, scheduled_date, scheduled_for,
		       idempotency_key, status, attempt_count, last_attempt_at,
		       sent_at, error_message, created_at, updated_at
		FROM scheduled_sends
		WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, id)
	return scanScheduledSend(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScheduledSend(row rowScanner) (*domain.ScheduledSend, error) {
	var r domain.ScheduledSend
	err := row.Scan(
		&r.ID, &r.RecipientID, &r.MessageType, &r.ScheduledDate, &r.ScheduledFor,
		&r.IdempotencyKey, &r.Status, &r.AttemptCount, &r.LastAttemptAt,
		&r.SentAt, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScheduledSendNotFound
		}
		return nil, fmt.Errorf("scan scheduled send: %w", err)
	}
	return &r, nil
}

func scanScheduledSends(rows pgx.Rows) ([]*domain.ScheduledSend, error) {
	var out []*domain.ScheduledSend
	for rows.Next() {
		r, err := scanScheduledSend(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scheduled sends: %w", err)
	}
	return out, nil
}
