package domain

import (
	"errors"
	"time"
)

var (
	ErrScheduledSendNotFound = errors.New("scheduled send not found")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrNotMutable            = errors.New("scheduled send is not in a mutable state")
)

type Status string

const (
	StatusUnprocessed Status = "unprocessed"
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusSent        Status = "sent"
	StatusFailed      Status = "failed"
	StatusRetrying    Status = "retrying"
)

// MessageType tags the kind of recurring event a ScheduledSend represents.
// "birthday" is the only type the engine produces today; the field exists so
// additional recurring notification types can reuse the same state machine.
type MessageType string

const MessageTypeBirthday MessageType = "birthday"

// ScheduledSend is the engine's own durable record of one planned delivery
// occurrence. See spec §3 for the full invariant list.
type ScheduledSend struct {
	ID             string
	RecipientID    string
	MessageType    MessageType
	ScheduledDate  time.Time // local calendar date (Y-M-D only) in the recipient's tz
	ScheduledFor   time.Time // UTC instant, 09:00 local on ScheduledDate
	IdempotencyKey string    // "{recipient_id}:{message_type}:{scheduled_date}"
	Status         Status
	AttemptCount   int
	LastAttemptAt  *time.Time
	SentAt         *time.Time
	ErrorMessage   *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IdempotencyKeyFor builds the natural key described in spec §3.
func IdempotencyKeyFor(recipientID string, msgType MessageType, localDate time.Time) string {
	return recipientID + ":" + string(msgType) + ":" + localDate.Format("2006-01-02")
}

// CanTransition reports whether moving from the current status to next is a
// legal state-machine edge per spec §3's diagram.
func CanTransition(current, next Status) bool {
	switch current {
	case StatusUnprocessed:
		return next == StatusPending || next == StatusFailed
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusSent || next == StatusFailed || next == StatusRetrying
	case StatusRetrying:
		return next == StatusProcessing || next == StatusFailed
	case StatusFailed:
		// Not unconditionally terminal: FindDue re-selects FAILED records with
		// attempt_count < maxAttempts for recovery after downtime (spec §4.4),
		// so the Worker must be able to re-enter PROCESSING on one of those.
		return next == StatusProcessing
	case StatusSent:
		return false // terminal
	default:
		return false
	}
}

// IsMutableForScheduleUpdate reports whether update_schedule (spec §4.2) is
// allowed from the given status.
func IsMutableForScheduleUpdate(s Status) bool {
	return s == StatusUnprocessed || s == StatusPending
}

func IsTerminal(s Status) bool {
	return s == StatusSent || s == StatusFailed
}
