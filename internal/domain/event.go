package domain

import "time"

// Topic names published by the external recipient-CRUD collaborator and
// consumed by the Notification Planner (spec §4.8).
type Topic string

const (
	TopicRecipientCreated Topic = "RECIPIENT_CREATED"
	TopicRecipientUpdated Topic = "RECIPIENT_UPDATED"
	TopicRecipientDeleted Topic = "RECIPIENT_DELETED"
)

// RecipientCreatedEvent is published once a new recipient is durably stored.
type RecipientCreatedEvent struct {
	Recipient Recipient
	TraceID   string
	At        time.Time
}

// RecipientUpdatedEvent carries both projections so the Planner can diff
// birth_date / timezone without a second read.
type RecipientUpdatedEvent struct {
	Old     Recipient
	New     Recipient
	TraceID string
	At      time.Time
}

type RecipientDeletedEvent struct {
	Recipient Recipient
	TraceID   string
	At        time.Time
}
