package domain

import (
	"errors"
	"time"
)

var ErrRecipientNotFound = errors.New("recipient not found")

// Recipient is owned by an external CRUD service; the engine only reads it.
type Recipient struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	BirthDate time.Time // calendar date, no time-of-day component
	Timezone  string    // IANA identifier, e.g. "America/New_York"
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *Recipient) FullName() string {
	return r.FirstName + " " + r.LastName
}

func (r *Recipient) IsDeleted() bool {
	return r.DeletedAt != nil
}
