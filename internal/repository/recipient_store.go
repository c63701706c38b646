package repository

import (
	"context"

	"github.com/rhewin/birthday-notifier/internal/domain"
)

// RecipientStore is the read-only query surface the engine consumes (spec
// §4.9). Writes happen in an external CRUD service and are out of scope.
type RecipientStore interface {
	FindByID(ctx context.Context, id string) (*domain.Recipient, error)

	// FindAllLive returns live (non-deleted) recipients in pages, ordered by
	// id for stable cursoring across Hourly Sweeper ticks.
	FindAllLive(ctx context.Context, cursor string, limit int) (recipients []*domain.Recipient, nextCursor string, err error)
}
