package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhewin/birthday-notifier/internal/domain"
)

// RecipientStore is a read-only adapter over a table owned by the external
// recipient-CRUD service (spec §4.9). The engine never writes through it.
type RecipientStore struct {
	pool *pgxpool.Pool
}

func NewRecipientStore(pool *pgxpool.Pool) *RecipientStore {
	return &RecipientStore{pool: pool}
}

func (s *RecipientStore) FindByID(ctx context.Context, id string) (*domain.Recipient, error) {
	query := `
		SELECT id, first_name, last_name, email, birth_date, timezone,
		       deleted_at, created_at, updated_at
		FROM recipients
		WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	return scanRecipient(row)
}

func (s *RecipientStore) FindAllLive(ctx context.Context, cursor string, limit int) ([]*domain.Recipient, string, error) {
	if limit <= 0 {
		limit = 500
	}

	query := `
		SELECT id, first_name, last_name, email, birth_date, timezone,
		       deleted_at, created_at, updated_at
		FROM recipients
		WHERE deleted_at IS NULL AND id > $1
		ORDER BY id ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cursor, limit)
	if err != nil {
		return nil, "", fmt.Errorf("find all live recipients: %w", err)
	}
	defer rows.Close()

	var out []*domain.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate recipients: %w", err)
	}

	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func scanRecipient(row rowScanner) (*domain.Recipient, error) {
	var r domain.Recipient
	err := row.Scan(
		&r.ID, &r.FirstName, &r.LastName, &r.Email, &r.BirthDate, &r.Timezone,
		&r.DeletedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecipientNotFound
		}
		return nil, fmt.Errorf("scan recipient: %w", err)
	}
	return &r, nil
}
