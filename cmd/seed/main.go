// seed inserts a handful of test recipients covering timezone, leap-day,
// DST-boundary, and soft-deleted edge cases into the local dev database.
// It inserts recipients only; no scheduled sends are created.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rhewin/birthday-notifier/internal/infrastructure/postgres"
)

type recipientSpec struct {
	id        string
	firstName string
	lastName  string
	email     string
	birthDate string // YYYY-MM-DD
	timezone  string
	note      string
}

var recipients = []recipientSpec{
	// Ordinary future birthday, UTC — should sit UNPROCESSED until its month/day.
	{"seed-001", "Ada", "Lovelace", "ada@example.com", "1990-12-10", "UTC", "ordinary future birthday"},

	// Birthday today (relative to whenever seed runs is NOT guaranteed, so we
	// anchor to a fixed recent date instead) in a timezone far ahead of UTC —
	// exercises 09:00-local-in-the-future-relative-to-UTC-midnight placement.
	{"seed-002", "Haruto", "Sato", "haruto@example.com", "1988-06-15", "Asia/Tokyo", "far-ahead timezone"},

	// Birthday in a timezone behind UTC — exercises 09:00-local landing
	// later in the same UTC calendar day (16:00 or 17:00 UTC).
	{"seed-003", "Maria", "Garcia", "maria@example.com", "1995-06-15", "America/Los_Angeles", "behind-UTC timezone"},

	// Leap-day birthday — promoted on Feb 28 in non-leap years (spec §4.1/§4.4).
	{"seed-004", "Leap", "Day", "leap@example.com", "1992-02-29", "UTC", "leap-day birthday"},

	// DST-boundary birthday: America/New_York springs forward in March,
	// exercising the local-to-UTC projection across a DST transition.
	{"seed-005", "Dana", "Spring", "dana@example.com", "1991-03-09", "America/New_York", "DST-boundary birthday"},

	// Deleted recipient — the Worker must skip this one at dispatch time
	// even if a scheduled send exists (spec §4.6 step 4).
	{"seed-006", "Deleted", "User", "deleted@example.com", "1993-06-15", "UTC", "soft-deleted recipient"},
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	var inserted, skipped int
	for _, r := range recipients {
		birthDate, err := time.Parse("2006-01-02", r.birthDate)
		if err != nil {
			log.Fatalf("parse birth date for %s: %v", r.id, err)
		}

		tag, err := pool.Exec(ctx, `
			INSERT INTO recipients (id, first_name, last_name, email, birth_date, timezone)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			r.id, r.firstName, r.lastName, r.email, birthDate, r.timezone,
		)
		if err != nil {
			log.Fatalf("insert recipient %s: %v", r.id, err)
		}
		if tag.RowsAffected() == 0 {
			skipped++
			continue
		}
		inserted++
	}

	if _, err := pool.Exec(ctx, `UPDATE recipients SET deleted_at = NOW() WHERE id = 'seed-006' AND deleted_at IS NULL`); err != nil {
		log.Fatalf("soft-delete seed-006: %v", err)
	}

	fmt.Println("Seed complete")
	fmt.Printf("  Recipients created: %d  (skipped %d already existing)\n", inserted, skipped)
	fmt.Println()
	fmt.Println("  Edge cases seeded:")
	for _, r := range recipients {
		fmt.Printf("    %-10s %-20s  %s\n", r.id, r.timezone, r.note)
	}
}
