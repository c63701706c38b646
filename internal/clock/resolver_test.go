package clock_test

import (
	"testing"
	"time"

	"github.com/rhewin/birthday-notifier/internal/clock"
)

func mustParse(t *testing.T, layout, value string) time.Time {
	t.Helper()
	tm, err := time.Parse(layout, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return tm
}

func TestNextOccurrence_HappyPath(t *testing.T) {
	now := mustParse(t, time.RFC3339, "2024-01-15T13:00:00Z")
	date, scheduledFor, err := clock.NextOccurrence(1, 15, "America/New_York", now, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := date.Format("2006-01-02"), "2024-01-15"; got != want {
		t.Fatalf("date = %s, want %s", got, want)
	}
	want := mustParse(t, time.RFC3339, "2024-01-15T14:00:00Z")
	if !scheduledFor.Equal(want) {
		t.Fatalf("scheduledFor = %s, want %s", scheduledFor, want)
	}
}

func TestNextOccurrence_RollsToNextYearWhenPassed(t *testing.T) {
	now := mustParse(t, time.RFC3339, "2024-06-02T00:00:00Z")
	date, _, err := clock.NextOccurrence(1, 15, "UTC", now, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := date.Format("2006-01-02"), "2025-01-15"; got != want {
		t.Fatalf("date = %s, want %s", got, want)
	}
}

func TestNextOccurrence_DSTSpringForward(t *testing.T) {
	now := mustParse(t, time.RFC3339, "2024-03-01T00:00:00Z")
	date, scheduledFor, err := clock.NextOccurrence(3, 10, "America/New_York", now, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := date.Format("2006-01-02"), "2024-03-10"; got != want {
		t.Fatalf("date = %s, want %s", got, want)
	}
	want := mustParse(t, time.RFC3339, "2024-03-10T13:00:00Z")
	if !scheduledFor.Equal(want) {
		t.Fatalf("scheduledFor = %s, want %s", scheduledFor, want)
	}
}

func TestNextOccurrence_LeapDayPromotedInNonLeapYear(t *testing.T) {
	now := mustParse(t, time.RFC3339, "2025-01-01T00:00:00Z")
	date, scheduledFor, err := clock.NextOccurrence(2, 29, "UTC", now, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := date.Format("2006-01-02"), "2025-02-28"; got != want {
		t.Fatalf("date = %s, want %s", got, want)
	}
	want := mustParse(t, time.RFC3339, "2025-02-28T09:00:00Z")
	if !scheduledFor.Equal(want) {
		t.Fatalf("scheduledFor = %s, want %s", scheduledFor, want)
	}
}

func TestNextOccurrence_LeapDayKeptInLeapYear(t *testing.T) {
	now := mustParse(t, time.RFC3339, "2024-01-01T00:00:00Z")
	date, _, err := clock.NextOccurrence(2, 29, "UTC", now, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := date.Format("2006-01-02"), "2024-02-29"; got != want {
		t.Fatalf("date = %s, want %s", got, want)
	}
}

func TestNextOccurrence_InvalidTimezone(t *testing.T) {
	now := mustParse(t, time.RFC3339, "2024-01-01T00:00:00Z")
	if _, _, err := clock.NextOccurrence(1, 1, "Not/AZone", now, 9); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestIsSameLocalDate(t *testing.T) {
	instant := mustParse(t, time.RFC3339, "2024-01-15T14:00:00Z")
	date := mustParse(t, "2006-01-02", "2024-01-15")
	ok, err := clock.IsSameLocalDate(instant, "America/New_York", date)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected same local date")
	}

	// 2024-01-15T20:00:00Z is already 2024-01-16 05:00 in Tokyo (UTC+9).
	instant = mustParse(t, time.RFC3339, "2024-01-15T20:00:00Z")
	ok, err = clock.IsSameLocalDate(instant, "Asia/Tokyo", date)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected different local date in Tokyo")
	}
}
