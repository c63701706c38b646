// Package clock computes recurring-event occurrences in a recipient's own
// IANA time zone. Every function here is pure and deterministic given its
// inputs — no wall-clock reads, no I/O.
package clock

import (
	"fmt"
	"time"
)

// DefaultMessageHour is the local hour-of-day at which a notification fires.
// Overridable via BIRTHDAY_MESSAGE_HOUR (spec §6); callers pass it in rather
// than this package reading the environment.
const DefaultMessageHour = 9

// NextOccurrence returns the soonest calendar date on/after "today" in tz
// whose (month, day) matches (birthMonth, birthDay), and the UTC instant at
// which the local clock reads messageHour:00 on that date.
//
// Feb-29 birthdays are promoted to Feb-28 in non-leap years (spec §4.1).
// DST gaps (spring-forward) resolve to the first valid wall-clock instant at
// or after messageHour:00 (the end of the gap); DST ambiguities (fall-back)
// resolve to the earlier of the two instants, which is what time.Date
// returns for an ambiguous wall time.
func NextOccurrence(birthMonth, birthDay int, tz string, nowUTC time.Time, messageHour int) (localDate time.Time, scheduledFor time.Time, err error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("load location %q: %w", tz, err)
	}

	nowLocal := nowUTC.In(loc)
	today := dateOnly(nowLocal)

	candidate := occurrenceDate(birthMonth, birthDay, today.Year(), loc)
	if candidate.Before(today) {
		candidate = occurrenceDate(birthMonth, birthDay, today.Year()+1, loc)
	}

	at := time.Date(candidate.Year(), candidate.Month(), candidate.Day(), messageHour, 0, 0, 0, loc)
	if at.Hour() != messageHour {
		// messageHour:00 falls in a DST gap, and time.Date normalised it to
		// an instant before the gap; move to the first instant after it.
		_, gapEnd := at.ZoneBounds()
		at = gapEnd
	}
	return candidate, at.UTC(), nil
}

// occurrenceDate resolves (month, day) in the given year to a real calendar
// date, promoting Feb-29 to Feb-28 when year is not a leap year.
func occurrenceDate(month, day, year int, loc *time.Location) time.Time {
	if month == int(time.February) && day == 29 && !isLeapYear(year) {
		day = 28
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
}

func isLeapYear(year int) bool {
	return (year%4 == 0 && year%100 != 0) || year%400 == 0
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// IsSameLocalDate reports whether utcInstant falls on calendar date `date`
// (a date-only time.Time, any location) when viewed in tz. Used by the
// Hourly Sweeper to decide eligibility for today's promotion (spec §4.1).
func IsSameLocalDate(utcInstant time.Time, tz string, date time.Time) (bool, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false, fmt.Errorf("load location %q: %w", tz, err)
	}
	local := dateOnly(utcInstant.In(loc))
	target := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	return local.Equal(target), nil
}

// TodayLocal returns nowUTC's calendar date in tz, as a date-only time.Time.
func TodayLocal(tz string, nowUTC time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("load location %q: %w", tz, err)
	}
	return dateOnly(nowUTC.In(loc)), nil
}
