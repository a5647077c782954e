// Package recurrence implements the pure next-run calculator (spec.md §4.D).
// It is deliberately built on plain time.Time arithmetic rather than
// robfig/cron: cron expressions describe recurring fixed fields, not "the
// first of next calendar month relative to an arbitrary last_run", so
// encoding DAILY/WEEKLY/MONTHLY this way would need a regenerated
// expression per pipeline and would lose the function's purity. See
// SPEC_FULL.md's standard-library justification for this package.
package recurrence

import (
	"time"

	"github.com/rat-data/rat/platform/internal/domain"
)

// Next returns the next UTC fire time for freq given the pipeline's last
// run (nil if it has never run) and the current instant. The result is
// always in a normalized future relative to now, except it may equal now
// exactly when seeding a fresh schedule — callers treat equality as due-now
// (spec.md §4.D).
func Next(freq domain.RunFrequency, lastRun *time.Time, now time.Time) time.Time {
	now = now.UTC()
	var last *time.Time
	if lastRun != nil {
		t := lastRun.UTC()
		last = &t
	}

	switch freq {
	case domain.FrequencyDaily:
		return nextDaily(last, now)
	case domain.FrequencyWeekly:
		return nextWeekly(last, now)
	case domain.FrequencyMonthly:
		return nextMonthly(last, now)
	default:
		// Unknown frequency — fall back to the safest daily cadence rather
		// than panic; callers validate freq before this is ever reached.
		return nextDaily(last, now)
	}
}

func midnightUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nextDaily(last *time.Time, now time.Time) time.Time {
	if last == nil {
		target := midnightUTC(now)
		if !target.After(now) {
			target = target.AddDate(0, 0, 1)
		}
		return target
	}
	if !last.Before(midnightUTC(now)) {
		// last_run is today (or later) — advance a day past the later date.
		later := *last
		if now.After(*last) {
			later = now
		}
		return midnightUTC(later).AddDate(0, 0, 1)
	}
	target := midnightUTC(now)
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target
}

// mondayOf returns midnight UTC of the Monday starting t's ISO week.
func mondayOf(t time.Time) time.Time {
	day := midnightUTC(t)
	// time.Weekday: Sunday=0 .. Saturday=6. ISO week starts Monday.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func nextWeekly(last *time.Time, now time.Time) time.Time {
	thisMonday := mondayOf(now)
	if last != nil && !last.Before(thisMonday) {
		return thisMonday.AddDate(0, 0, 7)
	}
	if !thisMonday.After(now) {
		return thisMonday.AddDate(0, 0, 7)
	}
	return thisMonday
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func nextMonthly(last *time.Time, now time.Time) time.Time {
	thisMonth := firstOfMonth(now)
	if last != nil && !last.Before(thisMonth) {
		return thisMonth.AddDate(0, 1, 0)
	}
	if !thisMonth.After(now) {
		return thisMonth.AddDate(0, 1, 0)
	}
	return thisMonth
}
