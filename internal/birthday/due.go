package birthday

import (
	"fmt"
	"time"
)

// A day/month pair recurs at least once every 8 years (29.02 across 1900).
const maxYearsAhead = 8

// NextOccurrence returns the first date on or after ref's calendar date with
// the given day and month. 29.02 resolves to the next leap year instead of
// rolling into March.
func NextOccurrence(day, month int, ref time.Time) (Date, error) {
	if !ValidDayMonth(day, month) {
		return Date{}, fmt.Errorf("%w: %d.%d", ErrInvalidDate, day, month)
	}
	today := DateOf(ref)
	for y := today.Year; y <= today.Year+maxYearsAhead; y++ {
		cand := Date{Day: day, Month: time.Month(month), Year: y}
		if cand.valid() && !cand.Before(today) {
			return cand, nil
		}
	}
	return Date{}, fmt.Errorf("%w: no %02d.%02d after %s", ErrInvalidDate, day, month, today)
}

// DaysUntil counts calendar days from ref's date to the next occurrence of
// day/month. Zero means today.
func DaysUntil(day, month int, ref time.Time) (int, error) {
	next, err := NextOccurrence(day, month, ref)
	if err != nil {
		return 0, err
	}
	return daysBetween(DateOf(ref), next), nil
}

// daysBetween is computed on UTC midnights so DST shifts do not skew it.
func daysBetween(from, to Date) int {
	d := to.Time(time.UTC).Sub(from.Time(time.UTC))
	return int(d / (24 * time.Hour))
}
