package birthday

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// placeholderYear is a leap year, so 29.02 is accepted when only the
// day and month are known.
const placeholderYear = 2000

// Date is a calendar date without time or location.
type Date struct {
	Day   int
	Month time.Month
	Year  int
}

// ParseDate parses "D.M.Y" text (e.g. "5.6.1990", "05.06.1990").
// Any component outside the real calendar fails with ErrInvalidDate;
// nothing is normalised (31.4 is not 1.5).
func ParseDate(text string) (Date, error) {
	parts := strings.Split(strings.TrimSpace(text), ".")
	if len(parts) != 3 {
		return Date{}, fmt.Errorf("%w: %q: want day.month.year", ErrInvalidDate, text)
	}
	var nums [3]int
	for i, p := range parts {
		if !allDigits(p) {
			return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, text)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, text)
		}
		nums[i] = n
	}
	d := Date{Day: nums[0], Month: time.Month(nums[1]), Year: nums[2]}
	if !d.valid() {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, text)
	}
	return d, nil
}

// allDigits reports whether p is a non-empty run of ASCII digits. Signs
// and inner spaces are rejected.
func allDigits(p string) bool {
	if p == "" {
		return false
	}
	for i := 0; i < len(p); i++ {
		if p[i] < '0' || p[i] > '9' {
			return false
		}
	}
	return true
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Day: d, Month: m, Year: y}
}

// ValidDayMonth reports whether day/month exist in at least one year.
func ValidDayMonth(day, month int) bool {
	return Date{Day: day, Month: time.Month(month), Year: placeholderYear}.valid()
}

func (d Date) valid() bool {
	if d.Year < 1 || d.Year > 9999 || d.Month < time.January || d.Month > time.December {
		return false
	}
	return d.Day >= 1 && d.Day <= daysIn(d.Month, d.Year)
}

// String renders the canonical DD.MM.YYYY form.
func (d Date) String() string {
	return fmt.Sprintf("%02d.%02d.%04d", d.Day, int(d.Month), d.Year)
}

// Time returns midnight of d in loc.
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// SameDayMonth ignores the year.
func (d Date) SameDayMonth(o Date) bool {
	return d.Day == o.Day && d.Month == o.Month
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func daysIn(m time.Month, year int) int {
	// Day 0 of the next month is the last day of m.
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
