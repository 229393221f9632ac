package schedule

import (
	"fmt"
	"time"
)

// Date is a calendar date with no zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t's wall clock, in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n days later, normalizing month and year.
func (d Date) AddDays(n int) Date {
	return DateOf(d.midnight().AddDate(0, 0, n))
}

func (d Date) Weekday() time.Weekday {
	return d.midnight().Weekday()
}

// WeekOfMonth is the 1-based week of the month: days 1-7 are week 1, 8-14
// week 2 and so on.
func (d Date) WeekOfMonth() int {
	return (d.Day-1)/7 + 1
}

// At returns the wall-clock time the given number of minutes after midnight
// on d. The result is in UTC and only its wall-clock fields are meaningful.
func (d Date) At(minutes float64) time.Time {
	return d.midnight().Add(time.Duration(minutes * float64(time.Minute)))
}

// String formats d as YYYY-MM-DD, the key used by confirmed and canceled
// date lists.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}
