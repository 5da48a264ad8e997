package dateutil

import (
	"fmt"
	"time"
)

// StartOfDay returns the start of the day (00:00:00) for the given date
func StartOfDay(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
}

// AddDays returns a new date n calendar days later, keeping the wall clock time
func AddDays(date time.Time, n int) time.Time {
	return date.AddDate(0, 0, n)
}

// AddWeeks returns a new date n weeks later (same weekday)
func AddWeeks(date time.Time, n int) time.Time {
	return date.AddDate(0, 0, 7*n)
}

// IsWeekend returns true if the date is Saturday or Sunday
func IsWeekend(date time.Time) bool {
	weekday := date.Weekday()
	return weekday == time.Saturday || weekday == time.Sunday
}

// IsSameDay returns true if two dates are on the same day
func IsSameDay(date1, date2 time.Time) bool {
	return date1.Year() == date2.Year() &&
		date1.Month() == date2.Month() &&
		date1.Day() == date2.Day()
}

// IsBeforeDay reports whether date1 falls on an earlier calendar day than date2.
// Time of day is ignored.
func IsBeforeDay(date1, date2 time.Time) bool {
	return dayKey(date1) < dayKey(date2)
}

// IsAfterDay reports whether date1 falls on a later calendar day than date2.
func IsAfterDay(date1, date2 time.Time) bool {
	return dayKey(date1) > dayKey(date2)
}

func dayKey(date time.Time) int {
	return date.Year()*10000 + int(date.Month())*100 + date.Day()
}

// FormatISODate formats date as YYYY-MM-DD
func FormatISODate(date time.Time) string {
	return date.Format("2006-01-02")
}

// FormatShortFR formats date the way French users read it: 20/01/2024
func FormatShortFR(date time.Time) string {
	return date.Format("02/01/2006")
}

// ParseDate parses date string in various formats
func ParseDate(dateStr string) (time.Time, error) {
	formats := []string{
		"2006-01-02",
		"02/01/2006",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05-0700",
		time.RFC3339,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized date format: %q", dateStr)
}

// Today returns today's date (start of day)
func Today() time.Time {
	return StartOfDay(time.Now())
}
