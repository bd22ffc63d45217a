// Package dateutil works with calendar dates carried in time.Time values.
package dateutil

import "time"

const Layout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Parse reads a YYYY-MM-DD date.
func Parse(s string) (time.Time, error) {
	return time.ParseInLocation(Layout, s, time.UTC)
}

// Within reports whether day falls in [start, end]. A nil bound is open.
func Within(day time.Time, start, end *time.Time) bool {
	day = Day(day)
	if start != nil && day.Before(Day(*start)) {
		return false
	}
	if end != nil && day.After(Day(*end)) {
		return false
	}
	return true
}

// After reports whether day a is a later calendar date than day b.
func After(a, b time.Time) bool {
	return Day(a).After(Day(b))
}
