package aggregate

import (
	"fmt"
	"time"
)

const day = 24 * time.Hour

// ParseDuration parses durations like "1d", "2w", "1m" (30 days) or "1y"
// (365 days).
func ParseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %s", s)
	}

	unit := s[len(s)-1]
	value := s[:len(s)-1]

	var n int
	if _, err := fmt.Sscanf(value, "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid duration: %s", s)
	}

	switch unit {
	case 'd':
		return time.Duration(n) * day, nil
	case 'w':
		return time.Duration(n) * 7 * day, nil
	case 'm':
		return time.Duration(n) * 30 * day, nil
	case 'y':
		return time.Duration(n) * 365 * day, nil
	default:
		return 0, fmt.Errorf("invalid duration unit: %c (use d, w, m, or y)", unit)
	}
}

// FormatDuration renders a duration in the largest whole unit ParseDuration
// understands.
func FormatDuration(d time.Duration) string {
	days := int(d / day)
	switch {
	case days > 0 && days%365 == 0:
		return fmt.Sprintf("%dy", days/365)
	case days > 0 && days%30 == 0:
		return fmt.Sprintf("%dm", days/30)
	case days > 0 && days%7 == 0:
		return fmt.Sprintf("%dw", days/7)
	case days > 0:
		return fmt.Sprintf("%dd", days)
	default:
		return d.String()
	}
}

// alignStart truncates t to UTC midnight, and to the Monday of its week
// when the bucket width is a whole number of weeks.
func alignStart(t time.Time, width time.Duration) time.Time {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if width >= 7*day && width%(7*day) == 0 {
		weekday := int(start.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday
		}
		start = start.AddDate(0, 0, -(weekday - 1))
	}
	return start
}
