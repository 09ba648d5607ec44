// Package timespec parses the analysis window flags.
package timespec

import (
	"fmt"
	"time"
)

// Parse parses a window bound into a date (midnight UTC). Three formats are
// accepted:
//   - Calendar date: "2025-11-01"
//   - RFC3339 timestamp: "2025-11-01T00:00:00Z" (time-of-day is dropped)
//   - Go duration format: "720h", relative to the current time ("720h" means
//     "30 days ago")
func Parse(spec string) (time.Time, error) {
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty date specification")
	}

	if t, err := time.Parse("2006-01-02", spec); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return dateOnly(t), nil
	}
	if d, err := time.ParseDuration(spec); err == nil {
		return dateOnly(time.Now().UTC().Add(-d)), nil
	}

	return time.Time{}, fmt.Errorf("invalid date specification: %s (use '2025-11-01', RFC3339, or a duration like '720h')", spec)
}

// ParseWindow parses the --window-start and --window-end flags. An empty end
// defaults to today; an empty start defaults to the 30 days preceding the
// end. The window is inclusive on both ends and start must not follow end.
func ParseWindow(start, end string) (time.Time, time.Time, error) {
	var startDate, endDate time.Time
	var err error

	if end == "" {
		endDate = dateOnly(time.Now().UTC())
	} else {
		endDate, err = Parse(end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --window-end: %w", err)
		}
	}

	if start == "" {
		startDate = endDate.AddDate(0, 0, -30)
	} else {
		startDate, err = Parse(start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --window-start: %w", err)
		}
	}

	if startDate.After(endDate) {
		return time.Time{}, time.Time{}, fmt.Errorf("--window-start must not be after --window-end")
	}

	return startDate, endDate, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
