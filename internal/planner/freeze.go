package planner

import (
	"time"

	"gogetter/internal/goals"
)

// FreezeBoundary returns Monday 00:00 UTC of the ISO week after now. Weeks
// before the boundary are already lived in and never regenerated. On a
// Monday the boundary is the following Monday.
func FreezeBoundary(now time.Time) time.Time {
	today := goals.Day(now)
	days := (8 - int(today.Weekday())) % 7
	if days == 0 {
		days = 7
	}
	return today.AddDate(0, 0, days)
}
