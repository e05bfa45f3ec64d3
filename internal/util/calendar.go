package util

import "time"

// PreviousBusinessDay returns the most recent weekday at least two calendar
// days before t. Daily volume datasets publish with a lag, so the lookback
// starts two days back and then walks past weekends.
func PreviousBusinessDay(t time.Time) time.Time {
	day := t.AddDate(0, 0, -2)
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, -1)
	}
	return day
}
