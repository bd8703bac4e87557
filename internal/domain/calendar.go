package domain

import "time"

// PreviousTradingDay returns the last weekday strictly before now's date.
// Stored history whose latest trade_date is on or after this day is considered
// fresh, so Friday bars stay fresh through the weekend. Exchange holidays are
// not modeled.
func PreviousTradingDay(now time.Time) time.Time {
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for {
		d = d.AddDate(0, 0, -1)
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			return d
		}
	}
}

// Fresh reports whether latest satisfies the freshness policy relative to now.
func Fresh(latest, now time.Time) bool {
	if latest.IsZero() {
		return false
	}
	return !latest.Before(PreviousTradingDay(now))
}
