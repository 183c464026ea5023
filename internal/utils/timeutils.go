package utils

import "time"

// IsBusinessHours reports whether t falls on a weekday between 09:00 and 18:00.
func IsBusinessHours(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	h := t.Hour()
	return h >= 9 && h < 18
}

// WithinRange reports whether ts lies in (now-rng, now]. A non-positive range
// matches everything up to now.
func WithinRange(ts, now time.Time, rng time.Duration) bool {
	if ts.After(now) {
		return false
	}
	if rng <= 0 {
		return true
	}
	return now.Sub(ts) < rng
}

// Millis converts a duration to float milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
