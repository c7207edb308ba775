package subscription

import "time"

const day = 24 * time.Hour

// DaysSinceEnd returns floor((now - end) / 24h). It is measured from the
// subscription's period end, so repeated daily failures never reset it.
func DaysSinceEnd(end, now time.Time) int {
	d := now.Sub(end)
	days := d / day
	if d < 0 && d%day != 0 {
		days--
	}
	return int(days)
}

// AddMonth adds one calendar month to t, clamping to the last day of the
// target month (Jan 31 becomes Feb 28 or 29). The wall-clock time is kept.
//
// No anchor day is stored: each period starts where the previous one ended,
// so a clamped day sticks. A subscription anchored on Jan 31 renews on Feb 28,
// then Mar 28, and keeps the 28th from then on.
func AddMonth(t time.Time) time.Time {
	y, m, d := t.Date()
	last := time.Date(y, m+2, 0, 0, 0, 0, 0, t.Location()).Day()
	return time.Date(y, m+1, min(d, last), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
