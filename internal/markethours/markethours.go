// Package markethours answers whether the US equity session is open.
// Purely informational for the terminal header; the stream itself runs
// whenever the provider sends trades.
package markethours

import (
	"fmt"
	"time"
)

// ET is the US Eastern location. Falls back to a fixed offset when the
// tz database is unavailable.
var ET = loadET()

func loadET() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("ET", -5*3600)
	}
	return loc
}

// Regular session hours in ET
const (
	OpenHour    = 9
	OpenMinute  = 30
	CloseHour   = 16
	CloseMinute = 0
)

// IsMarketOpen returns true if t falls within the regular US equity
// session (9:30 AM - 4:00 PM ET, Mon-Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	et := t.In(ET)
	wd := et.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if IsHoliday(et) {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon-Fri in ET.
func IsWeekday(t time.Time) bool {
	wd := t.In(ET).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	et := t.In(ET)
	return IsWeekday(et) && !IsHoliday(et)
}

// NextOpen returns the next session open (9:30 AM ET on the next
// trading day). If t is before today's open on a trading day, returns
// today's open.
func NextOpen(t time.Time) time.Time {
	et := t.In(ET)

	// Try today first
	todayOpen := time.Date(et.Year(), et.Month(), et.Day(), OpenHour, OpenMinute, 0, 0, ET)
	if et.Before(todayOpen) && IsTradingDay(et) {
		return todayOpen
	}

	// Otherwise find the next trading day
	d := et.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // max 10 days ahead (holidays + weekends)
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, ET)
		}
		d = d.AddDate(0, 0, 1)
	}
	// Fallback: next day
	return time.Date(et.Year(), et.Month(), et.Day()+1, OpenHour, OpenMinute, 0, 0, ET)
}

// TodayClose returns today's session close (4:00 PM ET).
func TodayClose(t time.Time) time.Time {
	et := t.In(ET)
	return time.Date(et.Year(), et.Month(), et.Day(), CloseHour, CloseMinute, 0, 0, ET)
}

// TimeUntilClose returns the duration until today's close.
// Returns 0 if the session is already over.
func TimeUntilClose(t time.Time) time.Duration {
	cl := TodayClose(t)
	d := cl.Sub(t.In(ET))
	if d < 0 {
		return 0
	}
	return d
}

// TimeUntilOpen returns the duration until the next session open.
func TimeUntilOpen(t time.Time) time.Duration {
	return NextOpen(t).Sub(t.In(ET))
}

// StatusString returns a human-readable session status for the
// terminal header.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		d := TimeUntilClose(t)
		return fmt.Sprintf("Market Open (closes in %s)", fmtDur(d))
	}
	next := NextOpen(t)
	d := next.Sub(t)
	et := next.In(ET)
	return fmt.Sprintf("Market Closed (opens %s %s ET in %s)",
		et.Weekday().String()[:3], et.Format("15:04"), fmtDur(d))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
