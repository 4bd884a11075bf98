package markethours

import "time"

// US equity market holidays for 2026.
// Source: NYSE official holiday calendar (full-day closures only).
// Format: month, day pairs.
var usHolidays2026 = []struct {
	month time.Month
	day   int
}{
	{time.January, 1},   // New Year's Day
	{time.January, 19},  // Martin Luther King, Jr. Day
	{time.February, 16}, // Washington's Birthday
	{time.April, 3},     // Good Friday
	{time.May, 25},      // Memorial Day
	{time.June, 19},     // Juneteenth
	{time.July, 3},      // Independence Day (observed)
	{time.September, 7}, // Labor Day
	{time.November, 26}, // Thanksgiving Day
	{time.December, 25}, // Christmas Day
}

// pre-compute for fast lookup
var holidaySet map[string]bool

func init() {
	holidaySet = make(map[string]bool, len(usHolidays2026))
	for _, h := range usHolidays2026 {
		key := dateKey(2026, h.month, h.day)
		holidaySet[key] = true
	}
}

// IsHoliday returns true if the date (in ET) is a full-day market holiday.
func IsHoliday(t time.Time) bool {
	et := t.In(ET)
	return holidaySet[dateKey(et.Year(), et.Month(), et.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, ET).Format("2006-01-02")
}
