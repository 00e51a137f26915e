// Package calendar converts civil UTC dates into seconds since the Unix epoch.
package calendar

// yday is the number of days in a non-leap year before the first of each month.
var yday = [12]int64{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334}

// epochDay is the day number of 1970-01-01 in the year+4800 day count below.
const epochDay = 2472692

// Seconds returns the number of seconds between 1970-01-01T00:00:00Z and the given UTC date.
//
// This is the usual civil to Julian day number calculation, done entirely with integer
// division.  Months outside 1..12 are carried into the adjacent years like time.Date does, so
// that a garbage sentence produces a garbage time instead of a panic.  Days, hours, minutes and
// seconds are not range checked at all; they simply add up.
func Seconds(year, month, day, hour, minute, second int64) int64 {
	if month < 1 || month > 12 {
		m := month - 1
		year += m / 12
		m %= 12
		if m < 0 {
			m += 12
			year--
		}
		month = m + 1
	}
	adj := year + 4800
	febs := adj
	if month <= 2 {
		febs--
	}
	leap := 1 + febs/4 - febs/100 + febs/400
	days := 365*adj + leap + yday[month-1] + day - 1 - epochDay
	return days*24*60*60 + hour*60*60 + minute*60 + second
}
