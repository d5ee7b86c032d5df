// Package timegrid converts between wall-clock strings, minutes since
// midnight and instants rendered in a tenant's IANA timezone.
package timegrid

import (
	"strings"
	"sync"
	"time"
)

const (
	MinutesPerDay = 24 * 60
	// LastMinute is the latest representable wall-clock minute (23:59).
	LastMinute = MinutesPerDay - 1

	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// ParseTimeToMinutes parses "H:MM" or "HH:MM" into minutes since midnight.
// ok is false for anything else, including out of range hours or minutes.
func ParseTimeToMinutes(s string) (minutes int, ok bool) {
	s = strings.TrimSpace(s)
	hh, mm, found := strings.Cut(s, ":")
	if !found || len(hh) < 1 || len(hh) > 2 || len(mm) != 2 {
		return 0, false
	}
	h, ok := digits(hh)
	if !ok || h > 23 {
		return 0, false
	}
	m, ok := digits(mm)
	if !ok || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func digits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// MinutesToTime renders minutes as zero-padded "HH:MM", clamped to 00:00..23:59.
func MinutesToTime(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	if minutes > LastMinute {
		minutes = LastMinute
	}
	h, m := minutes/60, minutes%60
	var b [5]byte
	b[0] = byte('0' + h/10)
	b[1] = byte('0' + h%10)
	b[2] = ':'
	b[3] = byte('0' + m/10)
	b[4] = byte('0' + m%10)
	return string(b[:])
}

var locations sync.Map

// Location loads tz, falling back to UTC when the name is empty or unknown.
func Location(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC
	}
	if loc, ok := locations.Load(tz); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	locations.Store(tz, loc)
	return loc
}

// ValidTimeZone reports whether tz names a loadable IANA zone.
func ValidTimeZone(tz string) bool {
	if strings.TrimSpace(tz) == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// FormatDateInTimeZone renders t as YYYY-MM-DD in tz.
func FormatDateInTimeZone(t time.Time, tz string) string {
	return t.In(Location(tz)).Format(DateLayout)
}

// FormatTimeInTimeZone renders t as HH:MM in tz.
func FormatTimeInTimeZone(t time.Time, tz string) string {
	return t.In(Location(tz)).Format(TimeLayout)
}

// WeekdayInTimeZone is the weekday of t in tz, Sunday=0.
func WeekdayInTimeZone(t time.Time, tz string) int {
	return int(t.In(Location(tz)).Weekday())
}

// ParseDate validates a YYYY-MM-DD calendar date.
func ParseDate(date string) (time.Time, bool) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// WeekdayOfDate is the weekday of a calendar date, Sunday=0. The date is
// already tenant-local so no zone conversion happens.
func WeekdayOfDate(date string) (int, bool) {
	d, ok := ParseDate(date)
	if !ok {
		return 0, false
	}
	return int(d.Weekday()), true
}

// MinuteOfDay converts an instant into minutes since midnight in tz.
func MinuteOfDay(t time.Time, tz string) int {
	local := t.In(Location(tz))
	return local.Hour()*60 + local.Minute()
}
