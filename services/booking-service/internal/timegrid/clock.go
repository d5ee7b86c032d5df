package timegrid

import (
	"sync"
	"time"
)

// Clock is the only source of "now" for the engine.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock returns a settable instant. Safe for concurrent use.
type FixedClock struct {
	mu sync.RWMutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// LocalNow is the tenant's current date and minute of day.
type LocalNow struct {
	Date   string
	Minute int
}

// Today resolves clock's instant into tz.
func Today(clock Clock, tz string) LocalNow {
	now := clock.Now()
	return LocalNow{
		Date:   FormatDateInTimeZone(now, tz),
		Minute: MinuteOfDay(now, tz),
	}
}

// Elapsed reports whether an appointment on date ending at endMinute is over.
func (n LocalNow) Elapsed(date string, endMinute int) bool {
	return date < n.Date || (date == n.Date && endMinute <= n.Minute)
}

// Upcoming reports whether an appointment on date ending at endMinute has not ended yet.
func (n LocalNow) Upcoming(date string, endMinute int) bool {
	return !n.Elapsed(date, endMinute)
}
