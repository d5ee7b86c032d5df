package availability

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

// TimeRange is one same-day opening window in "HH:MM".
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DaySchedule is a weekday's opening hours in canonical form.
//
// Stored documents may still carry the single-range shape {enabled,start,end};
// UnmarshalJSON folds it into Ranges so nothing downstream sees it.
type DaySchedule struct {
	Enabled bool        `json:"enabled"`
	Ranges  []TimeRange `json:"ranges"`
}

type dayShape int

const (
	shapeEmpty dayShape = iota
	shapeRanges
	shapeLegacy
)

type dayWire struct {
	Enabled bool        `json:"enabled"`
	Ranges  []TimeRange `json:"ranges"`
	Start   *string     `json:"start"`
	End     *string     `json:"end"`
}

func (w dayWire) shape() dayShape {
	switch {
	case len(w.Ranges) > 0:
		return shapeRanges
	case w.Start != nil || w.End != nil:
		return shapeLegacy
	default:
		return shapeEmpty
	}
}

func (d *DaySchedule) UnmarshalJSON(b []byte) error {
	var w dayWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	d.Enabled = w.Enabled
	switch w.shape() {
	case shapeRanges:
		d.Ranges = w.Ranges
	case shapeLegacy:
		d.Ranges = []TimeRange{{Start: deref(w.Start), End: deref(w.End)}}
	default:
		d.Ranges = nil
	}
	return nil
}

func (d DaySchedule) MarshalJSON() ([]byte, error) {
	ranges := d.Ranges
	if ranges == nil {
		ranges = []TimeRange{}
	}
	return json.Marshal(dayWire{Enabled: d.Enabled, Ranges: ranges})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// TenantAvailability is a tenant's recurring weekly schedule. Days is
// indexed by weekday with Sunday at 0.
type TenantAvailability struct {
	Timezone     string        `json:"timezone"`
	WeekStartsOn int           `json:"weekStartsOn"`
	Days         []DaySchedule `json:"days"`
}

// Day returns the schedule for weekday wd; a missing entry is a closed day.
func (a TenantAvailability) Day(wd int) DaySchedule {
	if wd < 0 || wd >= len(a.Days) {
		return DaySchedule{}
	}
	return a.Days[wd]
}

var ErrInvalidAvailability = errors.New("invalid availability")

// Validate enforces what the settings API promises: a loadable timezone,
// seven days, and for each enabled day at least one well-formed range with
// no two ranges overlapping.
func (a TenantAvailability) Validate() error {
	if !timegrid.ValidTimeZone(a.Timezone) {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidAvailability, a.Timezone)
	}
	if a.WeekStartsOn != 0 && a.WeekStartsOn != 1 {
		return fmt.Errorf("%w: weekStartsOn must be 0 or 1", ErrInvalidAvailability)
	}
	if len(a.Days) != 7 {
		return fmt.Errorf("%w: expected 7 days, got %d", ErrInvalidAvailability, len(a.Days))
	}
	for wd, day := range a.Days {
		if !day.Enabled {
			continue
		}
		if len(day.Ranges) == 0 {
			return fmt.Errorf("%w: day %d is enabled without ranges", ErrInvalidAvailability, wd)
		}
		intervals := make([]Interval, 0, len(day.Ranges))
		for _, r := range day.Ranges {
			iv, ok := r.interval()
			if !ok {
				return fmt.Errorf("%w: day %d has bad range %s-%s", ErrInvalidAvailability, wd, r.Start, r.End)
			}
			intervals = append(intervals, iv)
		}
		sortIntervals(intervals)
		for i := 1; i < len(intervals); i++ {
			if intervals[i].Start < intervals[i-1].End {
				return fmt.Errorf("%w: day %d has overlapping ranges", ErrInvalidAvailability, wd)
			}
		}
	}
	return nil
}

func (r TimeRange) interval() (Interval, bool) {
	start, ok := timegrid.ParseTimeToMinutes(r.Start)
	if !ok {
		return Interval{}, false
	}
	end, ok := timegrid.ParseTimeToMinutes(r.End)
	if !ok || end <= start {
		return Interval{}, false
	}
	return Interval{Start: start, End: end}, true
}
