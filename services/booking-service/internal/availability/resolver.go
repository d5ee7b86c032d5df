package availability

import (
	"sort"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

// Interval is a half-open [Start, End) span in minutes since midnight.
type Interval struct {
	Start int
	End   int
}

// Overlaps uses half-open semantics, so touching intervals do not overlap.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start < o.End && o.Start < iv.End
}

// Resolve returns the open intervals of a tenant-local date, sorted by start.
// Unknown dates, closed days and malformed or inverted ranges yield nothing
// rather than an error.
func Resolve(a TenantAvailability, date string) []Interval {
	wd, ok := timegrid.WeekdayOfDate(date)
	if !ok {
		return nil
	}
	day := a.Day(wd)
	if !day.Enabled {
		return nil
	}

	out := make([]Interval, 0, len(day.Ranges))
	for _, r := range day.Ranges {
		if iv, ok := r.interval(); ok {
			out = append(out, iv)
		}
	}
	sortIntervals(out)
	return out
}

func sortIntervals(ivs []Interval) {
	sort.Slice(ivs, func(i, j int) bool {
		if ivs[i].Start != ivs[j].Start {
			return ivs[i].Start < ivs[j].Start
		}
		return ivs[i].End < ivs[j].End
	})
}
