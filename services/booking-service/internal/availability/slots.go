package availability

import (
	"sort"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

// DefaultStepMinutes is the slot grid used when a tenant does not set one.
const DefaultStepMinutes = 5

// ComputeSlots lists the "HH:MM" starts where a booking of duration minutes
// fits inside an open interval without touching any busy interval. Starts
// are laid on a step-minute grid anchored at each interval's start.
func ComputeSlots(open, busy []Interval, duration, step int) []string {
	starts := ComputeSlotMinutes(open, busy, duration, step)
	out := make([]string, len(starts))
	for i, m := range starts {
		out[i] = timegrid.MinutesToTime(m)
	}
	return out
}

// ComputeSlotMinutes is ComputeSlots without the formatting.
func ComputeSlotMinutes(open, busy []Interval, duration, step int) []int {
	if duration <= 0 || step <= 0 {
		return nil
	}

	seen := map[int]struct{}{}
	var starts []int
	for _, iv := range open {
		for s := iv.Start; s+duration <= iv.End; s += step {
			if overlapsAny(Interval{Start: s, End: s + duration}, busy) {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			starts = append(starts, s)
		}
	}
	sort.Ints(starts)
	return starts
}

func overlapsAny(candidate Interval, busy []Interval) bool {
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
