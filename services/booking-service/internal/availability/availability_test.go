package availability

import (
	"encoding/json"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

// 2026-03-02 is a Monday.
const monday = "2026-03-02"

func weekWith(wd int, day DaySchedule) TenantAvailability {
	a := TenantAvailability{Timezone: "UTC", Days: make([]DaySchedule, 7)}
	a.Days[wd] = day
	return a
}

func TestResolveSortsAndDropsBadRanges(t *testing.T) {
	a := weekWith(1, DaySchedule{Enabled: true, Ranges: []TimeRange{
		{Start: "13:00", End: "17:00"},
		{Start: "09:00", End: "12:00"},
		{Start: "18:00", End: "18:00"},
		{Start: "19:00", End: "18:30"},
		{Start: "nonsense", End: "20:00"},
	}})

	got := Resolve(a, monday)
	assert.Equal(t, []Interval{{Start: 540, End: 720}, {Start: 780, End: 1020}}, got)
}

func TestResolveClosedOrUnknownDay(t *testing.T) {
	a := weekWith(1, DaySchedule{Enabled: false, Ranges: []TimeRange{{Start: "09:00", End: "12:00"}}})
	assert.Empty(t, Resolve(a, monday))
	assert.Empty(t, Resolve(a, "2026-03-03"))
	assert.Empty(t, Resolve(a, "03/02/2026"))
	assert.Empty(t, Resolve(TenantAvailability{}, monday))
}

func TestLegacyDayShapeResolvesLikeRanges(t *testing.T) {
	legacy := `{"timezone":"UTC","weekStartsOn":1,"days":[
		{"enabled":false},
		{"enabled":true,"start":"09:00","end":"17:00"},
		{"enabled":false},{"enabled":false},{"enabled":false},{"enabled":false},{"enabled":false}]}`
	canonical := `{"timezone":"UTC","weekStartsOn":1,"days":[
		{"enabled":false,"ranges":[]},
		{"enabled":true,"ranges":[{"start":"09:00","end":"17:00"}]},
		{"enabled":false},{"enabled":false},{"enabled":false},{"enabled":false},{"enabled":false}]}`

	var a, b TenantAvailability
	require.NoError(t, json.Unmarshal([]byte(legacy), &a))
	require.NoError(t, json.Unmarshal([]byte(canonical), &b))

	assert.Equal(t, Resolve(b, monday), Resolve(a, monday))
	assert.Equal(t, []Interval{{Start: 540, End: 1020}}, Resolve(a, monday))
	assert.Equal(t, []TimeRange{{Start: "09:00", End: "17:00"}}, a.Days[1].Ranges)
}

func TestDayScheduleMarshalsCanonicalShape(t *testing.T) {
	var d DaySchedule
	require.NoError(t, json.Unmarshal([]byte(`{"enabled":true,"start":"08:00","end":"10:00"}`), &d))

	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"enabled":true,"ranges":[{"start":"08:00","end":"10:00"}]}`, string(out))
}

func TestRangesWinOverLegacyFields(t *testing.T) {
	var d DaySchedule
	require.NoError(t, json.Unmarshal([]byte(`{"enabled":true,"start":"08:00","end":"10:00","ranges":[{"start":"11:00","end":"12:00"}]}`), &d))
	assert.Equal(t, []TimeRange{{Start: "11:00", End: "12:00"}}, d.Ranges)
}

func TestValidate(t *testing.T) {
	good := weekWith(1, DaySchedule{Enabled: true, Ranges: []TimeRange{{Start: "09:00", End: "12:00"}, {Start: "12:00", End: "17:00"}}})
	require.NoError(t, good.Validate())

	cases := map[string]TenantAvailability{
		"bad timezone": func() TenantAvailability { a := good; a.Timezone = "Nowhere/City"; return a }(),
		"week start":   func() TenantAvailability { a := good; a.WeekStartsOn = 3; return a }(),
		"six days":     {Timezone: "UTC", Days: make([]DaySchedule, 6)},
		"no ranges":    weekWith(2, DaySchedule{Enabled: true}),
		"inverted":     weekWith(2, DaySchedule{Enabled: true, Ranges: []TimeRange{{Start: "12:00", End: "09:00"}}}),
		"overlap": weekWith(2, DaySchedule{Enabled: true, Ranges: []TimeRange{
			{Start: "09:00", End: "12:00"}, {Start: "11:00", End: "13:00"},
		}}),
	}
	for name, a := range cases {
		err := a.Validate()
		assert.ErrorIs(t, err, ErrInvalidAvailability, name)
	}
}

func TestComputeSlotsScenarioA(t *testing.T) {
	a := weekWith(1, DaySchedule{Enabled: true, Ranges: []TimeRange{
		{Start: "09:00", End: "12:00"},
		{Start: "13:00", End: "17:00"},
	}})
	busy := []Interval{{Start: 600, End: 630}}

	slots := ComputeSlots(Resolve(a, monday), busy, 30, DefaultStepMinutes)

	for _, want := range []string{"09:00", "09:30", "10:30", "11:30", "13:00", "16:30"} {
		assert.Contains(t, slots, want)
	}
	for _, banned := range []string{"09:45", "10:00", "10:15", "11:35", "12:00", "12:30", "16:35"} {
		assert.NotContains(t, slots, banned)
	}
	assert.IsIncreasing(t, slots)
}

func TestComputeSlotsStepAndGuards(t *testing.T) {
	open := []Interval{{Start: 540, End: 600}}

	assert.Equal(t, []string{"09:00", "09:15", "09:30"}, ComputeSlots(open, nil, 30, 15))
	assert.Equal(t, []string{"09:00"}, ComputeSlots(open, nil, 60, 5))
	assert.Empty(t, ComputeSlots(open, nil, 61, 5))
	assert.Empty(t, ComputeSlots(open, nil, 0, 5))
	assert.Empty(t, ComputeSlots(open, nil, 30, 0))
}

func TestComputeSlotsTouchingBusyIsAllowed(t *testing.T) {
	open := []Interval{{Start: 540, End: 660}}
	busy := []Interval{{Start: 570, End: 600}}

	slots := ComputeSlots(open, busy, 30, 30)
	assert.Equal(t, []string{"09:00", "10:00", "10:30"}, slots)
}

func TestComputeSlotsDeduplicatesOverlappingOpenIntervals(t *testing.T) {
	open := []Interval{{Start: 540, End: 660}, {Start: 600, End: 720}}
	slots := ComputeSlotMinutes(open, nil, 60, 30)
	assert.Equal(t, []int{540, 570, 600, 630, 660}, slots)
}

func TestNoFalsePositiveSlots(t *testing.T) {
	f := gofakeit.New(42)

	for round := 0; round < 300; round++ {
		var open []Interval
		cursor := f.IntRange(0, 120)
		for i := 0; i < f.IntRange(1, 4) && cursor < timegrid.LastMinute-30; i++ {
			start := cursor
			end := start + f.IntRange(15, 240)
			if end > timegrid.LastMinute {
				end = timegrid.LastMinute
			}
			open = append(open, Interval{Start: start, End: end})
			cursor = end + f.IntRange(0, 90)
		}

		var busy []Interval
		for i := 0; i < f.IntRange(0, 8); i++ {
			s := f.IntRange(0, timegrid.LastMinute-10)
			busy = append(busy, Interval{Start: s, End: s + f.IntRange(5, 90)})
		}

		duration := f.IntRange(5, 120)
		step := f.IntRange(1, 30)

		for _, s := range ComputeSlotMinutes(open, busy, duration, step) {
			candidate := Interval{Start: s, End: s + duration}

			inside := false
			for _, iv := range open {
				if s >= iv.Start && candidate.End <= iv.End && (s-iv.Start)%step == 0 {
					inside = true
				}
			}
			require.True(t, inside, "round %d slot %d outside open hours", round, s)

			for _, b := range busy {
				require.False(t, candidate.Overlaps(b), "round %d slot %d overlaps %+v", round, s, b)
			}
		}
	}
}
