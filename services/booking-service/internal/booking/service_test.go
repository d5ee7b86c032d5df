package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

const (
	tenantID = "studio-1"
	tz       = "America/New_York"
	// 2026-03-02 is a Monday; New York is on EST (UTC-5) that week.
	monday  = "2026-03-02"
	tuesday = "2026-03-03"
)

type fixture struct {
	svc   *Service
	mem   *storage.Memory
	clock *timegrid.FixedClock
}

func weekly() availability.TenantAvailability {
	days := make([]availability.DaySchedule, 7)
	for wd := 1; wd <= 5; wd++ {
		days[wd] = availability.DaySchedule{Enabled: true, Ranges: []availability.TimeRange{
			{Start: "09:00", End: "12:00"},
			{Start: "13:00", End: "17:00"},
		}}
	}
	return availability.TenantAvailability{Timezone: tz, WeekStartsOn: 1, Days: days}
}

// newFixture starts the clock on Friday 2026-02-27 at 12:00 New York time.
func newFixture(t *testing.T, limitOne bool) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := storage.NewMemory()
	clock := timegrid.NewFixedClock(time.Date(2026, 2, 27, 17, 0, 0, 0, time.UTC))
	svc := New(Deps{
		Tenants:      mem,
		Settings:     mem,
		Appointments: mem,
		Clock:        clock,
		Metrics:      metrics.New(),
	})

	_, err := svc.PutTenantSettings(ctx, TenantSettings{
		TenantID:     tenantID,
		Name:         "Studio One",
		Currency:     "EUR",
		Availability: weekly(),
		Policy:       model.Policy{LimitCustomerToOneUpcomingAppointment: limitOne},
	})
	require.NoError(t, err)
	for _, s := range []ServiceInput{
		{TenantID: tenantID, ServiceID: "cut", Name: "Haircut", DurationMinutes: 30, Price: decimal.RequireFromString("25.00"), IsActive: true},
		{TenantID: tenantID, ServiceID: "color", Name: "Coloring", DurationMinutes: 90, Price: decimal.RequireFromString("80.00"), IsActive: true},
		{TenantID: tenantID, ServiceID: "retired", Name: "Shave", DurationMinutes: 15, IsActive: false},
	} {
		_, err := svc.PutService(ctx, s)
		require.NoError(t, err)
	}
	return &fixture{svc: svc, mem: mem, clock: clock}
}

func (f *fixture) book(t *testing.T, serviceID, date, start, customerID string, by model.Actor) (model.Appointment, error) {
	t.Helper()
	return f.svc.CreateAppointment(context.Background(), CreateRequest{
		TenantID:  tenantID,
		ServiceID: serviceID,
		Date:      date,
		StartTime: start,
		Customer:  model.Customer{ID: customerID, Name: "Customer " + customerID, Email: customerID + "@example.com"},
		CreatedBy: by,
	})
}

func (f *fixture) slots(t *testing.T, serviceID, date string) []string {
	t.Helper()
	res, err := f.svc.GetAvailableSlots(context.Background(), SlotsQuery{TenantID: tenantID, ServiceID: serviceID, Date: date})
	require.NoError(t, err)
	return res.Slots
}

func TestScenarioA_SlotsAroundExistingBooking(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.book(t, "cut", monday, "10:00", "walk-in", model.ActorBusiness)
	require.NoError(t, err)

	slots := f.slots(t, "cut", monday)
	for _, want := range []string{"09:00", "09:30", "10:30", "11:30", "13:00"} {
		assert.Contains(t, slots, want)
	}
	for _, banned := range []string{"09:45", "10:00", "10:15", "12:00", "12:30"} {
		assert.NotContains(t, slots, banned)
	}
}

func TestScenarioB_UpcomingLimitAppliesToCustomersOnly(t *testing.T) {
	f := newFixture(t, true)
	first, err := f.book(t, "cut", monday, "09:00", "c-1", model.ActorCustomer)
	require.NoError(t, err)

	_, err = f.book(t, "color", tuesday, "13:00", "c-1", model.ActorCustomer)
	var cerr *apperr.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, apperr.ReasonUpcomingLimit, cerr.Reason)
	require.Len(t, cerr.Collisions, 1)
	assert.Equal(t, first.ID, cerr.Collisions[0].AppointmentID)

	second, err := f.book(t, "color", tuesday, "13:00", "c-1", model.ActorBusiness)
	require.NoError(t, err)
	assert.Equal(t, model.ActorBusiness, second.CreatedBy)
}

func TestScenarioC_ConcurrentBookingsForOneSlot(t *testing.T) {
	f := newFixture(t, false)

	const workers = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.book(t, "cut", monday, "11:00", fmt.Sprintf("c-%d", i), model.ActorCustomer)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case apperr.IsConflict(err, apperr.ReasonSlotTaken), apperr.IsConflict(err, apperr.ReasonSlotUnavailable):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)

	rows, err := f.mem.List(context.Background(), tenantID, storage.ListFilter{Date: monday, Statuses: []model.Status{model.StatusBooked}})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCreateSnapshotsServiceAndEmitsEvent(t *testing.T) {
	f := newFixture(t, false)
	appt, err := f.book(t, "color", monday, "13:30", "c-1", model.ActorCustomer)
	require.NoError(t, err)

	assert.Equal(t, "15:00", appt.EndTime)
	assert.Equal(t, "Coloring", appt.ServiceName)
	assert.Equal(t, 90, appt.DurationMinutes)
	assert.True(t, decimal.RequireFromString("80").Equal(appt.Price))
	assert.Equal(t, "EUR", appt.Currency)

	_, err = f.svc.PutService(context.Background(), ServiceInput{TenantID: tenantID, ServiceID: "color", Name: "Coloring", DurationMinutes: 120, Price: decimal.RequireFromString("95"), IsActive: true})
	require.NoError(t, err)

	got, err := f.svc.GetAppointment(context.Background(), tenantID, appt.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("80").Equal(got.Price))
	assert.Equal(t, 90, got.DurationMinutes)

	var booked int
	for _, e := range f.mem.Events() {
		if e.EventType == outbox.AppointmentBooked {
			booked++
		}
	}
	assert.Equal(t, 1, booked)

	rel, found, err := f.mem.GetRelationship(context.Background(), tenantID, "c-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotNil(t, rel.LastAppointmentAt)
}

func TestCreateRejectsUnavailableSlots(t *testing.T) {
	f := newFixture(t, false)

	for _, start := range []string{"08:30", "11:45", "12:15", "09:02", "16:45"} {
		_, err := f.book(t, "cut", monday, start, "c-1", model.ActorBusiness)
		assert.True(t, apperr.IsConflict(err, apperr.ReasonSlotUnavailable), start)
	}

	_, err := f.book(t, "cut", "2026-03-01", "10:00", "c-1", model.ActorBusiness)
	assert.True(t, apperr.IsConflict(err, apperr.ReasonSlotUnavailable), "sunday is closed")
}

func TestCreateRefusalListsOverlappingBookings(t *testing.T) {
	f := newFixture(t, false)
	first, err := f.book(t, "cut", monday, "10:00", "walk-in", model.ActorBusiness)
	require.NoError(t, err)

	_, err = f.book(t, "cut", monday, "10:15", "walk-in-2", model.ActorBusiness)
	require.True(t, apperr.IsConflict(err, apperr.ReasonSlotUnavailable))
	var cerr *apperr.ConflictError
	require.True(t, errors.As(err, &cerr))
	require.Len(t, cerr.Collisions, 1)
	assert.Equal(t, first.ID, cerr.Collisions[0].AppointmentID)
	assert.Equal(t, "10:00", cerr.Collisions[0].StartTime)
	assert.Equal(t, "10:30", cerr.Collisions[0].EndTime)

	// 11:45 runs past closing; nothing booked is in the way.
	_, err = f.book(t, "cut", monday, "11:45", "walk-in-3", model.ActorBusiness)
	require.True(t, errors.As(err, &cerr))
	assert.Empty(t, cerr.Collisions)
}

func TestSameServiceSameDayForCustomer(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.book(t, "cut", monday, "09:00", "c-1", model.ActorCustomer)
	require.NoError(t, err)

	_, err = f.book(t, "cut", monday, "15:00", "c-1", model.ActorCustomer)
	assert.True(t, apperr.IsConflict(err, apperr.ReasonSameServiceSameDay))

	_, err = f.book(t, "cut", tuesday, "15:00", "c-1", model.ActorCustomer)
	assert.NoError(t, err, "limit is off, another day is fine")
}

func TestBlockedCustomerCannotSelfBook(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.PutRelationship(context.Background(), RelationshipInput{TenantID: tenantID, CustomerID: "c-9", Status: model.RelationshipBlocked})
	require.NoError(t, err)

	_, err = f.book(t, "cut", monday, "09:00", "c-9", model.ActorCustomer)
	assert.True(t, apperr.IsConflict(err, apperr.ReasonBlockedCustomer))

	_, err = f.book(t, "cut", monday, "09:00", "c-9", model.ActorBusiness)
	assert.NoError(t, err)
}

func TestSlotsTodayAndPast(t *testing.T) {
	f := newFixture(t, false)
	// Monday 10:07 in New York.
	f.clock.Set(time.Date(2026, 3, 2, 15, 7, 0, 0, time.UTC))

	slots := f.slots(t, "cut", monday)
	require.NotEmpty(t, slots)
	assert.Equal(t, "10:10", slots[0])

	assert.Empty(t, f.slots(t, "cut", "2026-02-27"))

	_, err := f.book(t, "cut", monday, "09:30", "c-1", model.ActorBusiness)
	assert.True(t, apperr.IsConflict(err, apperr.ReasonSlotUnavailable))

	_, err = f.book(t, "cut", monday, "10:10", "c-1", model.ActorCustomer)
	assert.NoError(t, err)
}

func TestListCompletesElapsedAppointments(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	early, err := f.book(t, "cut", monday, "09:00", "c-1", model.ActorCustomer)
	require.NoError(t, err)
	late, err := f.book(t, "cut", monday, "16:00", "c-2", model.ActorCustomer)
	require.NoError(t, err)

	f.clock.Set(time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))

	list, err := f.svc.ListAppointments(ctx, ListQuery{TenantID: tenantID, Date: monday})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, early.ID, list[0].ID)
	assert.Equal(t, model.StatusCompleted, list[0].Status)
	assert.Equal(t, late.ID, list[1].ID)
	assert.Equal(t, model.StatusBooked, list[1].Status)

	sum, err := f.svc.Summary(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, 1, sum.Upcoming)
	assert.Equal(t, 1, sum.UpcomingToday)
	require.NotNil(t, sum.Next)
	assert.Equal(t, late.ID, sum.Next.ID)
	assert.Equal(t, "10:00", sum.Now)

	_, err = f.svc.CancelAppointment(ctx, CancelRequest{TenantID: tenantID, AppointmentID: early.ID, CanceledBy: model.ActorCustomer})
	assert.True(t, apperr.IsConflict(err, apperr.ReasonInvalidTransition))

	canceled, err := f.svc.CancelAppointment(ctx, CancelRequest{TenantID: tenantID, AppointmentID: late.ID, CanceledBy: model.ActorCustomer, Reason: "running late"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, canceled.Status)

	slots := f.slots(t, "cut", monday)
	assert.Contains(t, slots, "16:00", "canceled appointment frees its slot")
}

func TestNotFoundAndValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.GetAvailableSlots(ctx, SlotsQuery{TenantID: tenantID, ServiceID: "retired", Date: monday})
	assert.True(t, apperr.IsNotFound(err), "inactive services are hidden")

	_, err = f.svc.GetAvailableSlots(ctx, SlotsQuery{TenantID: "ghost", ServiceID: "cut", Date: monday})
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.svc.GetAvailableSlots(ctx, SlotsQuery{TenantID: tenantID, ServiceID: "cut", Date: "02/03/2026"})
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "date", verr.Field)

	_, err = f.book(t, "cut", monday, "9am", "c-1", model.ActorCustomer)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "startTime", verr.Field)

	_, err = f.book(t, "cut", monday, "09:00", "", model.ActorCustomer)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "customer.id", verr.Field)

	_, err = f.book(t, "cut", monday, "09:00", "c-1", model.Actor("ROBOT"))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "createdBy", verr.Field)
}

func TestTenantSettingsValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	bad := weekly()
	bad.Days[1].Ranges = append(bad.Days[1].Ranges, availability.TimeRange{Start: "11:00", End: "13:30"})
	_, err := f.svc.PutTenantSettings(ctx, TenantSettings{TenantID: tenantID, Availability: bad})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.PutTenantSettings(ctx, TenantSettings{TenantID: tenantID, Availability: weekly(), SlotStepMinutes: 90})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.PutTenantSettings(ctx, TenantSettings{TenantID: tenantID, Availability: weekly(), Currency: "EURO"})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.PutService(ctx, ServiceInput{TenantID: "ghost", ServiceID: "x", Name: "X", DurationMinutes: 10, IsActive: true})
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.svc.PutService(ctx, ServiceInput{TenantID: tenantID, ServiceID: "x", Name: "X", DurationMinutes: 10, Price: decimal.NewFromInt(-1), IsActive: true})
	assert.True(t, apperr.IsValidation(err))
}

func TestTenantStepOverridesDefault(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.svc.PutTenantSettings(context.Background(), TenantSettings{TenantID: tenantID, Availability: weekly(), SlotStepMinutes: 30})
	require.NoError(t, err)

	res, err := f.svc.GetAvailableSlots(context.Background(), SlotsQuery{TenantID: tenantID, ServiceID: "cut", Date: monday})
	require.NoError(t, err)
	assert.Equal(t, 30, res.StepMinutes)
	assert.Equal(t, tz, res.Timezone)
	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}, res.Slots[:6])
	assert.Len(t, res.Slots, 6+8)
}
