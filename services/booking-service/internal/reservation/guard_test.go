package reservation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

func appt(id, serviceID, date, start, end string) model.Appointment {
	return model.Appointment{ID: id, ServiceID: serviceID, Date: date, StartTime: start, EndTime: end, Status: model.StatusBooked}
}

func baseInput() Input {
	return Input{
		Request: Request{
			Tenant:     model.Tenant{ID: "t-1"},
			CustomerID: "c-1",
			ServiceID:  "cut",
			Date:       "2026-03-05",
			CreatedBy:  model.ActorCustomer,
			Now:        timegrid.LocalNow{Date: "2026-03-02", Minute: 600},
		},
		Relationship: model.CustomerRelationship{Status: model.RelationshipActive},
	}
}

func conflictReason(t *testing.T, err error) *apperr.ConflictError {
	t.Helper()
	var cerr *apperr.ConflictError
	require.True(t, errors.As(err, &cerr), "expected conflict, got %v", err)
	return cerr
}

func TestEvaluateAllowsCleanCustomer(t *testing.T) {
	require.NoError(t, Evaluate(baseInput()))
}

func TestEvaluateBlockedCustomerComesFirst(t *testing.T) {
	in := baseInput()
	in.Relationship.Status = model.RelationshipBlocked
	in.Booked = []model.Appointment{appt("a", "cut", "2026-03-05", "09:00", "09:30")}

	cerr := conflictReason(t, Evaluate(in))
	assert.Equal(t, apperr.ReasonBlockedCustomer, cerr.Reason)
}

func TestEvaluateSameServiceSameDay(t *testing.T) {
	in := baseInput()
	in.Booked = []model.Appointment{
		appt("a", "cut", "2026-03-05", "09:00", "09:30"),
		appt("b", "color", "2026-03-05", "11:00", "12:00"),
		appt("c", "cut", "2026-03-06", "09:00", "09:30"),
	}

	cerr := conflictReason(t, Evaluate(in))
	assert.Equal(t, apperr.ReasonSameServiceSameDay, cerr.Reason)
	require.Len(t, cerr.Collisions, 1)
	assert.Equal(t, "a", cerr.Collisions[0].AppointmentID)
}

func TestEvaluateUpcomingLimit(t *testing.T) {
	in := baseInput()
	in.Tenant.Policy.LimitCustomerToOneUpcomingAppointment = true
	in.Booked = []model.Appointment{
		appt("ended-today", "color", "2026-03-02", "09:00", "10:00"),
		appt("later-today", "color", "2026-03-02", "10:00", "10:30"),
	}

	cerr := conflictReason(t, Evaluate(in))
	assert.Equal(t, apperr.ReasonUpcomingLimit, cerr.Reason)
	require.Len(t, cerr.Collisions, 1)
	assert.Equal(t, "later-today", cerr.Collisions[0].AppointmentID)

	in.Booked = in.Booked[:1]
	assert.NoError(t, Evaluate(in), "an appointment that already ended does not count")

	in.Tenant.Policy.LimitCustomerToOneUpcomingAppointment = false
	in.Booked = []model.Appointment{appt("x", "color", "2026-03-09", "10:00", "10:30")}
	assert.NoError(t, Evaluate(in))
}

func TestEvaluateSkipsBusinessBookings(t *testing.T) {
	in := baseInput()
	in.CreatedBy = model.ActorBusiness
	in.Relationship.Status = model.RelationshipBlocked
	in.Tenant.Policy.LimitCustomerToOneUpcomingAppointment = true
	in.Booked = []model.Appointment{appt("a", "cut", "2026-03-05", "09:00", "09:30")}

	assert.NoError(t, Evaluate(in))
}

type failingRelationships struct{}

func (failingRelationships) GetRelationship(context.Context, string, string) (model.CustomerRelationship, bool, error) {
	return model.CustomerRelationship{}, false, errors.New("db down")
}

func TestGuardCheckLoadsFromStores(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemory()
	a := appt("a", "cut", "2026-03-05", "09:00", "09:30")
	a.TenantID = "t-1"
	a.Customer.ID = "c-1"
	_, err := mem.InsertIfAbsent(ctx, a)
	require.NoError(t, err)

	g := NewGuard(mem, mem)
	cerr := conflictReason(t, g.Check(ctx, baseInput().Request))
	assert.Equal(t, apperr.ReasonSameServiceSameDay, cerr.Reason)

	bad := NewGuard(mem, failingRelationships{})
	err = bad.Check(ctx, baseInput().Request)
	require.Error(t, err)
	assert.False(t, apperr.IsConflict(err, ""))

	req := baseInput().Request
	req.CreatedBy = model.ActorBusiness
	assert.NoError(t, bad.Check(ctx, req))
}
