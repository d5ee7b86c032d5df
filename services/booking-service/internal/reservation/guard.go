// Package reservation enforces the per-customer rules that apply when a
// customer books for themselves. Bookings made by the business skip them.
package reservation

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

type AppointmentLister interface {
	List(ctx context.Context, tenantID string, f storage.ListFilter) ([]model.Appointment, error)
}

type RelationshipReader interface {
	GetRelationship(ctx context.Context, tenantID, customerID string) (model.CustomerRelationship, bool, error)
}

// Request describes the booking being attempted. Now must already be in the tenant's timezone.
type Request struct {
	Tenant     model.Tenant
	CustomerID string
	ServiceID  string
	Date       string
	CreatedBy  model.Actor
	Now        timegrid.LocalNow
}

// Input is everything Evaluate needs, already loaded.
type Input struct {
	Request
	Relationship model.CustomerRelationship
	// Booked holds the customer's BOOKED appointments with this tenant.
	Booked []model.Appointment
}

type Guard struct {
	appts AppointmentLister
	rels  RelationshipReader
}

func NewGuard(appts AppointmentLister, rels RelationshipReader) *Guard {
	return &Guard{appts: appts, rels: rels}
}

// Check loads the customer's relationship and bookings and evaluates the rules.
func (g *Guard) Check(ctx context.Context, req Request) error {
	if req.CreatedBy != model.ActorCustomer {
		return nil
	}

	rel, _, err := g.rels.GetRelationship(ctx, req.Tenant.ID, req.CustomerID)
	if err != nil {
		return fmt.Errorf("load relationship: %w", err)
	}
	booked, err := g.appts.List(ctx, req.Tenant.ID, storage.ListFilter{
		CustomerID: req.CustomerID,
		Statuses:   []model.Status{model.StatusBooked},
	})
	if err != nil {
		return fmt.Errorf("load customer appointments: %w", err)
	}
	return Evaluate(Input{Request: req, Relationship: rel, Booked: booked})
}

// Evaluate applies, in order: blocked customer, one booking per service per
// day, and the tenant's optional one-upcoming-appointment limit.
func Evaluate(in Input) error {
	if in.CreatedBy != model.ActorCustomer {
		return nil
	}

	if in.Relationship.Blocked() {
		return apperr.Conflict(apperr.ReasonBlockedCustomer, "this business is not accepting bookings from you")
	}

	var sameDay []model.Appointment
	for _, a := range in.Booked {
		if a.Status == model.StatusBooked && a.ServiceID == in.ServiceID && a.Date == in.Date {
			sameDay = append(sameDay, a)
		}
	}
	if len(sameDay) > 0 {
		return apperr.Conflict(apperr.ReasonSameServiceSameDay,
			"you already have this service booked on "+in.Date, apperr.CollisionsOf(sameDay)...)
	}

	if in.Tenant.Policy.LimitCustomerToOneUpcomingAppointment {
		var upcoming []model.Appointment
		for _, a := range in.Booked {
			if a.Status == model.StatusBooked && in.Now.Upcoming(a.Date, a.EndMinute()) {
				upcoming = append(upcoming, a)
			}
		}
		if len(upcoming) > 0 {
			return apperr.Conflict(apperr.ReasonUpcomingLimit,
				"you already have an upcoming appointment", apperr.CollisionsOf(upcoming)...)
		}
	}
	return nil
}
