package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrSlotTaken means InsertIfAbsent refused a BOOKED row that overlaps another.
	ErrSlotTaken = errors.New("slot taken")

	// ErrStatusMismatch means a conditional transition found the row in another status.
	ErrStatusMismatch = errors.New("appointment status changed")
)

// ListFilter narrows appointment listings. TenantID is always required.
type ListFilter struct {
	Date       string
	CustomerID string
	Statuses   []model.Status
}

func (f ListFilter) matches(a model.Appointment) bool {
	if f.Date != "" && a.Date != f.Date {
		return false
	}
	if f.CustomerID != "" && a.Customer.ID != f.CustomerID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if a.Status == s {
			return true
		}
	}
	return false
}

// Transition is a conditional status change applied only when the row is still in From.
type Transition struct {
	TenantID      string
	AppointmentID string
	From          model.Status
	To            model.Status
	At            time.Time
	CanceledBy    model.Actor
	Reason        string
	Event         outbox.EventFunc
}

func (t Transition) validate() error {
	if !t.From.CanTransitionTo(t.To) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.From, t.To)
	}
	return nil
}

func (t Transition) apply(a *model.Appointment) {
	a.Status = t.To
	at := t.At.UTC()
	switch t.To {
	case model.StatusCanceled:
		a.CanceledAt = &at
		a.CanceledBy = t.CanceledBy
		a.CancelReason = t.Reason
	case model.StatusCompleted:
		a.CompletedAt = &at
	}
}

// AppointmentStore persists appointments. InsertIfAbsent is the single
// point where double booking is prevented: it must atomically refuse a
// BOOKED row overlapping another BOOKED row of the same tenant and date.
type AppointmentStore interface {
	// InsertIfAbsent returns an error matching ErrSlotTaken when the slot is
	// already held, together with the BOOKED rows in the way.
	InsertIfAbsent(ctx context.Context, appt model.Appointment, events ...outbox.Event) ([]model.Appointment, error)
	Get(ctx context.Context, tenantID, id string) (model.Appointment, error)
	List(ctx context.Context, tenantID string, f ListFilter) ([]model.Appointment, error)
	// Transition returns ErrStatusMismatch together with the current row when it is not in t.From.
	Transition(ctx context.Context, t Transition) (model.Appointment, error)
	// CompleteElapsed marks every BOOKED appointment that ended at or before now as COMPLETED.
	CompleteElapsed(ctx context.Context, tenantID string, now timegrid.LocalNow, at time.Time, evt outbox.EventFunc) ([]model.Appointment, error)
}

// TenantStore reads the settings the engine depends on.
type TenantStore interface {
	GetTenant(ctx context.Context, tenantID string) (model.Tenant, error)
	GetService(ctx context.Context, tenantID, serviceID string) (model.Service, error)
	// GetRelationship reports found=false when the customer has no relationship row yet.
	GetRelationship(ctx context.Context, tenantID, customerID string) (rel model.CustomerRelationship, found bool, err error)
	TouchRelationship(ctx context.Context, tenantID, customerID string, at time.Time) error
}

// SettingsStore writes tenant settings, each write paired with its event.
type SettingsStore interface {
	PutTenant(ctx context.Context, t model.Tenant, evt outbox.Event) error
	PutService(ctx context.Context, s model.Service, evt outbox.Event) error
	PutRelationship(ctx context.Context, r model.CustomerRelationship, evt outbox.Event) error
}
