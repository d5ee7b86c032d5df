// Package ledger owns the appointment lifecycle: committing new BOOKED rows,
// canceling them, and lazily completing the ones whose time has passed.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

// Observer is told about lifecycle outcomes; metrics hang off it.
type Observer interface {
	Committed(tenantID string)
	SlotTaken(tenantID string)
	Canceled(tenantID string, by model.Actor)
	Completed(tenantID string, n int)
}

type nopObserver struct{}

func (nopObserver) Committed(string)             {}
func (nopObserver) SlotTaken(string)             {}
func (nopObserver) Canceled(string, model.Actor) {}
func (nopObserver) Completed(string, int)        {}

type Ledger struct {
	store    storage.AppointmentStore
	clock    timegrid.Clock
	logger   *zap.Logger
	observer Observer
	newID    func() string
}

type Option func(*Ledger)

func WithLogger(l *zap.Logger) Option { return func(lg *Ledger) { lg.logger = l } }

func WithObserver(o Observer) Option { return func(lg *Ledger) { lg.observer = o } }

func WithIDGenerator(fn func() string) Option { return func(lg *Ledger) { lg.newID = fn } }

func New(store storage.AppointmentStore, clock timegrid.Clock, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		clock:    clock,
		logger:   zap.NewNop(),
		observer: nopObserver{},
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Commit stores appt as a new BOOKED appointment. A slot already held by
// another BOOKED appointment yields a SLOT_TAKEN conflict; the caller
// decides whether to re-query slots, nothing is retried here.
func (l *Ledger) Commit(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	now := l.clock.Now().UTC()
	appt.ID = l.newID()
	appt.Status = model.StatusBooked
	appt.CreatedAt = now
	appt.CanceledAt, appt.CompletedAt = nil, nil
	appt.CanceledBy, appt.CancelReason = "", ""

	evt, err := outbox.ForAppointment(ctx, outbox.AppointmentBooked, now, appt)
	if err != nil {
		return model.Appointment{}, err
	}

	blocking, err := l.store.InsertIfAbsent(ctx, appt, evt)
	if errors.Is(err, storage.ErrSlotTaken) {
		l.observer.SlotTaken(appt.TenantID)
		l.logger.Info("slot taken",
			zap.String("tenant_id", appt.TenantID),
			zap.String("date", appt.Date),
			zap.String("start_time", appt.StartTime),
			zap.Int("collisions", len(blocking)),
			zap.Error(err),
		)
		return model.Appointment{}, apperr.Conflict(apperr.ReasonSlotTaken,
			fmt.Sprintf("%s %s is no longer available", appt.Date, appt.StartTime),
			apperr.CollisionsOf(blocking)...)
	}
	if err != nil {
		return model.Appointment{}, fmt.Errorf("insert appointment: %w", err)
	}

	l.observer.Committed(appt.TenantID)
	l.logger.Info("appointment booked",
		zap.String("tenant_id", appt.TenantID),
		zap.String("appointment_id", appt.ID),
		zap.String("created_by", string(appt.CreatedBy)),
	)
	return appt, nil
}

// Cancel moves a BOOKED appointment to CANCELED, recording who did it.
// Canceling a COMPLETED or already CANCELED appointment is a conflict.
func (l *Ledger) Cancel(ctx context.Context, tenantID, appointmentID string, by model.Actor, reason string) (model.Appointment, error) {
	if !by.Valid() {
		return model.Appointment{}, apperr.Validation("canceledBy", "must be BUSINESS or CUSTOMER")
	}
	now := l.clock.Now().UTC()
	a, err := l.store.Transition(ctx, storage.Transition{
		TenantID:      tenantID,
		AppointmentID: appointmentID,
		From:          model.StatusBooked,
		To:            model.StatusCanceled,
		At:            now,
		CanceledBy:    by,
		Reason:        reason,
		Event:         outbox.AppointmentEventFunc(ctx, outbox.AppointmentCanceled, now),
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return model.Appointment{}, apperr.NotFound("appointment", appointmentID)
	case errors.Is(err, storage.ErrStatusMismatch):
		return model.Appointment{}, apperr.Conflict(apperr.ReasonInvalidTransition,
			fmt.Sprintf("appointment is %s and cannot be canceled", a.Status),
			apperr.CollisionsOf([]model.Appointment{a})...)
	case err != nil:
		return model.Appointment{}, fmt.Errorf("cancel appointment: %w", err)
	}

	l.observer.Canceled(tenantID, by)
	l.logger.Info("appointment canceled",
		zap.String("tenant_id", tenantID),
		zap.String("appointment_id", appointmentID),
		zap.String("canceled_by", string(by)),
	)
	return a, nil
}

// CompleteElapsed marks every BOOKED appointment of tenant that has ended as
// COMPLETED. It is safe to call on every read: a second run finds nothing.
func (l *Ledger) CompleteElapsed(ctx context.Context, tenant model.Tenant) (int, error) {
	at := l.clock.Now()
	now := timegrid.Today(l.clock, tenant.Timezone())
	done, err := l.store.CompleteElapsed(ctx, tenant.ID, now, at,
		outbox.AppointmentEventFunc(ctx, outbox.AppointmentCompleted, at))
	if err != nil {
		return 0, fmt.Errorf("complete elapsed appointments: %w", err)
	}
	if len(done) > 0 {
		l.observer.Completed(tenant.ID, len(done))
		l.logger.Debug("appointments completed", zap.String("tenant_id", tenant.ID), zap.Int("count", len(done)))
	}
	return len(done), nil
}
