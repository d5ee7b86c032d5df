// Package booking answers availability questions and turns requests into
// committed appointments. It composes the resolver, slot computer, customer
// guard and ledger over the tenant and appointment stores.
package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/reservation"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

const defaultCurrency = "USD"

// CacheInvalidator drops cached tenant settings after a write.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}

type Deps struct {
	Tenants      storage.TenantStore
	Settings     storage.SettingsStore
	Appointments storage.AppointmentStore
	Clock        timegrid.Clock
	Logger       *zap.Logger
	Metrics      *metrics.Registry
	Cache        CacheInvalidator
	// DefaultStepMinutes applies to tenants without their own slot step.
	DefaultStepMinutes int
}

type Service struct {
	tenants     storage.TenantStore
	settings    storage.SettingsStore
	appts       storage.AppointmentStore
	guard       *reservation.Guard
	ledger      *ledger.Ledger
	clock       timegrid.Clock
	validate    *validator.Validate
	logger      *zap.Logger
	metrics     *metrics.Registry
	cache       CacheInvalidator
	tracer      trace.Tracer
	defaultStep int
}

func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = timegrid.SystemClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.DefaultStepMinutes <= 0 {
		d.DefaultStepMinutes = availability.DefaultStepMinutes
	}
	opts := []ledger.Option{ledger.WithLogger(d.Logger.Named("ledger"))}
	if d.Metrics != nil {
		opts = append(opts, ledger.WithObserver(d.Metrics))
	}
	return &Service{
		tenants:     d.Tenants,
		settings:    d.Settings,
		appts:       d.Appointments,
		guard:       reservation.NewGuard(d.Appointments, d.Tenants),
		ledger:      ledger.New(d.Appointments, d.Clock, opts...),
		clock:       d.Clock,
		validate:    NewValidator(),
		logger:      d.Logger,
		metrics:     d.Metrics,
		cache:       d.Cache,
		tracer:      otelx.Tracer("booking-service/booking"),
		defaultStep: d.DefaultStepMinutes,
	}
}

type SlotsQuery struct {
	TenantID  string `json:"tenantId" validate:"required"`
	ServiceID string `json:"serviceId" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
}

type SlotsResult struct {
	TenantID        string   `json:"tenantId"`
	ServiceID       string   `json:"serviceId"`
	Date            string   `json:"date"`
	Timezone        string   `json:"timezone"`
	DurationMinutes int      `json:"durationMinutes"`
	StepMinutes     int      `json:"stepMinutes"`
	Slots           []string `json:"slots"`
}

// GetAvailableSlots lists bookable start times for a service on a
// tenant-local date. Past dates have none; today only keeps starts from
// the current minute on.
func (s *Service) GetAvailableSlots(ctx context.Context, q SlotsQuery) (SlotsResult, error) {
	ctx, span := s.tracer.Start(ctx, "booking.GetAvailableSlots", trace.WithAttributes(
		attribute.String("tenant.id", q.TenantID),
		attribute.String("service.id", q.ServiceID),
		attribute.String("booking.date", q.Date),
	))
	defer span.End()

	if err := s.check(q); err != nil {
		return SlotsResult{}, err
	}
	tenant, svc, err := s.loadBookable(ctx, q.TenantID, q.ServiceID)
	if err != nil {
		return SlotsResult{}, s.fail(span, err)
	}

	res := SlotsResult{
		TenantID:        tenant.ID,
		ServiceID:       svc.ID,
		Date:            q.Date,
		Timezone:        timegrid.Location(tenant.Timezone()).String(),
		DurationMinutes: svc.DurationMinutes,
		StepMinutes:     tenant.Step(s.defaultStep),
		Slots:           []string{},
	}

	now := timegrid.Today(s.clock, tenant.Timezone())
	if q.Date < now.Date {
		s.metrics.SlotQuery(0)
		return res, nil
	}

	starts, _, err := s.openStarts(ctx, tenant, svc, q.Date)
	if err != nil {
		return SlotsResult{}, s.fail(span, err)
	}
	for _, m := range starts {
		if q.Date == now.Date && m < now.Minute {
			continue
		}
		res.Slots = append(res.Slots, timegrid.MinutesToTime(m))
	}
	s.metrics.SlotQuery(len(res.Slots))
	span.SetAttributes(attribute.Int("booking.slots", len(res.Slots)))
	return res, nil
}

// openStarts also returns the BOOKED appointments of the day it subtracted.
func (s *Service) openStarts(ctx context.Context, tenant model.Tenant, svc model.Service, date string) ([]int, []model.Appointment, error) {
	booked, err := s.appts.List(ctx, tenant.ID, storage.ListFilter{
		Date:     date,
		Statuses: []model.Status{model.StatusBooked},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list booked appointments: %w", err)
	}
	busy := make([]availability.Interval, 0, len(booked))
	for _, a := range booked {
		busy = append(busy, availability.Interval{Start: a.StartMinute(), End: a.EndMinute()})
	}
	open := availability.Resolve(tenant.Availability, date)
	return availability.ComputeSlotMinutes(open, busy, svc.DurationMinutes, tenant.Step(s.defaultStep)), booked, nil
}

// overlapping keeps the appointments that intersect [start, end).
func overlapping(booked []model.Appointment, start, end int) []model.Appointment {
	var out []model.Appointment
	for _, a := range booked {
		if a.StartMinute() < end && start < a.EndMinute() {
			out = append(out, a)
		}
	}
	return out
}

type CreateRequest struct {
	TenantID  string         `json:"tenantId" validate:"required"`
	ServiceID string         `json:"serviceId" validate:"required"`
	Date      string         `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string         `json:"startTime" validate:"required,hhmm"`
	Customer  model.Customer `json:"customer"`
	CreatedBy model.Actor    `json:"createdBy" validate:"required,oneof=BUSINESS CUSTOMER"`
}

type customerCheck struct {
	ID    string `json:"customer.id" validate:"required"`
	Email string `json:"customer.email" validate:"omitempty,email"`
}

// CreateAppointment re-checks that the requested slot is still open, applies
// the customer rules for self-bookings and commits. Losing a race for the
// slot surfaces as a SLOT_TAKEN conflict.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (model.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "booking.CreateAppointment", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("service.id", req.ServiceID),
		attribute.String("booking.date", req.Date),
		attribute.String("booking.start", req.StartTime),
		attribute.String("booking.created_by", string(req.CreatedBy)),
	))
	defer span.End()

	if err := s.check(req); err != nil {
		return model.Appointment{}, err
	}
	if err := s.check(customerCheck{ID: req.Customer.ID, Email: req.Customer.Email}); err != nil {
		return model.Appointment{}, err
	}
	start, _ := timegrid.ParseTimeToMinutes(req.StartTime)

	tenant, svc, err := s.loadBookable(ctx, req.TenantID, req.ServiceID)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}

	if _, err := s.ledger.CompleteElapsed(ctx, tenant); err != nil {
		s.logger.Warn("completion sweep failed", zap.String("tenant_id", tenant.ID), zap.Error(err))
	}

	now := timegrid.Today(s.clock, tenant.Timezone())
	if req.Date < now.Date || (req.Date == now.Date && start < now.Minute) {
		return model.Appointment{}, apperr.Conflict(apperr.ReasonSlotUnavailable,
			fmt.Sprintf("%s %s is in the past", req.Date, timegrid.MinutesToTime(start)))
	}
	starts, booked, err := s.openStarts(ctx, tenant, svc, req.Date)
	if err != nil {
		return model.Appointment{}, s.fail(span, err)
	}
	if !slices.Contains(starts, start) {
		return model.Appointment{}, apperr.Conflict(apperr.ReasonSlotUnavailable,
			fmt.Sprintf("%s %s is not an available slot for %s", req.Date, timegrid.MinutesToTime(start), svc.Name),
			apperr.CollisionsOf(overlapping(booked, start, start+svc.DurationMinutes))...)
	}

	err = s.guard.Check(ctx, reservation.Request{
		Tenant:     tenant,
		CustomerID: req.Customer.ID,
		ServiceID:  svc.ID,
		Date:       req.Date,
		CreatedBy:  req.CreatedBy,
		Now:        now,
	})
	if err != nil {
		var cerr *apperr.ConflictError
		if errors.As(err, &cerr) {
			s.metrics.Rejected(string(cerr.Reason))
			return model.Appointment{}, err
		}
		return model.Appointment{}, s.fail(span, err)
	}

	currency := tenant.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	appt, err := s.ledger.Commit(ctx, model.Appointment{
		TenantID:        tenant.ID,
		Customer:        req.Customer,
		ServiceID:       svc.ID,
		ServiceName:     svc.Name,
		DurationMinutes: svc.DurationMinutes,
		Price:           svc.Price,
		Currency:        currency,
		Date:            req.Date,
		StartTime:       timegrid.MinutesToTime(start),
		EndTime:         timegrid.MinutesToTime(start + svc.DurationMinutes),
		CreatedBy:       req.CreatedBy,
	})
	if err != nil {
		if apperr.IsConflict(err, "") {
			return model.Appointment{}, err
		}
		return model.Appointment{}, s.fail(span, err)
	}
	span.SetAttributes(attribute.String("appointment.id", appt.ID))

	if err := s.tenants.TouchRelationship(ctx, tenant.ID, req.Customer.ID, s.clock.Now()); err != nil {
		s.logger.Warn("relationship touch failed",
			zap.String("tenant_id", tenant.ID),
			zap.String("customer_id", req.Customer.ID),
			zap.Error(err),
		)
	}
	return appt, nil
}

type CancelRequest struct {
	TenantID      string      `json:"tenantId" validate:"required"`
	AppointmentID string      `json:"appointmentId" validate:"required"`
	CanceledBy    model.Actor `json:"canceledBy" validate:"required,oneof=BUSINESS CUSTOMER"`
	Reason        string      `json:"reason" validate:"max=500"`
}

func (s *Service) CancelAppointment(ctx context.Context, req CancelRequest) (model.Appointment, error) {
	if err := s.check(req); err != nil {
		return model.Appointment{}, err
	}
	tenant, err := s.loadTenant(ctx, req.TenantID)
	if err != nil {
		return model.Appointment{}, err
	}
	// An appointment that already ended completes first and then refuses the cancel.
	if _, err := s.ledger.CompleteElapsed(ctx, tenant); err != nil {
		s.logger.Warn("completion sweep failed", zap.String("tenant_id", tenant.ID), zap.Error(err))
	}
	return s.ledger.Cancel(ctx, tenant.ID, req.AppointmentID, req.CanceledBy, req.Reason)
}

type ListQuery struct {
	TenantID   string       `json:"tenantId" validate:"required"`
	Date       string       `json:"date" validate:"omitempty,datetime=2006-01-02"`
	CustomerID string       `json:"customerId"`
	Status     model.Status `json:"status" validate:"omitempty,oneof=BOOKED COMPLETED CANCELED"`
}

// ListAppointments completes elapsed appointments before reading so callers
// never see a BOOKED row that is already over.
func (s *Service) ListAppointments(ctx context.Context, q ListQuery) ([]model.Appointment, error) {
	if err := s.check(q); err != nil {
		return nil, err
	}
	tenant, err := s.loadTenant(ctx, q.TenantID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.CompleteElapsed(ctx, tenant); err != nil {
		return nil, err
	}
	f := storage.ListFilter{Date: q.Date, CustomerID: q.CustomerID}
	if q.Status != "" {
		f.Statuses = []model.Status{q.Status}
	}
	out, err := s.appts.List(ctx, tenant.ID, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	if out == nil {
		out = []model.Appointment{}
	}
	return out, nil
}

func (s *Service) GetAppointment(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error) {
	tenant, err := s.loadTenant(ctx, tenantID)
	if err != nil {
		return model.Appointment{}, err
	}
	if _, err := s.ledger.CompleteElapsed(ctx, tenant); err != nil {
		return model.Appointment{}, err
	}
	a, err := s.appts.Get(ctx, tenant.ID, appointmentID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Appointment{}, apperr.NotFound("appointment", appointmentID)
	}
	return a, err
}

// Summary is the dashboard view of a tenant's calendar.
type Summary struct {
	TenantID      string             `json:"tenantId"`
	Today         string             `json:"today"`
	Now           string             `json:"now"`
	UpcomingToday int                `json:"upcomingToday"`
	Upcoming      int                `json:"upcoming"`
	Completed     int                `json:"completed"`
	Canceled      int                `json:"canceled"`
	Next          *model.Appointment `json:"next,omitempty"`
}

func (s *Service) Summary(ctx context.Context, tenantID string) (Summary, error) {
	tenant, err := s.loadTenant(ctx, tenantID)
	if err != nil {
		return Summary{}, err
	}
	if _, err := s.ledger.CompleteElapsed(ctx, tenant); err != nil {
		return Summary{}, err
	}
	all, err := s.appts.List(ctx, tenant.ID, storage.ListFilter{})
	if err != nil {
		return Summary{}, fmt.Errorf("list appointments: %w", err)
	}

	now := timegrid.Today(s.clock, tenant.Timezone())
	sum := Summary{TenantID: tenant.ID, Today: now.Date, Now: timegrid.MinutesToTime(now.Minute)}
	for i := range all {
		a := all[i]
		switch a.Status {
		case model.StatusCompleted:
			sum.Completed++
		case model.StatusCanceled:
			sum.Canceled++
		case model.StatusBooked:
			sum.Upcoming++
			if a.Date == now.Date {
				sum.UpcomingToday++
			}
			if sum.Next == nil {
				sum.Next = &a
			}
		}
	}
	return sum, nil
}

func (s *Service) loadTenant(ctx context.Context, tenantID string) (model.Tenant, error) {
	if tenantID == "" {
		return model.Tenant{}, apperr.Validation("tenantId", "is required")
	}
	t, err := s.tenants.GetTenant(ctx, tenantID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Tenant{}, apperr.NotFound("tenant", tenantID)
	}
	if err != nil {
		return model.Tenant{}, fmt.Errorf("load tenant: %w", err)
	}
	return t, nil
}

// loadBookable returns the tenant and an active service of it.
func (s *Service) loadBookable(ctx context.Context, tenantID, serviceID string) (model.Tenant, model.Service, error) {
	tenant, err := s.loadTenant(ctx, tenantID)
	if err != nil {
		return model.Tenant{}, model.Service{}, err
	}
	svc, err := s.tenants.GetService(ctx, tenant.ID, serviceID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !svc.IsActive) {
		return model.Tenant{}, model.Service{}, apperr.NotFound("service", serviceID)
	}
	if err != nil {
		return model.Tenant{}, model.Service{}, fmt.Errorf("load service: %w", err)
	}
	if svc.DurationMinutes <= 0 {
		return model.Tenant{}, model.Service{}, apperr.NotFound("service", serviceID)
	}
	return tenant, svc, nil
}

// fail records unexpected errors on the span; domain errors pass through untouched.
func (s *Service) fail(span trace.Span, err error) error {
	if apperr.IsNotFound(err) || apperr.IsValidation(err) || apperr.IsConflict(err, "") {
		return err
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
