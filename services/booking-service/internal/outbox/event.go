package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Event types double as Kafka topic names.
const (
	AppointmentBooked    = "booking.appointment.booked.v1"
	AppointmentCanceled  = "booking.appointment.canceled.v1"
	AppointmentCompleted = "booking.appointment.completed.v1"

	TenantSettingsUpdated = "tenant.settings.updated.v1"
)

const (
	AggregateAppointment = "appointment"
	AggregateTenant      = "tenant"
)

// Event is the envelope written next to the state change that caused it.
type Event struct {
	ID            string
	AggregateType string
	AggregateID   string
	TenantID      string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

// EventFunc builds the event for an appointment after a store changed it.
type EventFunc func(model.Appointment) (Event, error)

// AppointmentPayload is the JSON body of every appointment event.
type AppointmentPayload struct {
	EventType   string            `json:"eventType"`
	OccurredAt  time.Time         `json:"occurredAt"`
	Appointment model.Appointment `json:"appointment"`
}

// TenantPayload is the JSON body of tenant.settings.updated.v1.
type TenantPayload struct {
	TenantID   string    `json:"tenantId"`
	Section    string    `json:"section"`
	OccurredAt time.Time `json:"occurredAt"`
}

func newEvent(ctx context.Context, aggType, aggID, tenantID, eventType string, at time.Time, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	tc := otelx.CaptureTraceContext(ctx)
	return Event{
		ID:            uuid.NewString(),
		AggregateType: aggType,
		AggregateID:   aggID,
		TenantID:      tenantID,
		EventType:     eventType,
		Payload:       body,
		Traceparent:   tc.Parent,
		Tracestate:    tc.State,
		CreatedAt:     at.UTC(),
	}, nil
}

// ForAppointment builds an appointment event of eventType.
func ForAppointment(ctx context.Context, eventType string, at time.Time, appt model.Appointment) (Event, error) {
	return newEvent(ctx, AggregateAppointment, appt.ID, appt.TenantID, eventType, at, AppointmentPayload{
		EventType:   eventType,
		OccurredAt:  at.UTC(),
		Appointment: appt,
	})
}

// AppointmentEventFunc defers ForAppointment until the store knows the final row.
func AppointmentEventFunc(ctx context.Context, eventType string, at time.Time) EventFunc {
	return func(appt model.Appointment) (Event, error) {
		return ForAppointment(ctx, eventType, at, appt)
	}
}

// ForTenantSettings announces that section of a tenant's settings changed.
func ForTenantSettings(ctx context.Context, tenantID, section string, at time.Time) (Event, error) {
	return newEvent(ctx, AggregateTenant, tenantID, tenantID, TenantSettingsUpdated, at, TenantPayload{
		TenantID:   tenantID,
		Section:    section,
		OccurredAt: at.UTC(),
	})
}
