package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/timegrid"
)

type Status string

const (
	StatusBooked    Status = "BOOKED"
	StatusCompleted Status = "COMPLETED"
	StatusCanceled  Status = "CANCELED"
)

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

var transitions = map[Status][]Status{
	StatusBooked: {StatusCompleted, StatusCanceled},
}

// CanTransitionTo reports whether s -> to is a legal lifecycle step.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	return s == StatusBooked || s == StatusCompleted || s == StatusCanceled
}

// Actor records who created or canceled an appointment.
type Actor string

const (
	ActorBusiness Actor = "BUSINESS"
	ActorCustomer Actor = "CUSTOMER"
)

func (a Actor) Valid() bool {
	return a == ActorBusiness || a == ActorCustomer
}

// Customer is the contact snapshot copied onto an appointment.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Appointment is one reservation on a tenant's shared calendar. Date and
// times are tenant-local. Service fields are snapshots taken at booking
// time and do not follow later catalog edits.
type Appointment struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenantId"`
	Customer        Customer        `json:"customer"`
	ServiceID       string          `json:"serviceId"`
	ServiceName     string          `json:"serviceName"`
	DurationMinutes int             `json:"durationMinutes"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	Date            string          `json:"date"`
	StartTime       string          `json:"startTime"`
	EndTime         string          `json:"endTime"`
	Status          Status          `json:"status"`
	CreatedBy       Actor           `json:"createdBy"`
	CanceledBy      Actor           `json:"canceledBy,omitempty"`
	CancelReason    string          `json:"cancelReason,omitempty"`
	CanceledAt      *time.Time      `json:"canceledAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func (a Appointment) StartMinute() int {
	m, _ := timegrid.ParseTimeToMinutes(a.StartTime)
	return m
}

func (a Appointment) EndMinute() int {
	m, _ := timegrid.ParseTimeToMinutes(a.EndTime)
	return m
}

// Overlaps reports whether a and o share any minute on the same date.
func (a Appointment) Overlaps(o Appointment) bool {
	if a.TenantID != o.TenantID || a.Date != o.Date {
		return false
	}
	return a.StartMinute() < o.EndMinute() && o.StartMinute() < a.EndMinute()
}
