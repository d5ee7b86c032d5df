package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
)

// Policy holds tenant-level booking rules applied to customer self-booking.
type Policy struct {
	LimitCustomerToOneUpcomingAppointment bool `json:"limitCustomerToOneUpcomingAppointment"`
}

// Tenant is the slice of a business account the engine reads.
type Tenant struct {
	ID              string                          `json:"id"`
	Name            string                          `json:"name"`
	Currency        string                          `json:"currency"`
	Availability    availability.TenantAvailability `json:"availability"`
	Policy          Policy                          `json:"policy"`
	SlotStepMinutes int                             `json:"slotStepMinutes,omitempty"`
	UpdatedAt       time.Time                       `json:"updatedAt"`
}

// Timezone is the zone all of the tenant's dates and times are expressed in.
func (t Tenant) Timezone() string {
	return t.Availability.Timezone
}

// Step returns the tenant's slot grid, or fallback when unset.
func (t Tenant) Step(fallback int) int {
	if t.SlotStepMinutes > 0 {
		return t.SlotStepMinutes
	}
	if fallback > 0 {
		return fallback
	}
	return availability.DefaultStepMinutes
}

type Service struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenantId"`
	Name            string          `json:"name"`
	DurationMinutes int             `json:"durationMinutes"`
	Price           decimal.Decimal `json:"price"`
	IsActive        bool            `json:"isActive"`
}

type RelationshipStatus string

const (
	RelationshipActive  RelationshipStatus = "ACTIVE"
	RelationshipBlocked RelationshipStatus = "BLOCKED"
)

// CustomerRelationship is the tenant's view of one customer.
type CustomerRelationship struct {
	TenantID          string             `json:"tenantId"`
	CustomerID        string             `json:"customerId"`
	Status            RelationshipStatus `json:"status"`
	IsHidden          bool               `json:"isHidden"`
	LastAppointmentAt *time.Time         `json:"lastAppointmentAt,omitempty"`
}

func (r CustomerRelationship) Blocked() bool {
	return r.Status == RelationshipBlocked
}
