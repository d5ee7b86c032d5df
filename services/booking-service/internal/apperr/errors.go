// Package apperr defines the errors the booking engine reports to callers.
// Transports map them once at the edge; everything else is an internal error.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

type ConflictReason string

const (
	ReasonSlotUnavailable    ConflictReason = "SLOT_UNAVAILABLE"
	ReasonSlotTaken          ConflictReason = "SLOT_TAKEN"
	ReasonBlockedCustomer    ConflictReason = "BLOCKED_CUSTOMER"
	ReasonSameServiceSameDay ConflictReason = "SAME_SERVICE_SAME_DAY"
	ReasonUpcomingLimit      ConflictReason = "UPCOMING_LIMIT_EXCEEDED"
	ReasonInvalidTransition  ConflictReason = "INVALID_TRANSITION"
)

// Collision is an existing appointment that caused a conflict.
type Collision struct {
	AppointmentID string `json:"appointmentId"`
	ServiceID     string `json:"serviceId"`
	Date          string `json:"date"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
}

func CollisionsOf(appts []model.Appointment) []Collision {
	out := make([]Collision, 0, len(appts))
	for _, a := range appts {
		out = append(out, Collision{
			AppointmentID: a.ID,
			ServiceID:     a.ServiceID,
			Date:          a.Date,
			StartTime:     a.StartTime,
			EndTime:       a.EndTime,
		})
	}
	return out
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

type ConflictError struct {
	Reason     ConflictReason
	Message    string
	Collisions []Collision
}

func (e *ConflictError) Error() string {
	return string(e.Reason) + ": " + e.Message
}

// ForbiddenError means the caller is authenticated but may not act here.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

func Forbidden(msg string) error {
	return &ForbiddenError{Message: msg}
}

func Validation(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func Conflict(reason ConflictReason, msg string, collisions ...Collision) error {
	return &ConflictError{Reason: reason, Message: msg, Collisions: collisions}
}

// Body is the JSON shape of every error response.
type Body struct {
	Error      string      `json:"error"`
	Code       string      `json:"code"`
	Field      string      `json:"field,omitempty"`
	Resource   string      `json:"resource,omitempty"`
	ID         string      `json:"id,omitempty"`
	Collisions []Collision `json:"collisions,omitempty"`
}

// Describe maps err to an HTTP status and a response body. Unknown errors
// become a 500 with a generic message so internals do not leak.
func Describe(err error) (int, Body) {
	var (
		verr *ValidationError
		nerr *NotFoundError
		cerr *ConflictError
		ferr *ForbiddenError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, Body{Error: verr.Message, Code: "validation_error", Field: verr.Field}
	case errors.As(err, &ferr):
		return http.StatusForbidden, Body{Error: ferr.Message, Code: "forbidden"}
	case errors.As(err, &nerr):
		return http.StatusNotFound, Body{Error: nerr.Error(), Code: "not_found", Resource: nerr.Resource, ID: nerr.ID}
	case errors.As(err, &cerr):
		return http.StatusConflict, Body{Error: cerr.Message, Code: string(cerr.Reason), Collisions: cerr.Collisions}
	default:
		return http.StatusInternalServerError, Body{Error: "internal error", Code: "internal_error"}
	}
}

func IsConflict(err error, reason ConflictReason) bool {
	var cerr *ConflictError
	return errors.As(err, &cerr) && (reason == "" || cerr.Reason == reason)
}

func IsNotFound(err error) bool {
	var nerr *NotFoundError
	return errors.As(err, &nerr)
}

func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
