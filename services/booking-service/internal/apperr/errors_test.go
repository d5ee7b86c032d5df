package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	collision := Collision{AppointmentID: "a-1", ServiceID: "cut", Date: "2026-03-02", StartTime: "10:00", EndTime: "10:30"}

	cases := []struct {
		name   string
		err    error
		status int
		body   Body
	}{
		{
			name:   "validation",
			err:    Validation("date", "must be YYYY-MM-DD"),
			status: http.StatusBadRequest,
			body:   Body{Error: "must be YYYY-MM-DD", Code: "validation_error", Field: "date"},
		},
		{
			name:   "wrapped not found",
			err:    fmt.Errorf("load: %w", NotFound("service", "cut")),
			status: http.StatusNotFound,
			body:   Body{Error: `service "cut" not found`, Code: "not_found", Resource: "service", ID: "cut"},
		},
		{
			name:   "conflict keeps collisions",
			err:    Conflict(ReasonUpcomingLimit, "customer already has an upcoming appointment", collision),
			status: http.StatusConflict,
			body: Body{
				Error:      "customer already has an upcoming appointment",
				Code:       "UPCOMING_LIMIT_EXCEEDED",
				Collisions: []Collision{collision},
			},
		},
		{
			name:   "forbidden",
			err:    Forbidden("token is for another tenant"),
			status: http.StatusForbidden,
			body:   Body{Error: "token is for another tenant", Code: "forbidden"},
		},
		{
			name:   "unknown hides detail",
			err:    errors.New("pq: connection reset"),
			status: http.StatusInternalServerError,
			body:   Body{Error: "internal error", Code: "internal_error"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := Describe(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.body, body)
		})
	}
}

func TestPredicates(t *testing.T) {
	err := fmt.Errorf("commit: %w", Conflict(ReasonSlotTaken, "slot taken"))
	assert.True(t, IsConflict(err, ReasonSlotTaken))
	assert.True(t, IsConflict(err, ""))
	assert.False(t, IsConflict(err, ReasonBlockedCustomer))
	assert.False(t, IsNotFound(err))
	assert.True(t, IsValidation(Validation("", "bad")))
	assert.Equal(t, "bad", Validation("", "bad").Error())
	assert.Equal(t, "date: bad", Validation("date", "bad").Error())
}
