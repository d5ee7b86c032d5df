package grpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
)

// toStatus maps an engine error to a gRPC status whose message is the
// JSON error body, so clients can rebuild the typed error.
func toStatus(err error) error {
	httpStatus, body := apperr.Describe(err)
	code := codes.Internal
	switch {
	case httpStatus == 400:
		code = codes.InvalidArgument
	case httpStatus == 403:
		code = codes.PermissionDenied
	case httpStatus == 404:
		code = codes.NotFound
	case apperr.IsConflict(err, apperr.ReasonSlotTaken), apperr.IsConflict(err, apperr.ReasonSlotUnavailable):
		code = codes.AlreadyExists
	case httpStatus == 409:
		code = codes.FailedPrecondition
	}
	msg, mErr := json.Marshal(body)
	if mErr != nil {
		return status.Error(code, body.Error)
	}
	return status.Error(code, string(msg))
}

// fromStatus reverses toStatus. Transport failures pass through untouched.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var body apperr.Body
	if json.Unmarshal([]byte(st.Message()), &body) != nil || body.Code == "" {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return apperr.Validation(body.Field, body.Error)
	case codes.PermissionDenied:
		return apperr.Forbidden(body.Error)
	case codes.NotFound:
		return apperr.NotFound(body.Resource, body.ID)
	case codes.AlreadyExists, codes.FailedPrecondition:
		return apperr.Conflict(apperr.ConflictReason(body.Code), body.Error, body.Collisions...)
	default:
		return err
	}
}
