package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// caller is who a request acts as. Anonymous callers are trusted internal
// clients and name the actor in the body; a verified token overrides it.
type caller struct {
	actor      model.Actor
	customerID string
	anonymous  bool
}

func callerFor(r *http.Request, tenantID string) (caller, error) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return caller{anonymous: true}, nil
	}
	switch claims.Role {
	case auth.RoleBusiness:
		if claims.TenantID != tenantID {
			return caller{}, apperr.Forbidden("token belongs to another tenant")
		}
		return caller{actor: model.ActorBusiness}, nil
	case auth.RoleCustomer:
		if claims.TenantID != "" && claims.TenantID != tenantID {
			return caller{}, apperr.Forbidden("token belongs to another tenant")
		}
		return caller{actor: model.ActorCustomer, customerID: claims.Subject}, nil
	default:
		return caller{}, apperr.Forbidden("role " + claims.Role + " cannot use the booking api")
	}
}

func (c caller) isCustomer() bool {
	return !c.anonymous && c.actor == model.ActorCustomer
}

// requireBusiness admits anonymous callers and business tokens of tenantID.
func requireBusiness(r *http.Request, tenantID string) error {
	c, err := callerFor(r, tenantID)
	if err != nil {
		return err
	}
	if c.isCustomer() {
		return apperr.Forbidden("business role required")
	}
	return nil
}

// ownedBy hides other customers' appointments from a customer token.
func (c caller) ownedBy(appt model.Appointment) error {
	if c.isCustomer() && appt.Customer.ID != c.customerID {
		return apperr.NotFound("appointment", appt.ID)
	}
	return nil
}
