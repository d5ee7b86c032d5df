package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Settings is the tenant configuration surface.
type Settings interface {
	GetTenantSettings(ctx context.Context, tenantID string) (model.Tenant, error)
	PutTenantSettings(ctx context.Context, in booking.TenantSettings) (model.Tenant, error)
	PutService(ctx context.Context, in booking.ServiceInput) (model.Service, error)
	PutRelationship(ctx context.Context, in booking.RelationshipInput) (model.CustomerRelationship, error)
}

type SettingsHandler struct {
	settings Settings
	logger   *zap.Logger
}

func NewSettingsHandler(settings Settings, logger *zap.Logger) *SettingsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsHandler{settings: settings, logger: logger}
}

type tenantSettingsRequest struct {
	Name            string                          `json:"name"`
	Currency        string                          `json:"currency"`
	Availability    availability.TenantAvailability `json:"availability"`
	Policy          model.Policy                    `json:"policy"`
	SlotStepMinutes int                             `json:"slotStepMinutes"`
}

type serviceRequest struct {
	Name            string          `json:"name"`
	DurationMinutes int             `json:"durationMinutes"`
	Price           decimal.Decimal `json:"price"`
	IsActive        *bool           `json:"isActive"`
}

type relationshipRequest struct {
	Status   model.RelationshipStatus `json:"status"`
	IsHidden bool                     `json:"isHidden"`
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if err := requireBusiness(r, chi.URLParam(r, "tenantID")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	t, err := h.settings.GetTenantSettings(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// Put handles PUT /tenants/{tenantID}/settings. Days may use either the
// ranges shape or the older single start/end shape.
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	if err := requireBusiness(r, chi.URLParam(r, "tenantID")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req tenantSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	t, err := h.settings.PutTenantSettings(r.Context(), booking.TenantSettings{
		TenantID:        chi.URLParam(r, "tenantID"),
		Name:            strings.TrimSpace(req.Name),
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		Availability:    req.Availability,
		Policy:          req.Policy,
		SlotStepMinutes: req.SlotStepMinutes,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *SettingsHandler) PutService(w http.ResponseWriter, r *http.Request) {
	if err := requireBusiness(r, chi.URLParam(r, "tenantID")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	svc, err := h.settings.PutService(r.Context(), booking.ServiceInput{
		TenantID:        chi.URLParam(r, "tenantID"),
		ServiceID:       chi.URLParam(r, "serviceID"),
		Name:            strings.TrimSpace(req.Name),
		DurationMinutes: req.DurationMinutes,
		Price:           req.Price,
		IsActive:        active,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (h *SettingsHandler) PutRelationship(w http.ResponseWriter, r *http.Request) {
	if err := requireBusiness(r, chi.URLParam(r, "tenantID")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req relationshipRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	rel, err := h.settings.PutRelationship(r.Context(), booking.RelationshipInput{
		TenantID:   chi.URLParam(r, "tenantID"),
		CustomerID: chi.URLParam(r, "customerID"),
		Status:     model.RelationshipStatus(strings.ToUpper(strings.TrimSpace(string(req.Status)))),
		IsHidden:   req.IsHidden,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}
