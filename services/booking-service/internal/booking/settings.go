package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
)

type TenantSettings struct {
	TenantID        string                          `json:"tenantId" validate:"required,max=64"`
	Name            string                          `json:"name" validate:"max=200"`
	Currency        string                          `json:"currency" validate:"omitempty,iso4217"`
	Availability    availability.TenantAvailability `json:"availability"`
	Policy          model.Policy                    `json:"policy"`
	SlotStepMinutes int                             `json:"slotStepMinutes" validate:"gte=0,lte=60"`
}

// PutTenantSettings replaces a tenant's availability and booking policy.
// Malformed schedules are refused here so the resolver never has to.
func (s *Service) PutTenantSettings(ctx context.Context, in TenantSettings) (model.Tenant, error) {
	if err := s.check(in); err != nil {
		return model.Tenant{}, err
	}
	if err := in.Availability.Validate(); err != nil {
		return model.Tenant{}, apperr.Validation("availability", err.Error())
	}

	now := s.clock.Now().UTC()
	t := model.Tenant{
		ID:              in.TenantID,
		Name:            in.Name,
		Currency:        in.Currency,
		Availability:    in.Availability,
		Policy:          in.Policy,
		SlotStepMinutes: in.SlotStepMinutes,
		UpdatedAt:       now,
	}
	if t.Currency == "" {
		t.Currency = defaultCurrency
	}
	evt, err := outbox.ForTenantSettings(ctx, t.ID, "availability", now)
	if err != nil {
		return model.Tenant{}, err
	}
	if err := s.settings.PutTenant(ctx, t, evt); err != nil {
		return model.Tenant{}, fmt.Errorf("save tenant: %w", err)
	}
	s.invalidate(ctx, t.ID)
	return t, nil
}

type ServiceInput struct {
	TenantID        string          `json:"tenantId" validate:"required"`
	ServiceID       string          `json:"serviceId" validate:"required,max=64"`
	Name            string          `json:"name" validate:"required,max=200"`
	DurationMinutes int             `json:"durationMinutes" validate:"gt=0,lte=1439"`
	Price           decimal.Decimal `json:"price"`
	IsActive        bool            `json:"isActive"`
}

func (s *Service) PutService(ctx context.Context, in ServiceInput) (model.Service, error) {
	if err := s.check(in); err != nil {
		return model.Service{}, err
	}
	if in.Price.IsNegative() {
		return model.Service{}, apperr.Validation("price", "must not be negative")
	}
	if _, err := s.loadTenant(ctx, in.TenantID); err != nil {
		return model.Service{}, err
	}

	svc := model.Service{
		ID:              in.ServiceID,
		TenantID:        in.TenantID,
		Name:            in.Name,
		DurationMinutes: in.DurationMinutes,
		Price:           in.Price.Round(2),
		IsActive:        in.IsActive,
	}
	evt, err := outbox.ForTenantSettings(ctx, in.TenantID, "services", s.clock.Now())
	if err != nil {
		return model.Service{}, err
	}
	if err := s.settings.PutService(ctx, svc, evt); err != nil {
		return model.Service{}, fmt.Errorf("save service: %w", err)
	}
	s.invalidate(ctx, in.TenantID)
	return svc, nil
}

type RelationshipInput struct {
	TenantID   string                   `json:"tenantId" validate:"required"`
	CustomerID string                   `json:"customerId" validate:"required"`
	Status     model.RelationshipStatus `json:"status" validate:"required,oneof=ACTIVE BLOCKED"`
	IsHidden   bool                     `json:"isHidden"`
}

func (s *Service) PutRelationship(ctx context.Context, in RelationshipInput) (model.CustomerRelationship, error) {
	if err := s.check(in); err != nil {
		return model.CustomerRelationship{}, err
	}
	if _, err := s.loadTenant(ctx, in.TenantID); err != nil {
		return model.CustomerRelationship{}, err
	}

	rel, _, err := s.tenants.GetRelationship(ctx, in.TenantID, in.CustomerID)
	if err != nil {
		return model.CustomerRelationship{}, fmt.Errorf("load relationship: %w", err)
	}
	rel.TenantID = in.TenantID
	rel.CustomerID = in.CustomerID
	rel.Status = in.Status
	rel.IsHidden = in.IsHidden

	evt, err := outbox.ForTenantSettings(ctx, in.TenantID, "relationships", s.clock.Now())
	if err != nil {
		return model.CustomerRelationship{}, err
	}
	if err := s.settings.PutRelationship(ctx, rel, evt); err != nil {
		return model.CustomerRelationship{}, fmt.Errorf("save relationship: %w", err)
	}
	return rel, nil
}

// GetTenantSettings returns the tenant as the engine sees it.
func (s *Service) GetTenantSettings(ctx context.Context, tenantID string) (model.Tenant, error) {
	return s.loadTenant(ctx, tenantID)
}

// InvalidateTenant drops cached settings; used when another replica reports a change.
func (s *Service) InvalidateTenant(ctx context.Context, tenantID string) error {
	if s.cache == nil {
		return nil
	}
	if tenantID == "" {
		return errors.New("tenant id is empty")
	}
	return s.cache.Invalidate(ctx, tenantID)
}

func (s *Service) invalidate(ctx context.Context, tenantID string) {
	if err := s.InvalidateTenant(ctx, tenantID); err != nil {
		s.logger.Warn("tenant cache invalidation failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}
