package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Engine is the booking surface the HTTP handlers drive.
type Engine interface {
	GetAvailableSlots(ctx context.Context, q booking.SlotsQuery) (booking.SlotsResult, error)
	CreateAppointment(ctx context.Context, req booking.CreateRequest) (model.Appointment, error)
	CancelAppointment(ctx context.Context, req booking.CancelRequest) (model.Appointment, error)
	ListAppointments(ctx context.Context, q booking.ListQuery) ([]model.Appointment, error)
	GetAppointment(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error)
	Summary(ctx context.Context, tenantID string) (booking.Summary, error)
}

type BookingHandler struct {
	engine Engine
	logger *zap.Logger
}

func NewBookingHandler(engine Engine, logger *zap.Logger) *BookingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookingHandler{engine: engine, logger: logger}
}

type createAppointmentRequest struct {
	ServiceID string         `json:"serviceId"`
	Date      string         `json:"date"`
	StartTime string         `json:"startTime"`
	Customer  model.Customer `json:"customer"`
	CreatedBy model.Actor    `json:"createdBy"`
}

type cancelAppointmentRequest struct {
	CanceledBy model.Actor `json:"canceledBy"`
	Reason     string      `json:"reason"`
}

// Slots handles GET /tenants/{tenantID}/slots?serviceId=&date=.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.engine.GetAvailableSlots(r.Context(), booking.SlotsQuery{
		TenantID:  chi.URLParam(r, "tenantID"),
		ServiceID: strings.TrimSpace(firstNonEmpty(q.Get("serviceId"), q.Get("service_id"))),
		Date:      strings.TrimSpace(q.Get("date")),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Create handles POST /tenants/{tenantID}/appointments.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	who, err := callerFor(r, tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req createAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if !who.anonymous {
		req.CreatedBy = who.actor
		if who.isCustomer() {
			req.Customer.ID = who.customerID
		}
	}
	appt, err := h.engine.CreateAppointment(r.Context(), booking.CreateRequest{
		TenantID:  tenantID,
		ServiceID: strings.TrimSpace(req.ServiceID),
		Date:      strings.TrimSpace(req.Date),
		StartTime: strings.TrimSpace(req.StartTime),
		Customer: model.Customer{
			ID:    strings.TrimSpace(req.Customer.ID),
			Name:  strings.TrimSpace(req.Customer.Name),
			Email: strings.TrimSpace(req.Customer.Email),
			Phone: strings.TrimSpace(req.Customer.Phone),
		},
		CreatedBy: model.Actor(strings.ToUpper(strings.TrimSpace(string(req.CreatedBy)))),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

// Cancel handles POST /tenants/{tenantID}/appointments/{appointmentID}/cancel.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, appointmentID := chi.URLParam(r, "tenantID"), chi.URLParam(r, "appointmentID")
	who, err := callerFor(r, tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req cancelAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if !who.anonymous {
		req.CanceledBy = who.actor
	}
	if who.isCustomer() {
		current, err := h.engine.GetAppointment(r.Context(), tenantID, appointmentID)
		if err == nil {
			err = who.ownedBy(current)
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	appt, err := h.engine.CancelAppointment(r.Context(), booking.CancelRequest{
		TenantID:      tenantID,
		AppointmentID: appointmentID,
		CanceledBy:    model.Actor(strings.ToUpper(strings.TrimSpace(string(req.CanceledBy)))),
		Reason:        strings.TrimSpace(req.Reason),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// List handles GET /tenants/{tenantID}/appointments?date=&customerId=&status=.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	who, err := callerFor(r, tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	customerID := strings.TrimSpace(q.Get("customerId"))
	if who.isCustomer() {
		customerID = who.customerID
	}
	out, err := h.engine.ListAppointments(r.Context(), booking.ListQuery{
		TenantID:   tenantID,
		Date:       strings.TrimSpace(q.Get("date")),
		CustomerID: customerID,
		Status:     model.Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": out})
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	who, err := callerFor(r, tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	appt, err := h.engine.GetAppointment(r.Context(), tenantID, chi.URLParam(r, "appointmentID"))
	if err == nil {
		err = who.ownedBy(appt)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *BookingHandler) Summary(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if err := requireBusiness(r, tenantID); err != nil {
		h.writeError(w, r, err)
		return
	}
	sum, err := h.engine.Summary(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *BookingHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.logger, err)
}

func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status, body := apperr.Describe(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("request_id", httpx.RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON rejects unknown fields and trailing data.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Validation("", "request body too large")
		}
		return apperr.Validation("", "invalid json body: "+err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperr.Validation("", "request body must contain a single json object")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
