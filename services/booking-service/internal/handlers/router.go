package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/libs/runtime"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/metrics"
)

type RouterDeps struct {
	Engine      Engine
	Settings    Settings
	Metrics     *metrics.Registry
	Logger      *zap.Logger
	ReadyChecks []runtime.ReadyCheck
	// Auth, when set, verifies bearer tokens on the tenant API.
	Auth httpx.Middleware
}

// NewRouter mounts probes, /metrics and the versioned tenant API.
func NewRouter(d RouterDeps) http.Handler {
	bookingHandler := NewBookingHandler(d.Engine, d.Logger)
	settingsHandler := NewSettingsHandler(d.Settings, d.Logger)

	r := chi.NewRouter()
	r.Use(d.Metrics.Middleware)

	r.Get("/healthz", runtime.Healthz)
	r.Get("/readyz", runtime.Readyz(d.ReadyChecks...))
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Route("/api/v1/tenants/{tenantID}", func(r chi.Router) {
		if d.Auth != nil {
			r.Use(d.Auth)
		}
		r.Get("/slots", bookingHandler.Slots)
		r.Get("/appointments", bookingHandler.List)
		r.Post("/appointments", bookingHandler.Create)
		r.Get("/appointments/{appointmentID}", bookingHandler.Get)
		r.Post("/appointments/{appointmentID}/cancel", bookingHandler.Cancel)
		r.Get("/summary", bookingHandler.Summary)

		r.Get("/settings", settingsHandler.Get)
		r.Put("/settings", settingsHandler.Put)
		r.Put("/services/{serviceID}", settingsHandler.PutService)
		r.Put("/customers/{customerID}/relationship", settingsHandler.PutRelationship)
	})
	return r
}

const tenantPrefix = "/api/v1/tenants/"

// TenantClientKey buckets rate limiting per tenant and client address. It
// runs before routing, so the tenant comes from the raw path.
func TenantClientKey(r *http.Request) string {
	client := httpx.ClientKey(r)
	rest, ok := strings.CutPrefix(r.URL.Path, tenantPrefix)
	if !ok {
		return client
	}
	tenant, _, _ := strings.Cut(rest, "/")
	if tenant == "" {
		return client
	}
	return tenant + "|" + client
}
