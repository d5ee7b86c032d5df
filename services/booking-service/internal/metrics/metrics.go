// Package metrics exposes the booking engine's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// Registry owns a private Prometheus registry. A nil *Registry is valid
// and records nothing, which keeps tests free of global state.
type Registry struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	bookings        *prometheus.CounterVec
	cancellations   *prometheus.CounterVec
	completions     prometheus.Counter
	slotQueries     prometheus.Counter
	slotsReturned   prometheus.Histogram
	guardRejections *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_attempts_total",
			Help: "Appointment commit attempts by outcome",
		}, []string{"outcome"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_cancellations_total",
			Help: "Appointments canceled, by actor",
		}, []string{"canceled_by"}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_completions_total",
			Help: "Appointments moved to COMPLETED by the lazy sweep",
		}),
		slotQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_slot_queries_total",
			Help: "Available slot computations served",
		}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "booking_slots_returned",
			Help:    "Number of slots returned per query",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200},
		}),
		guardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_guard_rejections_total",
			Help: "Customer bookings refused by policy, by reason",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		r.requestDuration, r.bookings, r.cancellations, r.completions,
		r.slotQueries, r.slotsReturned, r.guardRejections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	return r
}

// Handler serves /metrics.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer exposes the registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Middleware records request latency labeled by chi route pattern, so
// path parameters do not explode cardinality.
func (r *Registry) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rc := chi.RouteContext(req.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.requestDuration.WithLabelValues(req.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

func (r *Registry) Committed(string) {
	if r != nil {
		r.bookings.WithLabelValues("booked").Inc()
	}
}

func (r *Registry) SlotTaken(string) {
	if r != nil {
		r.bookings.WithLabelValues("slot_taken").Inc()
	}
}

func (r *Registry) Canceled(_ string, by model.Actor) {
	if r != nil {
		r.cancellations.WithLabelValues(string(by)).Inc()
	}
}

func (r *Registry) Completed(_ string, n int) {
	if r != nil {
		r.completions.Add(float64(n))
	}
}

func (r *Registry) SlotQuery(returned int) {
	if r == nil {
		return
	}
	r.slotQueries.Inc()
	r.slotsReturned.Observe(float64(returned))
}

func (r *Registry) Rejected(reason string) {
	if r != nil {
		r.guardRejections.WithLabelValues(reason).Inc()
	}
}
