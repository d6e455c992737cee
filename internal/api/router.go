package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/booking"
	"github.com/hackgods/clinic-booking-engine/internal/leads"
)

type BookingService interface {
	Book(ctx context.Context, req booking.BookingRequest) (booking.BookingResult, error)
	AvailableSlots(ctx context.Context, f booking.SlotFilter) ([]booking.Slot, error)
}

type LeadService interface {
	Submit(ctx context.Context, req leads.SubmitRequest) (leads.SubmitResult, error)
	List(ctx context.Context, f leads.ListFilter) ([]leads.Lead, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status leads.Status) (*leads.Lead, error)
	LinkToAppointment(ctx context.Context, id, appointmentID uuid.UUID) (*leads.Lead, error)
}

type RouterConfig struct {
	Bookings        BookingService
	Leads           LeadService
	Postgres        Pinger
	Redis           RedisPinger
	Logger          zerolog.Logger
	Metrics         http.Handler // defaults to promhttp.Handler()
	DefaultClinicID uuid.UUID
	Env             string
	Version         string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	metricsHandler := cfg.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Get("/slots", listSlotsHandler(cfg.Bookings, cfg.DefaultClinicID))
	r.With(RequireUser).Post("/bookings", createBookingHandler(cfg.Bookings))
	r.Post("/leads", submitLeadHandler(cfg.Leads))

	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireUser)
		r.Use(RequireRole("admin", "staff"))
		r.Get("/leads", listLeadsHandler(cfg.Leads))
		r.Patch("/leads/{id}/status", updateLeadStatusHandler(cfg.Leads))
		r.Post("/leads/{id}/link", linkLeadHandler(cfg.Leads))
	})

	return r
}
