package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/idempotency"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/observability"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/rateLimit"
	"github.com/rs/cors"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware)
	r.Use(TracingMiddleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
	}).Handler)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Public catalog reads consumed by the booking UI.
	r.Get("/v1/pandits", h.ListApprovedPandits)
	r.Get("/v1/pujas/{id}", h.GetPujaType)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.cfg.JWTSecret))
		r.Use(RateLimitMiddleware(rl))
		r.Use(IdempotencyMiddleware(idemp))

		r.Post("/v1/bookings", h.CreateBooking)
		r.Get("/v1/bookings", h.ListMyBookings)
		r.Get("/v1/bookings/{id}", h.GetBooking)
		r.Post("/v1/bookings/{id}/settlement", h.BeginSettlement)
		r.Post("/v1/bookings/{id}/settlement/verify", h.VerifySettlement)
		r.Post("/v1/bookings/{id}/transition", h.TransitionBooking)
		r.Get("/v1/pandits/{id}/bookings", h.ListPanditBookings)
		r.Get("/v1/admin/bookings", h.ListAllBookings)
		r.Patch("/v1/admin/pandits/{id}/approval", h.ApprovePandit)
	})

	return r
}
