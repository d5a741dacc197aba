package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hackgods/dna-testing-scheduling/internal/appointment"
	"github.com/hackgods/dna-testing-scheduling/internal/kit"
	"github.com/hackgods/dna-testing-scheduling/internal/payment"
	"github.com/hackgods/dna-testing-scheduling/internal/reservation"
	"github.com/hackgods/dna-testing-scheduling/internal/slot"
)

type RouterConfig struct {
	Slots        *slot.Allocator
	Reservations *reservation.Service
	Appointments *appointment.Service
	Payments     *payment.Coordinator
	Kits         *kit.Manager

	Postgres Pinger
	Redis    Pinger
	Gatherer prometheus.Gatherer
	Limiter  *rate.Limiter
	Logger   zerolog.Logger

	JWTSecret          string
	GatewayChecksumKey string
	Env                string
	Version            string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	log := cfg.Logger

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(RecoverMiddleware(log))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.Limiter))

		r.Post("/payments/webhook", paymentWebhookHandler(cfg.Payments, cfg.GatewayChecksumKey, log))

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.JWTSecret))

			r.Post("/slots", createSlotHandler(cfg.Slots, log))
			r.Get("/slots", listAvailableSlotsHandler(cfg.Slots, log))
			r.Get("/slots/{id}", getSlotHandler(cfg.Slots, log))
			r.Patch("/slots/{id}/status", setSlotStatusHandler(cfg.Slots, log))

			r.Post("/reservations", createReservationHandler(cfg.Reservations, log))
			r.Get("/reservations", listReservationsHandler(cfg.Reservations, log))
			r.Get("/reservations/{id}", getReservationHandler(cfg.Reservations, log))
			r.Post("/reservations/{id}/confirm", confirmReservationHandler(cfg.Reservations, log))
			r.Post("/reservations/{id}/cancel", cancelReservationHandler(cfg.Reservations, log))
			r.Post("/reservations/{id}/convert", convertReservationHandler(cfg.Reservations, log))

			r.Post("/appointments", bookAppointmentHandler(cfg.Appointments, log))
			r.Get("/appointments", listAppointmentsHandler(cfg.Appointments, log))
			r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments, log))
			r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Appointments, log))
			r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments, log))
			r.Post("/appointments/{id}/kit", assignKitHandler(cfg.Appointments, log))
			r.Post("/appointments/{id}/samples", collectSamplesHandler(cfg.Appointments, log))
			r.Post("/appointments/{id}/testing", startTestingHandler(cfg.Appointments, log))
			r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Appointments, log))
			r.Post("/samples/{id}/result", recordResultHandler(cfg.Appointments, log))

			r.Post("/appointments/{id}/payments", requestPaymentHandler(cfg.Payments, log))
			r.Get("/appointments/{id}/payments", listPaymentsHandler(cfg.Payments, log))
			r.Get("/payments/{id}", getPaymentHandler(cfg.Payments, log))
			r.Post("/payments/{id}/cash", confirmCashHandler(cfg.Payments, log))
			r.Post("/payments/{id}/fail", failPaymentHandler(cfg.Payments, log))
			r.Post("/payments/{id}/refund", refundPaymentHandler(cfg.Payments, log))

			r.Post("/kits", createKitHandler(cfg.Kits, log))
			r.Get("/kits/{id}", getKitHandler(cfg.Kits, log))
			r.Post("/kits/{id}/assign", assignKitToUserHandler(cfg.Kits, log))
			r.Post("/kits/{id}/used", markKitUsedHandler(cfg.Kits, log))
			r.Post("/kits/{id}/return", returnKitHandler(cfg.Kits, log))
			r.Delete("/kits/{id}", deleteKitHandler(cfg.Kits, log))
		})
	})

	return r
}
