package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Service SchedulingService
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(ActorMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Availability
	r.Get("/providers/{id}/slots", listSlotsHandler(cfg.Service))

	// Provider calendar management
	r.Post("/providers/{id}/working-hours", addWorkingHoursHandler(cfg.Service))
	r.Get("/providers/{id}/working-hours", listWorkingHoursHandler(cfg.Service))
	r.Post("/providers/{id}/blocked-intervals", addBlockedIntervalHandler(cfg.Service))
	r.Get("/providers/{id}/blocked-intervals", listBlockedIntervalsHandler(cfg.Service))

	// Appointments
	r.Post("/appointments", bookAppointmentHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/attendance", markAttendanceHandler(cfg.Service))

	// Patients
	r.Get("/patients/{id}/appointments", listPatientAppointmentsHandler(cfg.Service))
	r.Post("/patients/{id}/block", blockPatientHandler(cfg.Service, true))
	r.Post("/patients/{id}/unblock", blockPatientHandler(cfg.Service, false))

	return r
}
