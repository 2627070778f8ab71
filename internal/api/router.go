package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/greenloop/pickup-coordinator/internal/notify"
	"github.com/greenloop/pickup-coordinator/internal/pickup"
	"github.com/greenloop/pickup-coordinator/internal/push"
)

type RouterConfig struct {
	Service       *pickup.Service
	Notifications notify.Store
	Hub           *push.Hub
	PgPool        *pgxpool.Pool
	Redis         *redis.Client
	Logger        zerolog.Logger
	Env           string
	Version       string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Hub, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Request endpoints
	r.Post("/requests", createRequestHandler(cfg.Service))
	r.Get("/requests", listRequestsHandler(cfg.Service))
	r.Get("/requests/{id}", getRequestHandler(cfg.Service))
	r.Delete("/requests/{id}", deleteRequestHandler(cfg.Service))
	r.Post("/requests/{id}/claims", claimRequestHandler(cfg.Service))

	// Appointment endpoints
	r.Get("/appointments", listAppointmentsHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/accept", transitionHandler(pickup.TransitionAccept, cfg.Service))
	r.Post("/appointments/{id}/reject", transitionHandler(pickup.TransitionReject, cfg.Service))
	r.Post("/appointments/{id}/cancel", transitionHandler(pickup.TransitionCancel, cfg.Service))
	r.Post("/appointments/{id}/complete", transitionHandler(pickup.TransitionComplete, cfg.Service))

	// Notification endpoints
	r.Get("/notifications", listNotificationsHandler(cfg.Notifications))
	r.Post("/notifications/{id}/read", markNotificationReadHandler(cfg.Notifications))

	// Real-time push channel
	r.Get("/ws", wsHandler(cfg.Hub, cfg.Logger))

	return r
}
