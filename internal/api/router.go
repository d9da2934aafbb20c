package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/dispatch"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service    *appointment.Service
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	PgPool     *pgxpool.Pool
	Redis      *redis.Client
	Env        string
	Version    string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = dispatch.New(cfg.Service, logger)
	}

	h := &handlers{svc: cfg.Service, dispatcher: dispatcher, logger: logger.Named("http")}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	if cfg.Metrics != nil {
		r.Use(LoggingMiddleware(h.logger, cfg.Metrics))
	} else {
		r.Use(LoggingMiddleware(h.logger, nil))
	}

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Route("/doctors/{doctorID}/slots", func(r chi.Router) {
		r.Get("/", h.listSlots)
		r.Post("/", h.addSlot)
		r.Delete("/", h.removeSlot)
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.createAppointment)
		r.Get("/", h.listAppointments)
		r.Get("/{id}", h.getAppointment)
		r.Post("/{id}/reschedule", h.rescheduleAppointment)
		r.Post("/{id}/cancel", h.cancelAppointment)
		r.Post("/{id}/approve", h.approveAppointment)
		r.Post("/{id}/outcome", h.recordOutcome)
	})

	return r
}
