package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/uploads"
)

type RouterConfig struct {
	Service        *clinic.Service
	Auth           *auth.Service
	Uploads        *uploads.Storage
	Hub            *EventHub
	RateLimiter    *RateLimiter
	Store          Pinger
	StoreName      string
	Redis          *redis.Client
	Logger         *zap.Logger
	AllowedOrigins []string
	MaxUploadBytes int64
	TrustProxy     bool
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewEventHub(cfg.Logger)
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}

	r := chi.NewRouter()

	// Apply middleware
	if cfg.TrustProxy {
		// forwarded headers are client controlled unless a proxy overwrites them
		r.Use(middleware.RealIP)
	}
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints
	health := NewHealthHandler(cfg.Store, cfg.StoreName, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/uploads/{name}", serveUploadHandler(cfg.Uploads))

	limited := cfg.RateLimiter.Middleware
	svc := cfg.Service

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusHandler)
		r.Get("/doctors", listOpenSlotsHandler(svc))
		r.With(limited).Post("/contact", contactHandler(svc))
		r.With(limited).Post("/subscribe", subscribeHandler(svc))

		r.Route("/citizen", func(r chi.Router) {
			r.With(limited).Post("/register", registerHandler(cfg.Auth))
			r.With(limited).Post("/login", loginHandler(cfg.Auth, false))
			r.Post("/forgot", forgotHandler)

			r.Group(func(r chi.Router) {
				r.Use(RequireCaller(cfg.Auth))
				r.Get("/doctors", listOpenSlotsHandler(svc))
				r.Post("/appointments", requestAppointmentHandler(svc))
				r.Get("/appointments", myAppointmentsHandler(svc))
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.With(limited).Post("/login", loginHandler(cfg.Auth, true))
			r.Post("/forgot", forgotHandler)

			r.Group(func(r chi.Router) {
				r.Use(RequireCaller(cfg.Auth))
				r.Use(RequireAdmin)

				r.Post("/create-user", createUserHandler(cfg.Auth))
				r.Get("/users", listUsersHandler(cfg.Auth))

				r.Get("/doctors", listDoctorsHandler(svc))
				r.Post("/doctors", createDoctorHandler(svc))
				r.Post("/doctors/{id}/availability", addSlotHandler(svc))
				r.Delete("/doctors/{id}/availability", removeSlotHandler(svc))

				r.Get("/appointments", listAllAppointmentsHandler(svc))
				r.Post("/appointments/{id}/approve", approveHandler(svc))
				r.Post("/appointments/{id}/reject", rejectHandler(svc))
				r.Post("/appointments/{id}/upload", uploadHandler(svc, cfg.Uploads, cfg.MaxUploadBytes))
				r.Delete("/appointments/{id}/attachments/{name}", detachHandler(svc))

				r.Get("/events", cfg.Hub.Handler(svc, cfg.AllowedOrigins))
			})
		})
	})

	return r
}
