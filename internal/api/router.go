package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/aicq-arbiter/internal/api/middleware"
	"github.com/eldtechnologies/aicq-arbiter/internal/handlers"
)

// Options configures the router.
type Options struct {
	// Redis backs the shared rate limiter; nil selects in-process limits.
	Redis              *redis.Client
	RateLimitWhitelist []string
	AutoBlockEnabled   bool
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(opts.Redis, logger, middleware.RateLimiterConfig{
		Whitelist:        opts.RateLimitWhitelist,
		AutoBlockEnabled: opts.AutoBlockEnabled,
	})
	r.Use(limiter.Middleware)

	// CORS - allow all origins (agents call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.SenderHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", h.Health)
	r.Get("/api", h.Root)

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", h.CreateRoom)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetRoom)
			r.Get("/stats", h.RoomStats)
			r.Get("/events", h.RoomEvents)
			r.Get("/outcomes", h.GetRoomOutcomes)
			r.Get("/messages", h.GetRoomMessages)
			r.Post("/messages", h.PostMessage)

			r.Route("/participants/{pid}", func(r chi.Router) {
				r.Get("/", h.Participant)
				r.Put("/", h.RegisterParticipant)
				r.Put("/role", h.SetRole)
				r.Post("/mute", h.MuteParticipant)
				r.Delete("/mute", h.UnmuteParticipant)
				r.Get("/moderation", h.ParticipantModeration)
			})
		})
	})

	r.Route("/messages/{id}", func(r chi.Router) {
		r.Post("/resolve", h.ResolveMessage)
		r.Post("/unresolve", h.UnresolveMessage)
		r.Get("/decisions", h.MessageDecisions)
		r.Get("/outcome", h.MessageOutcome)
		r.Get("/moderation", h.MessageModeration)
	})

	r.Get("/participants/{pid}/decisions", h.ParticipantDecisions)
	r.Get("/decisions", h.DecisionsInRange)
	r.Get("/moderation", h.ModerationInRange)

	return r
}
