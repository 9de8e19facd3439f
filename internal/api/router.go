package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/finml-sage/agent-swarm-protocol/internal/api/middleware"
	"github.com/finml-sage/agent-swarm-protocol/internal/handlers"
	"github.com/finml-sage/agent-swarm-protocol/internal/store"
)

// maxBodyBytes bounds any request body; generous enough for a sealed,
// base64-inflated envelope.New(MaxContentBytes) content field plus the
// surrounding JSON.
const maxBodyBytes = 64 * 1024

// RouterConfig bundles NewRouter's dependencies.
type RouterConfig struct {
	Handler      *handlers.Handler
	Store        store.Store
	KeyResolver  middleware.KeyResolver
	RedisClient  *redis.Client
	RateLimitCfg middleware.RateLimiterConfig
	Logger       zerolog.Logger
}

// NewRouter builds the node's HTTP surface: inbound envelope delivery,
// membership management, the wake callback, and health/metrics endpoints.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Metrics)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	r.Use(middleware.ValidateRequest)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(chimw.Recoverer)

	limiter := middleware.NewRateLimiter(cfg.RedisClient, cfg.Logger, cfg.RateLimitCfg)
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Agent-ID", "X-Wake-Secret"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := cfg.Handler
	auth := middleware.NewEnvelopeAuth(cfg.KeyResolver, cfg.Store)

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/swarm/health", h.Health)
	r.Get("/swarm/info/{agentID}", h.SwarmInfo)
	r.Get("/swarm/{swarmID}", h.GetSwarm)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireValidEnvelope)
		r.Post("/swarm/message", h.ReceiveMessage)
	})

	r.Post("/swarm/create", h.CreateSwarm)
	r.Post("/swarm/join", h.Join)
	r.Post("/swarm/{swarmID}/invite", h.IssueInvite)
	r.Post("/swarm/{swarmID}/approve/{agentID}", h.ApproveMember)
	r.Post("/swarm/{swarmID}/leave", h.Leave)
	r.Post("/swarm/{swarmID}/kick/{agentID}", h.Kick)
	r.Post("/swarm/{swarmID}/transfer/{agentID}", h.Transfer)
	r.Post("/swarm/{swarmID}/mute/{agentID}", h.Mute)
	r.Post("/swarm/{swarmID}/unmute/{agentID}", h.Unmute)

	r.Get("/swarm/export", h.ExportState)
	r.Post("/swarm/import", h.ImportState)

	r.Post("/api/wake", h.Wake)

	return r
}
