// Command swarmd runs one node of the agent swarm protocol: it serves the
// HTTP receiver, holds the local agent's durable membership and inbox/outbox
// state, and drives the wake trigger that hands control back to the agent
// runtime.
package main

import (
	"context"
	"crypto/ed25519"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/finml-sage/agent-swarm-protocol/internal/api"
	"github.com/finml-sage/agent-swarm-protocol/internal/api/middleware"
	"github.com/finml-sage/agent-swarm-protocol/internal/config"
	"github.com/finml-sage/agent-swarm-protocol/internal/handlers"
	"github.com/finml-sage/agent-swarm-protocol/internal/invoker"
	"github.com/finml-sage/agent-swarm-protocol/internal/membership"
	"github.com/finml-sage/agent-swarm-protocol/internal/notifications"
	"github.com/finml-sage/agent-swarm-protocol/internal/outbox"
	"github.com/finml-sage/agent-swarm-protocol/internal/session"
	"github.com/finml-sage/agent-swarm-protocol/internal/store"
	"github.com/finml-sage/agent-swarm-protocol/internal/transport"
	"github.com/finml-sage/agent-swarm-protocol/internal/waketrigger"
)

func main() {
	cfg := config.Load()

	logger := newLogger(cfg)
	log.Logger = logger

	privRaw, err := cfg.LoadPrivateKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("loading private key")
	}
	if len(privRaw) != ed25519.PrivateKeySize {
		logger.Fatal().Int("size", len(privRaw)).Msg("private key has the wrong size")
	}
	selfPriv := ed25519.PrivateKey(privRaw)

	ctx := context.Background()

	st, err := store.NewSQLiteStore(ctx, cfg.DatabasePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("opening store")
	}
	defer st.Close()

	redisClient := redis.NewClient(mustParseRedisURL(cfg.RedisURL, logger))
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis not reachable at startup; rate limiting will fail open until it recovers")
	}

	mem := membership.New(st, cfg.PubKeyCacheTTL)
	xport := transport.New(cfg.RequestTimeout, cfg.AgentID)
	notifier := notifications.New(xport, st, selfPriv, cfg.AgentID)
	wake := waketrigger.New(cfg.WakeEndpoint, cfg.WakeSharedSecret, cfg.WakeTimeout)

	sessions, err := session.NewManager(cfg.SessionPath, cfg.SessionTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("loading session state")
	}

	inv := buildInvoker(cfg)

	prefs := waketrigger.DefaultPreferences()

	sweeper := outbox.NewSweeper(st, xport, logger, 10*time.Second, 20)
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweeper.Run(sweepCtx)

	h := handlers.NewHandler(handlers.Deps{
		Store:          st,
		Redis:          redisClient,
		Membership:     mem,
		Transport:      xport,
		Notifier:       notifier,
		Wake:           wake,
		Sessions:       sessions,
		Invoker:        inv,
		Logger:         logger,
		SelfID:         cfg.AgentID,
		SelfEndpoint:   cfg.Endpoint,
		SelfPriv:       selfPriv,
		Prefs:          prefs,
		PubKeyCacheTTL: cfg.PubKeyCacheTTL,
	})

	router := api.NewRouter(api.RouterConfig{
		Handler:     h,
		Store:       st,
		KeyResolver: mem,
		RedisClient: redisClient,
		RateLimitCfg: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
			PerSenderLimit:   cfg.PerSenderRateLimit,
			PerSenderWindow:  cfg.PerSenderWindow,
			PerIPJoinLimit:   cfg.PerIPJoinLimit,
			PerIPJoinWindow:  cfg.PerIPJoinWindow,
		},
		Logger: logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("agent_id", cfg.AgentID).Msg("swarmd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stopSweep()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func mustParseRedisURL(rawURL string, logger zerolog.Logger) *redis.Options {
	if rawURL == "" {
		return &redis.Options{Addr: "127.0.0.1:6379"}
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parsing REDIS_URL")
	}
	return opts
}

func buildInvoker(cfg *config.Config) invoker.Invoker {
	switch cfg.InvokerMethod {
	case config.InvokerTmux:
		return invoker.Tmux{Target: cfg.InvokerTarget}
	case config.InvokerSubprocess:
		return invoker.Subprocess{Command: cfg.InvokerTarget}
	case config.InvokerWebhook:
		return invoker.Webhook{URL: cfg.InvokerTarget}
	case config.InvokerSDK:
		return invoker.SDK{
			SocketPath: cfg.InvokerTarget,
			Dial: func(ctx context.Context, network, addr string) (interface {
				Write([]byte) (int, error)
				Close() error
			}, error) {
				var d net.Dialer
				conn, err := d.DialContext(ctx, network, addr)
				if err != nil {
					return nil, err
				}
				return conn, nil
			},
		}
	default:
		return invoker.Noop{}
	}
}
