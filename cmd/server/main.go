package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/campusline/intake/internal/ai"
	"github.com/campusline/intake/internal/booking"
	"github.com/campusline/intake/internal/config"
	"github.com/campusline/intake/internal/db"
	httpapi "github.com/campusline/intake/internal/http"
	"github.com/campusline/intake/internal/idempotency"
	"github.com/campusline/intake/internal/leads"
	"github.com/campusline/intake/internal/messaging"
	"github.com/campusline/intake/internal/metrics"
	"github.com/campusline/intake/internal/notify"
	"github.com/campusline/intake/internal/pipeline"
	"github.com/campusline/intake/internal/session"
	"github.com/campusline/intake/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "intake-backend").Logger()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Env,
			AttachStacktrace: true,
		}); err != nil {
			logger.Warn().Err(err).Msg("sentry init failed")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx := context.Background()

	var repo db.Repository
	if cfg.DatabaseURL == "" {
		repo = db.NewMemoryStore()
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
	} else {
		store, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate db")
		}
		repo = store
	}

	var (
		history ai.History
		guard   idempotency.Guard
	)
	if cfg.RedisURL == "" {
		history = ai.NewMemoryHistory()
		guard = idempotency.NewMemoryGuard(cfg.IdempotencyTTL)
		logger.Info().Msg("REDIS_URL not set, using in-memory history and idempotency")
	} else {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		history = &ai.RedisHistory{Redis: rdb, TTL: cfg.ConversationTTL}
		guard = &idempotency.RedisGuard{Redis: rdb, TTL: cfg.IdempotencyTTL}
	}

	var engine ai.Engine
	switch {
	case cfg.OpenAIAPIKey != "":
		engine = ai.NewOpenAIEngine(ai.OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Model:        cfg.OpenAIModel,
			SystemPrompt: cfg.SystemPrompt,
			Tools:        tools.Specs(),
			Timeout:      cfg.AITimeout,
		}, history, logger)
		logger.Info().Str("model", cfg.OpenAIModel).Msg("using openai engine")
	case cfg.AIURL != "":
		engine = ai.HTTPEngine{BaseURL: cfg.AIURL, Client: &http.Client{Timeout: cfg.AITimeout}}
		logger.Info().Str("url", cfg.AIURL).Msg("using http engine")
	default:
		engine = ai.MockEngine{}
		logger.Info().Msg("using mock AI engine")
	}

	var gateway messaging.Gateway
	requireOrgCredentials := true
	switch cfg.MessagingProvider {
	case "twilio":
		gateway = messaging.NewTwilioGateway(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom)
		requireOrgCredentials = false
	default:
		gateway = messaging.NewWhatsAppGateway(cfg.WhatsAppAPIBaseURL, cfg.WhatsAppAPIVersion, cfg.SendTimeout)
	}

	m := metrics.New()
	locations := booking.NewLocations(cfg.DefaultTimezone, logger)
	allocator := &booking.Allocator{Repo: repo, Logger: logger}
	scheduler := booking.NewScheduler(allocator)
	sessions := session.NewManager(repo, engine, logger)
	dispatcher := tools.NewDispatcher(repo, scheduler, leads.NewUpserter(cfg.DefaultRegion), m, logger)
	notifier := notify.NewDispatcher(repo, gateway, sessions, m, logger)
	proc := pipeline.New(repo, sessions, engine, dispatcher, notifier, guard, m, logger, pipeline.Options{
		HandoffMessage:        cfg.HandoffMessage,
		RequireOrgCredentials: requireOrgCredentials,
		DefaultTimezone:       cfg.DefaultTimezone,
		Locations:             locations,
	})

	router := httpapi.Router(cfg, httpapi.Deps{
		Repo:      repo,
		Pipeline:  proc,
		Scheduler: scheduler,
		Sessions:  sessions,
		Metrics:   m,
		Locations: locations,
	}, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("provider", cfg.MessagingProvider).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
