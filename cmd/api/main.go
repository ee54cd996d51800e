// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/helpdeskai/support-platform/internal/access"
	"github.com/helpdeskai/support-platform/internal/billing"
	"github.com/helpdeskai/support-platform/internal/config"
	"github.com/helpdeskai/support-platform/internal/events"
	"github.com/helpdeskai/support-platform/internal/handler"
	"github.com/helpdeskai/support-platform/internal/llm"
	"github.com/helpdeskai/support-platform/internal/middleware"
	"github.com/helpdeskai/support-platform/internal/model"
	"github.com/helpdeskai/support-platform/internal/presence"
	"github.com/helpdeskai/support-platform/internal/ratelimit"
	"github.com/helpdeskai/support-platform/internal/scheduler"
	"github.com/helpdeskai/support-platform/internal/service"
	"github.com/helpdeskai/support-platform/internal/store"
	"github.com/helpdeskai/support-platform/internal/usage"
	"github.com/helpdeskai/support-platform/pkg/logger"
	"github.com/helpdeskai/support-platform/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "support-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Durable aggregates live in memory; presence and rate-limit buckets
	// move to Redis when an address is configured.
	memory := store.NewMemory()

	var presenceStore store.PresenceStore = memory
	var bucketStore store.RateLimitStore = memory
	if cfg.RedisAddr != "" {
		redisStore, err := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Error("failed to connect to Redis", zap.Error(err))
			os.Exit(1)
		}
		defer redisStore.Close()
		presenceStore = redisStore
		bucketStore = redisStore
		log.Info("using Redis for presence and rate-limit buckets", zap.String("addr", cfg.RedisAddr))
	}

	// NATS powers the event feed and notifications; without it the engine
	// still runs, it just stops emitting.
	var natsClient *events.Client
	var publisher events.Publisher = events.NopPublisher{}
	var notifier events.Notifier = events.NopNotifier{}
	var feed *events.Feed

	natsClient, err = events.Connect(ctx, events.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Warn("failed to connect to NATS, event feed disabled", zap.Error(err))
		natsClient = nil
	} else {
		defer natsClient.Close()
		feed = events.NewFeed(natsClient)
		if err := feed.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
		publisher = feed
		notifier = events.NewNATSNotifier(natsClient, log)
	}

	var llmClient llm.Client
	if cfg.AnthropicAPIKey != "" && cfg.DefaultLLM == "anthropic" {
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	} else if cfg.OpenAIAPIKey != "" {
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	} else if cfg.AnthropicAPIKey != "" {
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	} else {
		log.Error("no LLM API key configured")
		os.Exit(1)
	}
	if err != nil {
		log.Error("failed to create LLM client", zap.Error(err))
		os.Exit(1)
	}
	log.Info("LLM client ready", zap.String("provider", llmClient.Name()))

	checker := access.ClaimsChecker{}

	limiter := ratelimit.New(bucketStore, ratelimit.Config{
		model.LimitAIResponse: {
			Window:        cfg.AIResponseWindow,
			MaxRequests:   cfg.AIResponseMaxRequests,
			BlockDuration: cfg.AIResponseBlockDuration,
		},
		model.LimitUserMessage: {
			Window:        cfg.UserMessageWindow,
			MaxRequests:   cfg.UserMessageMaxRequests,
			BlockDuration: cfg.UserMessageBlockDuration,
		},
		model.LimitFileUpload: {
			Window:        cfg.FileUploadWindow,
			MaxRequests:   cfg.FileUploadMaxRequests,
			BlockDuration: cfg.FileUploadBlockDuration,
		},
	}, log)

	tracker := presence.New(presenceStore, checker, cfg.PresenceTTL, cfg.PresenceCleanupBatch, log)
	aggregator := usage.New(memory, cfg.DailyUsageRetention, cfg.HourlyUsageRetention, log)
	plans := billing.NewStorePlans(memory)

	conversationSvc := service.NewConversationService(memory, memory, checker, publisher, notifier, log)
	messageSvc := service.NewMessageService(service.MessageDeps{
		Conversations: memory,
		Messages:      memory,
		Companies:     memory,
		ConvService:   conversationSvc,
		Limiter:       limiter,
		Plans:         plans,
		LLM:           llmClient,
		Usage:         aggregator,
		Publisher:     publisher,
		Notifier:      notifier,
		Access:        checker,
		Logger:        log,
		LLMTimeout:    cfg.LLMTimeout,
	})

	// Background maintenance: presence expiry, bucket sweep, usage rollup.
	jobs := scheduler.New(log)
	jobs.Add("presence_cleanup", cfg.PresenceCleanupInterval, func(ctx context.Context) error {
		_, err := tracker.Cleanup(ctx)
		return err
	})
	jobs.Add("bucket_sweep", cfg.BucketSweepInterval, func(ctx context.Context) error {
		_, err := limiter.Sweep(ctx)
		return err
	})
	jobs.Add("usage_rollup", cfg.UsageRollupInterval, func(ctx context.Context) error {
		return aggregator.Rollup(ctx)
	})
	jobs.Add("usage_prune", cfg.UsageRollupInterval, func(ctx context.Context) error {
		_, err := aggregator.Prune(ctx)
		return err
	})
	jobs.Start(ctx)

	healthHandler := handler.NewHealthHandler(natsClient)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, log)
	presenceHandler := handler.NewPresenceHandler(tracker, log)
	rateLimitHandler := handler.NewRateLimitHandler(limiter, log)
	usageHandler := handler.NewUsageHandler(memory, log)
	streamHandler := handler.NewStreamHandler(feed, conversationSvc, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.Throttle(cfg.HTTPRateLimitRequests, cfg.HTTPRateLimitWindow))

		r.Post("/messages", messageHandler.Send)
		r.Get("/rate-limit", rateLimitHandler.Check)
		r.Get("/usage", usageHandler.Get)
		r.Post("/presence/heartbeat", presenceHandler.Heartbeat)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				agentOnly := middleware.RequireRole("admin", "support")
				r.With(agentOnly).Post("/claim", conversationHandler.Claim)
				r.With(agentOnly).Post("/resolve", conversationHandler.Resolve)
				r.Post("/handoff", messageHandler.RequestHandoff)
				r.Post("/read", messageHandler.MarkRead)

				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.SendAsAgent)

				r.Post("/typing", presenceHandler.SetTyping)
				r.Get("/typing", presenceHandler.Typing)
				r.Post("/viewing", presenceHandler.SetViewing)
				r.Get("/viewing", presenceHandler.Viewing)

				r.Get("/events", streamHandler.Events)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	cancel()
	jobs.Wait()

	log.Info("server stopped")
}
