package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/channel-router/internal/agent"
	"github.com/openclaw/channel-router/internal/config"
	"github.com/openclaw/channel-router/internal/database"
	"github.com/openclaw/channel-router/internal/events"
	"github.com/openclaw/channel-router/internal/handler"
	"github.com/openclaw/channel-router/internal/jobs"
	"github.com/openclaw/channel-router/internal/middleware"
	"github.com/openclaw/channel-router/internal/model"
	"github.com/openclaw/channel-router/internal/redis"
	"github.com/openclaw/channel-router/internal/repository"
	"github.com/openclaw/channel-router/internal/service"
	"github.com/openclaw/channel-router/internal/sse"
)

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setLogLevel(cfg.LogLevel)

	production := isProduction()
	if err := cfg.Validate(production); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
	err = db.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	backends := []events.Backend{events.LogBackend{}, events.NewStreamBackend(broker)}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaBackend := events.NewKafkaBackend(events.NewKafkaWriter(cfg.KafkaBrokers), cfg.KafkaEventsTopic)
		defer func() {
			if err := kafkaBackend.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close kafka writer")
			}
		}()
		backends = append(backends, kafkaBackend)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaEventsTopic).Msg("kafka event export enabled")
	}
	emitter := events.NewEmitter(config.EventQueueSize, backends...)
	emitter.Start()

	flags := agent.NewFlagSource(redisClient, cfg.FlagCacheTTL())
	defer flags.Stop()

	runners := make(map[model.DispatchPath]agent.Runner)
	if cfg.AgentRunnerURL != "" {
		runners[model.DispatchPathAgent] = agent.NewHTTPRunner("agent", cfg.AgentRunnerURL, config.DispatchTimeout)
	}
	if cfg.SkillRunnerURL != "" {
		runners[model.DispatchPathSkill] = agent.NewHTTPRunner("skill-builder", cfg.SkillRunnerURL, config.DispatchTimeout)
	}

	userRepo := repository.NewUserRepository(db.DB)
	deviceRepo := repository.NewDeviceLinkRepository(db.DB)
	convRepo := repository.NewConversationRepository(db.DB)
	pairingCodeRepo := repository.NewPairingCodeRepository(db.DB)

	whatsapp := service.NewWhatsAppService(service.WhatsAppConfigFrom(cfg))
	pairingService := service.NewPairingService(db, pairingCodeRepo, deviceRepo, whatsapp, emitter, service.PairingOptions{
		CommandPrefix:  cfg.PairingCommandPrefix,
		QRImageBaseURL: cfg.QRImageBaseURL,
	})
	routingService := service.NewRoutingService(deviceRepo, convRepo, userRepo, cfg.DefaultRouteUserID)
	dispatcher := service.NewDispatcher(pairingService, routingService, flags, runners, whatsapp, emitter)
	deviceService := service.NewDeviceService(deviceRepo, emitter)
	chatService := service.NewChatService(convRepo, flags, runners)

	authMiddleware := middleware.NewAuthMiddleware(userRepo)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(service.NewRateLimiter(redisClient.Client))
	twilioSignatureMiddleware := middleware.NewTwilioSignatureMiddleware(cfg.TwilioAuthToken, cfg.WebhookPublicURL)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(production)

	webhookHandler := handler.NewWebhookHandler(dispatcher, config.DispatchTimeout)
	pairingHandler := handler.NewPairingHandler(pairingService)
	deviceHandler := handler.NewDeviceHandler(deviceService)
	eventsHandler := handler.NewEventsHandler(broker)
	chatHandler := handler.NewChatHandler(chatService)
	healthHandler := handler.NewHealthHandler(config.DBPingTimeout, map[string]handler.Pinger{
		"database": db,
		"redis": handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/whatsapp", func(r chi.Router) {
		r.Use(twilioSignatureMiddleware.Handler)
		r.Post("/webhook", webhookHandler.Webhook)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)

		// SSE and NDJSON responses stay open past the request timeout.
		r.Get("/events", eventsHandler.ServeHTTP)
		r.Post("/chat/turns", chatHandler.Turn)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Mount("/pairings", pairingHandler.Routes())
			r.Mount("/devices", deviceHandler.Routes())
		})
	})

	cleanupJob := jobs.NewCleanupJob(pairingCodeRepo, config.PairingRetentionPeriod, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case <-ctx.Done():
	case err := <-serverErr:
		emitter.Close()
		return fmt.Errorf("server error: %w", err)
	}
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// In-flight dispatches still publish events, so drain them before the emitter.
	webhookHandler.Wait()
	emitter.Close()

	log.Info().Msg("server stopped")
	return nil
}
