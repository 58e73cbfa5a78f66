package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zatekoja/clinicalnotes/backend/internal/adapters/cache"
	"github.com/zatekoja/clinicalnotes/backend/internal/adapters/database"
	"github.com/zatekoja/clinicalnotes/backend/internal/adapters/events"
	"github.com/zatekoja/clinicalnotes/backend/internal/adapters/state"
	"github.com/zatekoja/clinicalnotes/backend/internal/api/handlers"
	"github.com/zatekoja/clinicalnotes/backend/internal/api/routes"
	"github.com/zatekoja/clinicalnotes/backend/internal/application/services"
	"github.com/zatekoja/clinicalnotes/backend/internal/domain/providers"
	"github.com/zatekoja/clinicalnotes/backend/internal/infrastructure/clients/openai"
	"github.com/zatekoja/clinicalnotes/backend/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/clinicalnotes/backend/internal/infrastructure/clients/redis"
	"github.com/zatekoja/clinicalnotes/backend/internal/infrastructure/clients/reviewapi"
	"github.com/zatekoja/clinicalnotes/backend/internal/infrastructure/observability"
	"github.com/zatekoja/clinicalnotes/backend/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinical-notes-api",
		Short: "Clinical note review, enhancement and approval API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the durable workflow state table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			observability.InitLogger(cfg.OTEL.ServiceName, cfg.Env)

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			pgClient, err := postgres.NewClient(ctx, &cfg.Database)
			if err != nil {
				return fmt.Errorf("connect to PostgreSQL: %w", err)
			}
			defer pgClient.Close()

			if err := database.Migrate(ctx, pgClient); err != nil {
				return err
			}
			log.Info().Msg("workflow state schema is up to date")
			return nil
		},
	}
}

func runServer() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry if enabled
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
			log.Info().Msg("OpenTelemetry initialized successfully")
		}
	}

	// Initialize metrics
	metrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

	checks := make(map[string]routes.HealthCheck)

	// Session tier and event bus
	var cacheProvider providers.CacheProvider
	var eventBus providers.EventBus
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, session tier falls back to process memory")
		} else {
			defer redisClient.Close()
			cacheProvider = cache.NewRedisAdapter(redisClient, "clinicalnotes:")
			eventBus = events.NewRedisEventBus(redisClient)
			checks["redis"] = redisClient.Ping
			log.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("Redis session tier enabled")
		}
	}
	if cacheProvider == nil {
		cacheProvider = cache.NewMemoryAdapter()
	}

	codec, err := state.NewTokenCodec(cfg.Workflow.StateTokenSecret, cfg.Workflow.StateTokenMax, cfg.Workflow.SessionTTL)
	if err != nil {
		return err
	}
	if cfg.Workflow.StateTokenSecret == "" {
		log.Warn().Msg("STATE_TOKEN_SECRET not set, state tokens will not survive a restart")
	}

	tiers := []providers.StateTier{
		state.NewRequestTier().WithTokenLimit(codec),
		state.NewSessionTier(cacheProvider, cfg.Workflow.SessionTTL),
	}

	// Durable tier
	if cfg.Database.Enabled {
		pgClient, err := postgres.NewClient(ctx, &cfg.Database)
		if err != nil {
			log.Warn().Err(err).Msg("PostgreSQL unavailable, durable tier disabled")
		} else {
			defer pgClient.Close()
			if err := database.Migrate(ctx, pgClient); err != nil {
				return err
			}
			tiers = append(tiers, state.NewDurableTier(database.NewWorkflowStateAdapter(pgClient)))
			checks["postgres"] = pgClient.Ping
			log.Info().Str("database", cfg.Database.Database).Msg("PostgreSQL durable tier enabled")
		}
	}

	// Upstream services
	reviewClient := reviewapi.NewClient(cfg.ReviewAPI.URL, cfg.ReviewAPI.APIKey, cfg.ReviewAPI.Timeout)
	var enhancer providers.EnhancementProvider = reviewClient
	if cfg.Workflow.EnhanceProvider == "openai" {
		openaiClient, err := openai.NewClient(&cfg.OpenAI)
		if err != nil {
			return fmt.Errorf("initialize OpenAI client: %w", err)
		}
		enhancer = openaiClient
		log.Info().Str("model", cfg.OpenAI.Model).Msg("enhancement served by OpenAI")
	}

	// Application services
	replicator := services.NewStateReplicator(metrics, tiers...)
	guard := services.NewInFlightGuard(cacheProvider, cfg.Workflow.EnhanceLockTTL)
	workflowService := services.NewWorkflowService(reviewClient, enhancer, replicator, guard, eventBus, metrics, services.WorkflowOptions{
		EnhanceTimeout: cfg.Workflow.EnhanceTimeout,
		Header:         cfg.Workflow.ClinicTitle,
	})

	if eventBus != nil {
		auditService := services.NewWorkflowAuditService(eventBus, cacheProvider, guard)
		if err := auditService.Start(); err != nil {
			log.Warn().Err(err).Msg("failed to start workflow audit service")
		} else {
			defer auditService.Stop()
		}
		defer eventBus.Close()
	}

	router := routes.NewRouter(handlers.NewWorkflowHandler(workflowService), codec, metrics, routes.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SessionTTL:     cfg.Workflow.SessionTTL,
		Checks:         checks,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Workflow.EnhanceTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	tierNames := make([]string, 0, len(tiers))
	for _, name := range replicator.TierNames() {
		tierNames = append(tierNames, string(name))
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Strs("tiers", tierNames).
			Str("enhancer", cfg.Workflow.EnhanceProvider).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server exited")
	return nil
}
