package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/govforge/bcr-service/internal/config"
	"github.com/govforge/bcr-service/internal/database"
	"github.com/govforge/bcr-service/internal/events"
	"github.com/govforge/bcr-service/internal/handler"
	"github.com/govforge/bcr-service/internal/logger"
	"github.com/govforge/bcr-service/internal/middleware"
	"github.com/govforge/bcr-service/internal/repository"
	"github.com/govforge/bcr-service/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting BCR service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize event publisher. NATS being down is not fatal; workflow
	// events are advisory.
	publisher := events.Disabled(log.Logger)
	if cfg.NATS.Enabled {
		p, err := events.Connect(cfg.NATS.URL, log.Logger)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable; workflow events disabled")
		} else {
			publisher = p
			defer publisher.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}

	// Initialize repositories
	bcrRepo := repository.NewBCRRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	phaseRepo := repository.NewPhaseRepository(db)

	// Load the workflow registry snapshot (seeds defaults on first boot)
	registry, err := phaseRepo.LoadRegistry(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load workflow registry")
	}
	log.Info().Int("phases", len(registry.Phases())).Msg("Workflow registry loaded")

	// Initialize services
	counterCache := service.NewCounterCache(
		submissionRepo, bcrRepo, registry,
		cfg.Cache.TTL, cfg.Cache.RefreshTimeout, cfg.Cache.WaitTimeout,
		log,
	)
	defer counterCache.Close()

	engine := service.NewTransitionService(bcrRepo, submissionRepo, registry, publisher, log)
	review := service.NewReviewService(submissionRepo, engine, counterCache, publisher, log)
	dashboard := service.NewDashboardService(registry, counterCache, bcrRepo, submissionRepo, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(registry, engine, review, dashboard, counterCache, bcrRepo, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/api/v1/dashboard", httpHandler.Dashboard)
	mux.HandleFunc("/api/v1/counters", httpHandler.Counters)
	mux.HandleFunc("/api/v1/phases", httpHandler.Phases)
	mux.HandleFunc("/api/v1/bcrs", httpHandler.ListBCRs)
	mux.HandleFunc("/api/v1/bcrs/get", httpHandler.GetBCR)
	mux.HandleFunc("/api/v1/bcrs/transition", httpHandler.TransitionBCR)
	mux.HandleFunc("/api/v1/submissions/review", httpHandler.ReviewSubmission)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
