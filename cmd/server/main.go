package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"

	"github.com/teamcast/broadcast-api/internal/audience"
	"github.com/teamcast/broadcast-api/internal/config"
	"github.com/teamcast/broadcast-api/internal/handlers"
	"github.com/teamcast/broadcast-api/internal/membership"
	"github.com/teamcast/broadcast-api/internal/middleware"
	"github.com/teamcast/broadcast-api/internal/migration"
	"github.com/teamcast/broadcast-api/internal/pipeline"
	natsqueue "github.com/teamcast/broadcast-api/internal/queue/nats"
	"github.com/teamcast/broadcast-api/internal/repository"
	"github.com/teamcast/broadcast-api/internal/routes"
	"github.com/teamcast/broadcast-api/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config       *config.Config
	db           *sql.DB
	queue        *natsqueue.Queue
	orchestrator *pipeline.Orchestrator
	aggregator   *pipeline.Aggregator
	logger       zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	// Connect the delivery queue.
	deliveryQueue, err := natsqueue.New(cfg.NATS, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer deliveryQueue.Close()

	// Repositories.
	notificationRepo := repository.NewNotificationRepository(db, cfg.Pipeline.MaxDiagnosticLen)
	recipientRepo := repository.NewRecipientRepository(db)
	userRepo := repository.NewUserRepository(db)

	// Delivery pipeline.
	provider := membership.NewHTTPProvider(cfg.Membership.BaseURL, cfg.Membership.Timeout)
	resolver := audience.NewResolver(userRepo, provider, logger)
	batcher := pipeline.NewBatcher(recipientRepo, cfg.Pipeline.BatchSize)
	dispatcher := pipeline.NewDispatcher(notificationRepo, recipientRepo, deliveryQueue, cfg.Pipeline, logger)
	failures := pipeline.NewFailureHandler(notificationRepo, cfg.Pipeline, logger)
	aggregator := pipeline.NewAggregator(notificationRepo, recipientRepo, cfg.Pipeline, logger)
	orchestrator := pipeline.NewOrchestrator(resolver, batcher, dispatcher, failures, notificationRepo, deliveryQueue, cfg.Pipeline, logger)

	app := &application{
		config:       cfg,
		db:           db,
		queue:        deliveryQueue,
		orchestrator: orchestrator,
		aggregator:   aggregator,
		logger:       logger,
	}

	// Start the queue consumers and the safety-net sweeper.
	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	defer cancelConsumers()

	outcomeWorker := worker.New(deliveryQueue, aggregator, logger)
	if err := outcomeWorker.Start(consumerCtx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start queue consumers")
	}

	sweeper := worker.NewSweeper(notificationRepo, orchestrator, aggregator, cfg.Pipeline, cfg.Sweeper, logger)
	if err := sweeper.Start(consumerCtx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start sweeper")
	}

	// Initialize the HTTP router and middleware.
	notificationHandler := handlers.NewNotificationHandler(notificationRepo, recipientRepo, orchestrator, logger)
	installationHandler := handlers.NewInstallationHandler(userRepo, logger)
	router := routes.NewRouter(notificationHandler, installationHandler)

	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, sweeper, logger)

	logger.Info().Msg("Application terminated.")
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, sweeper *worker.Sweeper, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Stop the sweeper; in-flight sends are resumed on the next start.
	logger.Info().Msg("Stopping sweeper...")
	sweeper.Stop()
	logger.Info().Msg("Sweeper stopped.")
}
