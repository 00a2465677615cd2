package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	cfg "github.com/zapp/backend/config"
	"github.com/zapp/backend/internal/core/ports"
	"github.com/zapp/backend/internal/events"
	"github.com/zapp/backend/internal/handlers"
	"github.com/zapp/backend/internal/metrics"
	"github.com/zapp/backend/internal/rates"
	"github.com/zapp/backend/internal/shared"
	"github.com/zapp/backend/internal/usecases"
	"github.com/zapp/backend/internal/usecases/repository"
	"github.com/zapp/backend/internal/workers"
	"github.com/zapp/backend/pkg/database"
)

// Server timeout constants.
const (
	readTimeoutSeconds     = 15
	writeTimeoutSeconds    = 15
	idleTimeoutSeconds     = 60
	shutdownTimeoutSeconds = 5
)

func main() {
	time.Local = time.UTC

	// Parse configuration
	config, err := cfg.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	// Setup logging
	opts := &slog.HandlerOptions{
		Level: config.Log.Level,
	}

	if config.App.Debug || shared.IsDebugMode() {
		opts.Level = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, opts))
	logger.Warn("Starting application with configuration",
		"debug", config.App.Debug,
		"environment", config.App.Environment,
		"server_port", config.HTTP.Port,
		"rates_provider", config.Rates.Provider,
		"group_window", config.Grouping.Window().String(),
		"kafka_enabled", len(config.Kafka.Brokers) > 0)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Connect to Database
	pg, err := database.New(ctx, config.DB.DatabaseURL,
		database.MaxPoolSize(config.DB.PoolMax),
		database.ConnTimeout(config.DB.ConnectTimeout),
		database.HealthCheckPeriod(config.DB.HealthCheckPeriod),
		database.Isolation(pgx.ReadCommitted),
	)
	if err != nil {
		logger.Error("Postgres connection failed", "error", err)
		return
	}
	defer pg.Close()

	// Run database migrations
	migrationsPath, err := database.FindMigrationsDir("migrations")
	if err != nil {
		logger.Error("Failed to locate migrations", "error", err)
		return
	}
	logger.Info("Running database migrations", "path", migrationsPath)
	if err = database.RunMigrations(logger, config.DB.DatabaseURL, migrationsPath); err != nil {
		logger.Error("Failed to run database migrations", "error", err)
		return
	}

	// Create repositories
	ordersRepository := repository.NewOrdersRepository(logger, pg)
	batchesRepository := repository.NewBatchesRepository(logger, pg, ordersRepository)
	facilitatorsRepository := repository.NewFacilitatorsRepository(logger, pg)

	// Pricing, rates, metrics and event delivery
	pricing, err := newPricing(config)
	if err != nil {
		logger.Error("Invalid pricing configuration", "error", err)
		return
	}

	rateSource, err := newRateSource(config)
	if err != nil {
		logger.Error("Invalid rates configuration", "error", err)
		return
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engineMetrics := metrics.NewEngineMetrics(registry)

	websocketManager := handlers.NewWebSocketManager(logger)
	publishers := events.Fanout{websocketManager}
	if len(config.Kafka.Brokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(logger, config.Kafka.Brokers, config.Kafka.Topic)
		defer func() {
			if closeErr := kafkaPublisher.Close(); closeErr != nil {
				logger.Error("Failed to close kafka writer", "error", closeErr)
			}
		}()
		publishers = append(publishers, kafkaPublisher)
		logger.Info("Publishing events to kafka", "brokers", config.Kafka.Brokers, "topic", config.Kafka.Topic)
	}

	serviceOpts := []usecases.Option{
		usecases.WithMetrics(engineMetrics),
		usecases.WithPublisher(publishers),
		usecases.WithRateSource(rateSource),
		usecases.WithGroupWindow(config.Grouping.Window()),
		usecases.WithSweepBatchSize(config.Grouping.SweepBatchSize),
	}

	// Create usecases
	orderService := usecases.NewOrderService(logger, ordersRepository, batchesRepository, pricing, serviceOpts...)
	batchService := usecases.NewBatchService(logger, ordersRepository, batchesRepository, facilitatorsRepository, pricing, serviceOpts...)
	visibilityService := usecases.NewVisibilityService(logger, ordersRepository, batchesRepository, facilitatorsRepository, serviceOpts...)
	facilitatorService := usecases.NewFacilitatorService(logger, facilitatorsRepository)

	// Initialize and run workers
	initAndRunWorkers(ctx, logger, config, batchService)

	// Create handlers
	httpHandler := handlers.NewHTTPHandler(logger, orderService, batchService, visibilityService, facilitatorService, pg)
	wsHandler := handlers.NewWebSocketHandler(logger, websocketManager)

	// Create router
	router := mux.NewRouter()

	// Register WebSocket routes before HTTP routes
	wsHandler.RegisterRoutes(router)
	httpHandler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")

	// Configure CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	// Wrap router in CORS middleware
	handler := c.Handler(router)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + config.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  readTimeoutSeconds * time.Second,
		WriteTimeout: writeTimeoutSeconds * time.Second,
		IdleTimeout:  idleTimeoutSeconds * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			stop()
		}
	}()

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return
	}

	logger.Info("Server exited properly")
}

func newPricing(config *cfg.Config) (*usecases.PricingCalculator, error) {
	userSpread, merchantSpread, dustFloor, err := config.Pricing.Decimals()
	if err != nil {
		return nil, err
	}
	return usecases.NewPricingCalculator(userSpread, merchantSpread, dustFloor, config.Pricing.PlatformZecAddress)
}

func newRateSource(config *cfg.Config) (ports.RateSource, error) {
	if config.Rates.Provider == "http" {
		return rates.NewHTTPSource(config.Rates.URL, config.Rates.Timeout()), nil
	}
	table, err := rates.ParseTable(config.Rates.Static)
	if err != nil {
		return nil, err
	}
	return rates.NewStaticSource(table), nil
}

func initAndRunWorkers(ctx context.Context, logger *slog.Logger, config *cfg.Config, batchService *usecases.BatchService) {
	groupSplitter := workers.NewGroupSplitter(logger, batchService, config.Grouping.SweepInterval())

	go func() {
		groupSplitter.Start(ctx)
	}()

	logger.Info("All workers initialized and started")
}
