package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/velora-rides/service-dispatch/internal/application"
	"github.com/velora-rides/service-dispatch/internal/auth"
	"github.com/velora-rides/service-dispatch/internal/config"
	"github.com/velora-rides/service-dispatch/internal/database"
	"github.com/velora-rides/service-dispatch/internal/events"
	"github.com/velora-rides/service-dispatch/internal/geofence"
	"github.com/velora-rides/service-dispatch/internal/geoindex"
	"github.com/velora-rides/service-dispatch/internal/handler"
	"github.com/velora-rides/service-dispatch/internal/health"
	"github.com/velora-rides/service-dispatch/internal/logger"
	"github.com/velora-rides/service-dispatch/internal/middleware"
	"github.com/velora-rides/service-dispatch/internal/registry"
	"github.com/velora-rides/service-dispatch/internal/repository"
	"github.com/velora-rides/service-dispatch/internal/routing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewNamed(cfg.AppEnv, "service-dispatch")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting service-dispatch",
		zap.String("port", cfg.Port),
	)

	// Connect to database
	db, err := database.Connect(cfg.DB.DSN(), log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run database migrations
	if cfg.AppEnv == "development" {
		if err := db.AutoMigrate(&repository.TripModel{}); err != nil {
			log.Fatal("failed to run auto-migration", zap.Error(err))
		}
		log.Info("database migration completed (dev auto-migrate)")
	} else {
		if err := database.RunMigrations(cfg.DB.DatabaseURL(), "migrations", log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, 15*time.Minute)

	// Initialize Kafka producer
	producer := events.NewProducer(cfg.Kafka.Brokers, log)
	defer func() { _ = producer.Close() }()

	// Core coordination state
	index := geoindex.New()
	monitor := geofence.NewMonitor(log)
	tripRegistry := registry.New(log)
	tripRepo := repository.NewGormTripRepository(db)
	routeEstimator := routing.NewHaversineEstimator()

	// Application services
	tripService := application.NewTripService(
		tripRegistry,
		tripRepo,
		index,
		monitor,
		routeEstimator,
		producer,
		log,
		application.MatchingConfig{
			MatchRadiusMeters:             cfg.Matching.MatchRadiusMeters,
			MaxCandidates:                 cfg.Matching.MaxCandidates,
			OfferTimeout:                  cfg.Matching.OfferTimeout,
			PickupRegionRadiusMeters:      cfg.Matching.PickupRegionRadiusMeters,
			DestinationRegionRadiusMeters: cfg.Matching.DestinationRegionRadiusMeters,
		},
	)
	driverService := application.NewDriverService(index, monitor, tripService, log)

	// Start the driver location feed consumer in a goroutine
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	groupID := cfg.Kafka.GroupPrefix + "dispatch-service"
	locationConsumer := events.NewLocationEventConsumer(
		cfg.Kafka.Brokers,
		groupID,
		driverService,
		log,
	)
	defer func() { _ = locationConsumer.Close() }()

	go func() {
		log.Info("starting driver location consumer")
		if err := locationConsumer.Start(ctx); err != nil && err != context.Canceled {
			log.Error("driver location consumer error", zap.Error(err))
		}
	}()

	// Initialize HTTP handlers
	tripHandler := handler.NewTripHandler(tripService)
	driverHandler := handler.NewDriverHandler(driverService)
	adminHandler := handler.NewAdminTripHandler(tripService)
	streamHandler := handler.NewStreamHandler(tripService, driverService, log)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	// Register health check routes
	healthHandler := health.NewHandler(db, "service-dispatch")
	healthHandler.RegisterRoutes(router)

	// Register routes
	tripHandler.RegisterRoutes(&router.RouterGroup, jwtManager)
	driverHandler.RegisterRoutes(&router.RouterGroup, jwtManager)
	adminHandler.RegisterRoutes(&router.RouterGroup, jwtManager)
	streamHandler.RegisterRoutes(&router.RouterGroup, jwtManager)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down service-dispatch...")

	// Cancel the consumer context
	cancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced shutdown", zap.Error(err))
	}

	log.Info("service-dispatch stopped")
}
