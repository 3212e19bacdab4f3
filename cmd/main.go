package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pongarena/match-system/config"
	"github.com/pongarena/match-system/db"
	"github.com/pongarena/match-system/handlers"
	"github.com/pongarena/match-system/match"
	"github.com/pongarena/match-system/repositories"
	api "github.com/pongarena/match-system/routes"
	"github.com/pongarena/match-system/services"
	"github.com/pongarena/match-system/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("configuration loaded", slog.Int("port", cfg.ServerPort))

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		}
	}()
	logger.Info("database connection established")

	// Report archiving is optional; without R2 settings rooms are simply
	// deleted without a snapshot.
	var uploader storage.FileUploader
	if cfg.ArchivingEnabled() {
		uploader, err = storage.NewCloudflareR2Uploader(storage.CloudflareR2UploaderConfig{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicBaseURL:   cfg.R2PublicBaseURL,
		})
		if err != nil {
			logger.Error("failed to initialize R2 uploader", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("room report archiving enabled")
	}

	roomRepo := repositories.NewPostgresRoomRepository(dbConn)
	participantRepo := repositories.NewPostgresParticipantRepository(dbConn)
	nodeRepo := repositories.NewPostgresNodeRepository(dbConn)
	transactor := repositories.NewSQLTransactor(dbConn)
	logger.Info("repositories initialized")

	hub := match.NewHub()
	go hub.Run()

	registry := match.NewRegistry(
		services.NewNodeLoader(nodeRepo),
		match.NewLoggingEngineFactory(logger),
		logger,
	)

	sessions := services.NewSessionStore()
	tokens := services.NewTokenService(cfg.JWTSecretKey)
	aiBridge := services.NewAIBridge(cfg.AIServiceURL, registry, logger)
	bracketService := services.NewBracketService(nodeRepo)
	roomService := services.NewRoomService(
		transactor,
		roomRepo,
		participantRepo,
		nodeRepo,
		bracketService,
		registry,
		hub,
		uploader,
		logger,
	)
	connectionService := services.NewConnectionService(
		sessions,
		tokens,
		participantRepo,
		nodeRepo,
		registry,
		aiBridge,
		logger,
	)
	logger.Info("services initialized")

	roomHandler := handlers.NewRoomHandler(roomService, logger)
	webSocketHandler := handlers.NewWebSocketHandler(hub, connectionService, logger)

	allowedOrigins := []string{"https://localhost"}
	if cfg.FrontendURL != "" {
		allowedOrigins = append(allowedOrigins, cfg.FrontendURL)
	}

	router := chi.NewRouter()
	api.SetupRoutes(router, roomHandler, webSocketHandler, allowedOrigins)
	logger.Info("routes configured")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("address", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	case sig := <-quit:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", slog.Any("error", err))
			if closeErr := server.Close(); closeErr != nil {
				logger.Error("failed to force close server", slog.Any("error", closeErr))
			}
			os.Exit(1)
		}
		registry.Clear()
		logger.Info("server shutdown complete")
	}
	logger.Info("application exited")
}
