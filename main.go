package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Yukesh570/SquadBackend/internal/config"
	"github.com/Yukesh570/SquadBackend/internal/database"
	"github.com/Yukesh570/SquadBackend/internal/dlr"
	"github.com/Yukesh570/SquadBackend/internal/gateway"
	"github.com/Yukesh570/SquadBackend/internal/logging"
	"github.com/Yukesh570/SquadBackend/internal/notification"
	"github.com/Yukesh570/SquadBackend/internal/routing"
	"github.com/Yukesh570/SquadBackend/internal/smppserver"
	"github.com/Yukesh570/SquadBackend/internal/workers"
	"github.com/Yukesh570/SquadBackend/pkg/segmenter"
)

func main() {
	appCtx, rootCancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer rootCancel()

	cfg, err := config.Load()
	if err != nil {
		// Standard log until slog is configured.
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel <= slog.LevelDebug,
	}
	baseHandler := slog.NewJSONHandler(os.Stdout, opts)
	slog.SetDefault(slog.New(logging.NewContextHandler(baseHandler)))
	slog.Info("Logging initialized", "level", logLevel.String())

	slog.Info("Connecting to database...")
	dbpool, err := pgxpool.New(appCtx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()
	if err := dbpool.Ping(appCtx); err != nil {
		slog.Error("Failed to ping database", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("Database connection pool established")
	dbQueries := database.New(dbpool)

	slog.Info("Initializing services...")
	notifier := notification.NewLogNotifier()
	splitter := segmenter.New()
	resolver := routing.NewResolver(dbQueries, notifier, cfg.WorkerConfig.StoreTimeout)
	dlrHandler := dlr.NewHandler(dbQueries)

	gatewayManager := gateway.NewManager(cfg.GatewayConfig, dbQueries, dlrHandler, notifier, splitter)
	smppServer := smppserver.NewServer(cfg.ServerConfig, dbQueries, resolver, splitter)

	var wg sync.WaitGroup
	slog.Info("Starting application components...")

	// Delivery loop: one goroutine owns every vendor session and its
	// sequence correlation state.
	wg.Add(1)
	go func() {
		defer wg.Done()
		workers.RunLoop(appCtx, "delivery",
			cfg.WorkerConfig.DeliveryInterval,
			cfg.WorkerConfig.DeliveryBatchSize,
			gatewayManager.ProcessQueuedBatch)
		slog.Info("Delivery loop stopped.")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := smppServer.ListenAndServe(); err != nil {
			slog.Error("SMPP Server failed", slog.Any("error", err))
			rootCancel()
		}
		slog.Info("SMPP Server stopped.")
	}()

	<-appCtx.Done()
	slog.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()

	slog.Info("Shutting down SMPP Server...")
	if err := smppServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Error during SMPP Server shutdown", slog.Any("error", err))
	} else {
		slog.Info("SMPP Server shutdown complete.")
	}

	slog.Info("Waiting for main application goroutines to stop...")
	wg.Wait()

	// Vendor sessions unbind after the delivery loop has stopped touching
	// them.
	gatewayManager.Shutdown(shutdownCtx)

	slog.Info("Closing database pool...")
	slog.Info("Application shut down gracefully.")
}
