// main.go - HTTP server application
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"insightcore/internal/config"
	"insightcore/internal/database"
	"insightcore/internal/engine"
	"insightcore/internal/eventstore"
	"insightcore/internal/httpapi"
	"insightcore/internal/logging"
	"insightcore/internal/pkg/geoip"
)

const defaultShutdownTimeout = 30 * time.Second

func main() {
	// Optional .env for local development; env vars win.
	_ = godotenv.Load()

	cfg := config.GetConfig()
	logger := logging.NewLogger(cfg)
	slog.SetDefault(logger)

	server, err := buildServer(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	go func() {
		logger.Info("Starting server", slog.String("port", cfg.AppPort))
		if err := server.Listen(); err != nil {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	waitForShutdownSignal(server, logger)
}

func buildServer(cfg *config.Config, logger *slog.Logger) (*httpapi.Server, error) {
	switch cfg.DatabaseType {
	case config.ClickHouseDatabase:
		return buildClickHouseServer(cfg, logger)
	default:
		return buildSQLiteServer(cfg, logger)
	}
}

func buildSQLiteServer(cfg *config.Config, logger *slog.Logger) (*httpapi.Server, error) {
	db, err := database.Connect(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db, logger); err != nil {
		return nil, err
	}

	store := eventstore.NewStore(db, logger)
	eng := engine.New(store,
		engine.WithCohorts(store),
		engine.WithGroups(store),
		engine.WithLogger(logger),
		engine.WithWorkers(cfg.QueryWorkers),
		engine.WithPageSize(cfg.ActorPageSize),
	)
	ingestor := eventstore.NewIngestor(db, geoip.Open(cfg, logger), logger)
	return httpapi.NewServer(cfg, eng, ingestor, logger), nil
}

func buildClickHouseServer(cfg *config.Config, logger *slog.Logger) (*httpapi.Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := eventstore.NewClickHouseConn(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Running database migrations")
	if err := eventstore.MigrateClickHouse(ctx, conn); err != nil {
		return nil, err
	}
	logger.Info("Migrations completed")

	store := eventstore.NewClickHouseStore(conn, logger)
	eng := engine.New(store,
		engine.WithCohorts(store),
		engine.WithGroups(store),
		engine.WithLogger(logger),
		engine.WithWorkers(cfg.QueryWorkers),
		engine.WithPageSize(cfg.ActorPageSize),
	)
	// ClickHouse deployments ingest through the batch insert path, not the
	// HTTP endpoint.
	return httpapi.NewServer(cfg, eng, nil, logger), nil
}

// waitForShutdownSignal sets up signal handling and performs graceful shutdown
func waitForShutdownSignal(server *httpapi.Server, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigChan
	logger.Info("Received signal", slog.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error during shutdown", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Server shutdown complete")
}
