package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"

	"github.com/STRATINT/connectors/internal/api"
	"github.com/STRATINT/connectors/internal/config"
	"github.com/STRATINT/connectors/internal/database"
	"github.com/STRATINT/connectors/internal/front"
	"github.com/STRATINT/connectors/internal/logging"
	"github.com/STRATINT/connectors/internal/metrics"
	"github.com/STRATINT/connectors/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("front service failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting front service", "connectors_api", cfg.Front.ConnectorsAPI)

	if cfg.Connectors.Secret == "" {
		return fmt.Errorf("CONNECTORS_SECRET is required")
	}

	dbURL := cfg.Front.DatabaseURL
	if dbURL == "" {
		dbURL = cfg.Database.URL
	}
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	dbConfig.MaxConnections = cfg.Database.MaxConnections

	db, err := database.Connect(ctx, dbConfig, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, database.FrontMigrations(), logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	collector, err := metrics.NewCollector()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}

	client := front.NewClient(cfg.Front.ConnectorsAPI, cfg.Connectors.Secret, cfg.Server.WriteTimeout)
	managed := front.NewManagedDataSources(client, database.NewDataSourceRepository(db), logger)

	r := mux.NewRouter()
	r.Use(collector.InstrumentHandler)
	r.Handle("/metrics", collector.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			api.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	front.NewHandler(managed, logger).AddHandlers(r)

	serverConfig := cfg.Server
	serverConfig.Port = cfg.Front.Port
	return server.New(serverConfig, logger, r).Run(ctx)
}
