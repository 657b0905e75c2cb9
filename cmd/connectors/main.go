package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/STRATINT/connectors/internal/api"
	"github.com/STRATINT/connectors/internal/auth"
	"github.com/STRATINT/connectors/internal/broker"
	"github.com/STRATINT/connectors/internal/config"
	"github.com/STRATINT/connectors/internal/database"
	"github.com/STRATINT/connectors/internal/lifecycle"
	"github.com/STRATINT/connectors/internal/logging"
	"github.com/STRATINT/connectors/internal/metrics"
	"github.com/STRATINT/connectors/internal/models"
	"github.com/STRATINT/connectors/internal/providers"
	"github.com/STRATINT/connectors/internal/providers/notion"
	"github.com/STRATINT/connectors/internal/providers/slack"
	"github.com/STRATINT/connectors/internal/scheduler"
	"github.com/STRATINT/connectors/internal/server"
	"github.com/STRATINT/connectors/internal/worker"
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
		logger.Error("connectors service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connectors service stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting connectors service")

	if cfg.Connectors.Secret == "" {
		return fmt.Errorf("CONNECTORS_SECRET is required")
	}

	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.Database.URL
	dbConfig.MaxConnections = cfg.Database.MaxConnections

	logger.Info("connecting to database")
	db, err := database.Connect(ctx, dbConfig, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database connected")

	if err := database.RunMigrations(ctx, db, database.ConnectorsMigrations(), logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	connectorRepo := database.NewConnectorRepository(db)
	slackConfigs := database.NewSlackConfigurationRepository(db)
	notionStates := database.NewNotionStateRepository(db)

	collector, err := metrics.NewCollector()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}

	brokerClient, err := broker.NewClient(broker.Config{
		URL:       cfg.Broker.URL,
		SecretKey: cfg.Broker.SecretKey,
		RetryMax:  3,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	supervisor := worker.NewSupervisor(connectorRepo, cfg.Connectors.SyncInterval, logger)

	registry, err := providers.NewRegistry(map[models.ConnectorProvider]providers.Behaviors{
		models.ConnectorProviderSlack: providers.NewOAuthBehaviors(providers.OAuthConfig{
			Provider:      models.ConnectorProviderSlack,
			IntegrationID: cfg.Broker.SlackIntegration,
			Connectors:    connectorRepo,
			States:        slackConfigs,
			Broker:        brokerClient,
			Supervisor:    supervisor,
			Remote:        slack.NewAPI(cfg.Providers.SlackAPIURL),
			Timeout:       cfg.Connectors.ProviderTimeout,
			Logger:        logger.With("provider", models.ConnectorProviderSlack),
		}),
		models.ConnectorProviderNotion: providers.NewOAuthBehaviors(providers.OAuthConfig{
			Provider:      models.ConnectorProviderNotion,
			IntegrationID: cfg.Broker.NotionIntegration,
			Connectors:    connectorRepo,
			States:        notionStates,
			Broker:        brokerClient,
			Supervisor:    supervisor,
			Remote:        notion.NewAPI(cfg.Providers.NotionAPIURL, nil),
			Timeout:       cfg.Connectors.ProviderTimeout,
			Logger:        logger.With("provider", models.ConnectorProviderNotion),
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to build provider registry: %w", err)
	}

	orchestrator := lifecycle.New(lifecycle.Config{
		Store:    connectorRepo,
		Locker:   database.NewLocker(db),
		Registry: registry,
		Recorder: collector,
		Logger:   logger,
	})

	restored, err := orchestrator.RestoreWorkers(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore workers: %w", err)
	}
	logger.Info("workers restored", "count", restored)

	reconciler := scheduler.NewReconcileScheduler(
		connectorRepo,
		supervisor,
		collector,
		cfg.Connectors.ReconcileSchedule,
		cfg.Connectors.ProviderTimeout,
		logger,
	)

	router := api.NewRouter(api.RouterConfig{
		Lifecycle: orchestrator,
		Auth:      auth.Config{Secret: cfg.Connectors.Secret},
		Metrics:   collector,
		Health:    db,
		Logger:    logger,
	})
	srv := server.New(cfg.Server, logger, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return reconciler.Start(gctx) })
	runErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := supervisor.StopAll(stopCtx); err != nil {
		logger.Warn("workers did not stop in time", "error", err)
	}
	return runErr
}
