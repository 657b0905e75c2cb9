package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/STRATINT/connectors/internal/models"
)

// ConnectorLister reads every connector record.
type ConnectorLister interface {
	List(ctx context.Context) ([]models.Connector, error)
}

// Workers is the view of the worker supervisor the sweep needs.
type Workers interface {
	Connectors() []string
	Running(connectorID string) bool
	Stop(ctx context.Context, connectorID string) error
}

// StalledGauge records how many active connectors have no worker.
type StalledGauge interface {
	SetStalled(n int)
}

// Report is the outcome of one sweep.
type Report struct {
	Orphans []string // workers stopped because their record is gone
	Stalled []string // active records without a running worker
}

// ReconcileScheduler periodically compares connector records with running
// workers. Workers without a record are stopped. Active records without a
// worker are only reported: a delete may be in progress for them, so
// restarting would race with it.
type ReconcileScheduler struct {
	connectors  ConnectorLister
	workers     Workers
	gauge       StalledGauge
	logger      *slog.Logger
	schedule    string
	stopTimeout time.Duration
	cron        *cron.Cron
}

// NewReconcileScheduler creates a scheduler running the sweep on schedule, a
// standard cron expression or descriptor such as "@every 5m".
func NewReconcileScheduler(
	connectors ConnectorLister,
	workers Workers,
	gauge StalledGauge,
	schedule string,
	stopTimeout time.Duration,
	logger *slog.Logger,
) *ReconcileScheduler {
	cronLogger := cronLogger{logger: logger}
	return &ReconcileScheduler{
		connectors:  connectors,
		workers:     workers,
		gauge:       gauge,
		logger:      logger,
		schedule:    schedule,
		stopTimeout: stopTimeout,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
}

// Start registers the sweep and runs the scheduler until ctx is cancelled.
func (s *ReconcileScheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Reconcile(ctx) }); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", s.schedule, err)
	}

	s.logger.Info("Starting reconcile scheduler", "schedule", s.schedule)
	s.cron.Start()

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("Reconcile scheduler stopped")
	return nil
}

// Reconcile runs one sweep.
func (s *ReconcileScheduler) Reconcile(ctx context.Context) (Report, error) {
	var report Report

	// Workers are read before records: a worker started after its record was
	// committed is then always matched by the listing.
	running := s.workers.Connectors()

	connectors, err := s.connectors.List(ctx)
	if err != nil {
		s.logger.Error("Failed to list connectors for reconcile", "error", err)
		return report, err
	}

	known := make(map[string]models.Connector, len(connectors))
	for _, c := range connectors {
		known[c.ID] = c
	}

	for _, id := range running {
		if _, ok := known[id]; ok {
			continue
		}
		stopCtx, cancel := context.WithTimeout(ctx, s.stopTimeout)
		err := s.workers.Stop(stopCtx, id)
		cancel()
		if err != nil {
			s.logger.Error("Failed to stop orphaned worker", "connector_id", id, "error", err)
			continue
		}
		s.logger.Warn("Stopped worker of deleted connector", "connector_id", id)
		report.Orphans = append(report.Orphans, id)
	}

	for _, c := range connectors {
		if c.State() != models.ConnectorStateActive || s.workers.Running(c.ID) {
			continue
		}
		s.logger.Warn("Active connector has no running worker",
			"connector_id", c.ID,
			"provider", c.Type,
			"workspace_id", c.WorkspaceID,
		)
		report.Stalled = append(report.Stalled, c.ID)
	}

	s.gauge.SetStalled(len(report.Stalled))
	s.logger.Debug("Reconcile sweep finished",
		"connectors", len(connectors),
		"workers", len(running),
		"orphans", len(report.Orphans),
		"stalled", len(report.Stalled),
	)
	return report, nil
}

// cronLogger adapts slog to the cron library's logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
