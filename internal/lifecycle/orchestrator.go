// Package lifecycle drives connectors through their states: created active,
// paused and resumed, and finally deleted together with their worker and
// provider resources.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/STRATINT/connectors/internal/database"
	"github.com/STRATINT/connectors/internal/logging"
	"github.com/STRATINT/connectors/internal/models"
	"github.com/STRATINT/connectors/internal/providers"
	"github.com/STRATINT/connectors/internal/result"
)

// Store is the connector record store. Calls made with the context handed to
// a Tx callback run in that transaction.
type Store interface {
	Tx(ctx context.Context, fn func(ctx context.Context) error) error
	Get(ctx context.Context, id string) (*models.Connector, error)
	GetForUpdate(ctx context.Context, id string) (*models.Connector, error)
	FindByDataSource(ctx context.Context, provider models.ConnectorProvider, workspaceID, dataSourceName string) (*models.Connector, error)
	List(ctx context.Context) ([]models.Connector, error)
	Delete(ctx context.Context, id string) error
	SetPaused(ctx context.Context, id string, pausedAt *time.Time) error
}

// StatusReporter is the sync bookkeeping contract between workers and the
// store. The orchestrator never calls it.
type StatusReporter interface {
	SyncStarted(ctx context.Context, connectorID string, at time.Time) error
	SyncSucceeded(ctx context.Context, connectorID string, at time.Time) error
	SyncFailed(ctx context.Context, connectorID string, at time.Time) error
	SyncProgress(ctx context.Context, connectorID string, progress string) error
}

// Locker grants non-blocking leases. A held lease yields database.ErrConflict.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(), err error)
}

// Registry resolves provider behaviors.
type Registry interface {
	Lookup(p models.ConnectorProvider) (providers.Behaviors, error)
}

// Recorder counts lifecycle operations.
type Recorder interface {
	Transition(operation, provider, outcome string)
}

// Config wires an Orchestrator.
type Config struct {
	Store    Store
	Locker   Locker
	Registry Registry
	Recorder Recorder
	Logger   *slog.Logger
}

// Orchestrator serializes lifecycle transitions per connector and dispatches
// to the provider of each connector.
type Orchestrator struct {
	store    Store
	locker   Locker
	registry Registry
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	// newBackOff is the retry policy of the pause bookkeeping written after a
	// worker was already stopped or started.
	newBackOff func() backoff.BackOff
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Orchestrator{
		store:      cfg.Store,
		locker:     cfg.Locker,
		registry:   cfg.Registry,
		recorder:   recorder,
		logger:     cfg.Logger,
		now:        func() time.Time { return time.Now().UTC() },
		newBackOff: bookkeepingBackOff,
	}
}

func bookkeepingBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(backoff.WithInitialInterval(50*time.Millisecond)), 4)
}

// CreateRequest describes a connector to create.
type CreateRequest struct {
	Provider       models.ConnectorProvider
	WorkspaceID    string
	DataSourceName string
	Credentials    string
}

const (
	opCreate = "create"
	opPause  = "pause"
	opResume = "resume"
	opDelete = "delete"
)

// Create provisions a connector for a data source and starts its worker.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (res result.Result[models.Connector]) {
	defer func() { o.observe(opCreate, string(req.Provider), res.Error()) }()

	if req.WorkspaceID == "" || req.DataSourceName == "" {
		return result.Err[models.Connector](result.NewError(result.ErrorTypeInvalidRequest, "workspaceId and dataSourceName are required"))
	}
	logger := o.log(ctx).With("provider", req.Provider, "workspace_id", req.WorkspaceID, "data_source_name", req.DataSourceName)

	behaviors, rerr := o.lookupProvider(logger, req.Provider)
	if rerr != nil {
		return result.Err[models.Connector](rerr)
	}

	release, rerr := o.lease(ctx, "data_source:"+req.WorkspaceID+"/"+req.DataSourceName)
	if rerr != nil {
		return result.Err[models.Connector](rerr)
	}
	defer release()

	_, err := o.store.FindByDataSource(ctx, req.Provider, req.WorkspaceID, req.DataSourceName)
	switch {
	case err == nil:
		return result.Err[models.Connector](result.NewError(result.ErrorTypeConnectorConflict, "Connector already exists for this data source"))
	case !errors.Is(err, database.ErrNotFound):
		return result.Err[models.Connector](result.Wrap(result.ErrorTypeInternalServerError, err, "Could not look up the connector"))
	}

	var id string
	err = o.store.Tx(ctx, func(ctx context.Context) error {
		created := behaviors.Create(ctx, providers.CreateParams{
			WorkspaceID:    req.WorkspaceID,
			DataSourceName: req.DataSourceName,
			Credentials:    req.Credentials,
		})
		if created.IsErr() {
			return created.Error()
		}
		id = created.Value()
		return nil
	})
	if err != nil {
		return result.Err[models.Connector](asResultError(err, "Could not create the connector"))
	}
	logger = logger.With("connector_id", id)

	if started := behaviors.Resume(ctx, id, ""); started.IsErr() {
		logger.Error("failed to start worker of new connector, rolling back", "error", started.Error())
		connector, err := o.store.Get(ctx, id)
		if err != nil {
			logger.Error("failed to read new connector for rollback", "error", err)
		} else if destroyErr := o.destroy(ctx, logger, *connector, behaviors); destroyErr != nil {
			logger.Error("failed to roll back new connector", "error", destroyErr)
		}
		return result.Err[models.Connector](result.Errorf(result.ErrorTypeInternalServerError,
			"Could not start the connector: %s", started.Error().Message))
	}

	connector, err := o.store.Get(ctx, id)
	if err != nil {
		return result.Err[models.Connector](result.Wrap(result.ErrorTypeInternalServerError, err, "Could not read the created connector"))
	}

	logger.Info("connector created")
	return result.Ok(*connector)
}

// Pause stops the worker of a connector and marks it paused. A failing
// stopper leaves the connector active and its error is returned as is.
func (o *Orchestrator) Pause(ctx context.Context, id string) (res result.Result[string]) {
	provider := ""
	defer func() { o.observe(opPause, provider, res.Error()) }()

	release, rerr := o.lease(ctx, connectorLeaseKey(id))
	if rerr != nil {
		return result.Err[string](rerr)
	}
	defer release()

	connector, rerr := o.lookup(ctx, id)
	if rerr != nil {
		return result.Err[string](rerr)
	}
	provider = string(connector.Type)
	logger := o.log(ctx).With("connector_id", id, "provider", provider)

	behaviors, rerr := o.lookupProvider(logger, connector.Type)
	if rerr != nil {
		return result.Err[string](rerr)
	}

	if stopped := behaviors.Stop(ctx, id); stopped.IsErr() {
		logger.Warn("failed to pause connector", "error", stopped.Error())
		return result.Err[string](stopped.Error())
	}

	if connector.PausedAt == nil {
		now := o.now()
		if err := o.setPaused(ctx, id, &now); err != nil {
			logger.Error("connector worker stopped but record still active", "error", err)
			return result.Err[string](result.Wrap(result.ErrorTypeInternalServerError, err, "Could not record the pause"))
		}
	}

	logger.Info("connector paused")
	return result.Ok(id)
}

// Resume restarts the worker of a connector. An empty credentials string
// reuses the stored connection.
func (o *Orchestrator) Resume(ctx context.Context, id, credentials string) (res result.Result[string]) {
	provider := ""
	defer func() { o.observe(opResume, provider, res.Error()) }()

	release, rerr := o.lease(ctx, connectorLeaseKey(id))
	if rerr != nil {
		return result.Err[string](rerr)
	}
	defer release()

	connector, rerr := o.lookup(ctx, id)
	if rerr != nil {
		return result.Err[string](rerr)
	}
	provider = string(connector.Type)
	logger := o.log(ctx).With("connector_id", id, "provider", provider)

	behaviors, rerr := o.lookupProvider(logger, connector.Type)
	if rerr != nil {
		return result.Err[string](rerr)
	}

	if resumed := behaviors.Resume(ctx, id, credentials); resumed.IsErr() {
		logger.Warn("failed to resume connector", "error", resumed.Error())
		return result.Err[string](resumed.Error())
	}

	if connector.PausedAt != nil {
		if err := o.setPaused(ctx, id, nil); err != nil {
			logger.Error("connector worker started but record still paused", "error", err)
			return result.Err[string](result.Wrap(result.ErrorTypeInternalServerError, err, "Could not record the resume"))
		}
	}

	logger.Info("connector resumed")
	return result.Ok(id)
}

// setPaused retries the pause bookkeeping. The worker has already changed
// state, so a single failed write would leave the record out of step with it.
func (o *Orchestrator) setPaused(ctx context.Context, id string, pausedAt *time.Time) error {
	return backoff.Retry(func() error {
		err := o.store.SetPaused(ctx, id, pausedAt)
		if errors.Is(err, database.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(o.newBackOff(), ctx))
}

// Delete stops the worker of a connector, then releases its provider
// resources and removes its record in one transaction. On failure the record
// is kept and the delete can be retried.
func (o *Orchestrator) Delete(ctx context.Context, id string) (res result.Result[result.Void]) {
	provider := ""
	defer func() { o.observe(opDelete, provider, res.Error()) }()

	release, rerr := o.lease(ctx, connectorLeaseKey(id))
	if rerr != nil {
		return result.Err[result.Void](rerr)
	}
	defer release()

	connector, rerr := o.lookup(ctx, id)
	if rerr != nil {
		return result.Err[result.Void](rerr)
	}
	provider = string(connector.Type)
	logger := o.log(ctx).With("connector_id", id, "provider", provider)

	behaviors, rerr := o.lookupProvider(logger, connector.Type)
	if rerr != nil {
		return result.Err[result.Void](rerr)
	}

	if rerr := o.destroy(ctx, logger, *connector, behaviors); rerr != nil {
		return result.Err[result.Void](rerr)
	}

	logger.Info("connector deleted")
	return result.OkVoid()
}

// destroy runs stop, then clean and record removal in one transaction.
func (o *Orchestrator) destroy(ctx context.Context, logger *slog.Logger, connector models.Connector, behaviors providers.Behaviors) *result.Error {
	if stopped := behaviors.Stop(ctx, connector.ID); stopped.IsErr() {
		logger.Warn("failed to stop connector", "error", stopped.Error())
		return result.NewError(result.ErrorTypeInternalServerError, stopped.Error().Message)
	}

	err := o.store.Tx(ctx, func(ctx context.Context) error {
		if _, err := o.store.GetForUpdate(ctx, connector.ID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return result.NewError(result.ErrorTypeInternalServerError, "Could not find the connector")
			}
			return result.Wrap(result.ErrorTypeInternalServerError, err, "Could not lock the connector")
		}

		if cleaned := behaviors.Clean(ctx, connector.ID); cleaned.IsErr() {
			logger.Warn("failed to clean connector", "error", cleaned.Error())
			return result.NewError(result.ErrorTypeInternalServerError, cleaned.Error().Message)
		}

		if err := o.store.Delete(ctx, connector.ID); err != nil {
			return result.Wrap(result.ErrorTypeInternalServerError, err, "Could not delete the connector")
		}
		return nil
	})
	if err != nil {
		return asResultError(err, "Could not commit the connector deletion")
	}
	return nil
}

// Get returns the connector with id.
func (o *Orchestrator) Get(ctx context.Context, id string) result.Result[models.Connector] {
	connector, rerr := o.lookup(ctx, id)
	if rerr != nil {
		return result.Err[models.Connector](rerr)
	}
	return result.Ok(*connector)
}

// FindByDataSource returns the connector of type provider backing a
// workspace data source.
func (o *Orchestrator) FindByDataSource(ctx context.Context, provider models.ConnectorProvider, workspaceID, dataSourceName string) result.Result[models.Connector] {
	connector, err := o.store.FindByDataSource(ctx, provider, workspaceID, dataSourceName)
	if err != nil {
		return result.Err[models.Connector](storeError(err))
	}
	return result.Ok(*connector)
}

// RestoreWorkers starts the worker of every active connector. It runs at
// process start, since workers do not survive a restart.
func (o *Orchestrator) RestoreWorkers(ctx context.Context) (int, error) {
	connectors, err := o.store.List(ctx)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, c := range connectors {
		if c.State() != models.ConnectorStateActive {
			continue
		}
		logger := o.log(ctx).With("connector_id", c.ID, "provider", c.Type)

		behaviors, rerr := o.lookupProvider(logger, c.Type)
		if rerr != nil {
			continue
		}
		release, rerr := o.lease(ctx, connectorLeaseKey(c.ID))
		if rerr != nil {
			logger.Warn("skipping worker restore", "error", rerr)
			continue
		}
		resumed := behaviors.Resume(ctx, c.ID, "")
		release()
		if resumed.IsErr() {
			logger.Error("failed to restore worker", "error", resumed.Error())
			continue
		}
		started++
	}
	return started, nil
}

func connectorLeaseKey(id string) string {
	return "connector:" + id
}

func (o *Orchestrator) lease(ctx context.Context, key string) (func(), *result.Error) {
	release, err := o.locker.TryLock(ctx, key)
	if err != nil {
		if errors.Is(err, database.ErrConflict) {
			return nil, result.NewError(result.ErrorTypeConnectorConflict, "Another operation is in progress for this connector")
		}
		return nil, result.Wrap(result.ErrorTypeInternalServerError, err, "Could not acquire the connector lease")
	}
	return release, nil
}

func (o *Orchestrator) lookup(ctx context.Context, id string) (*models.Connector, *result.Error) {
	connector, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return connector, nil
}

// lookupProvider treats an unregistered type as fatal: it is logged at error
// level and its cause stays reachable for errors.Is(err, providers.ErrUnknownProvider).
func (o *Orchestrator) lookupProvider(logger *slog.Logger, p models.ConnectorProvider) (providers.Behaviors, *result.Error) {
	behaviors, err := o.registry.Lookup(p)
	if err != nil {
		logger.Error("no behaviors registered for connector type", "provider", p, "error", err)
		return providers.Behaviors{}, result.Wrap(result.ErrorTypeInternalServerError, err, err.Error())
	}
	return behaviors, nil
}

func (o *Orchestrator) log(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, o.logger)
}

func (o *Orchestrator) observe(operation, provider string, rerr *result.Error) {
	outcome := "ok"
	if rerr != nil {
		outcome = string(rerr.Type)
	}
	if provider == "" {
		provider = "unknown"
	}
	o.recorder.Transition(operation, provider, outcome)
}

func storeError(err error) *result.Error {
	if errors.Is(err, database.ErrNotFound) {
		return result.NewError(result.ErrorTypeConnectorNotFound, "Connector not found")
	}
	return result.Wrap(result.ErrorTypeInternalServerError, err, "Could not look up the connector")
}

// asResultError keeps a *result.Error returned from a transaction callback
// and wraps anything else, such as a failed commit.
func asResultError(err error, message string) *result.Error {
	var rerr *result.Error
	if errors.As(err, &rerr) {
		return rerr
	}
	return result.Wrap(result.ErrorTypeInternalServerError, err, message)
}

type noopRecorder struct{}

func (noopRecorder) Transition(string, string, string) {}
