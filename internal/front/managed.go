package front

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/STRATINT/connectors/internal/database"
	"github.com/STRATINT/connectors/internal/models"
	"github.com/STRATINT/connectors/internal/result"
)

// ConnectorsAPI is the part of Client the managed data source operations use.
type ConnectorsAPI interface {
	CreateConnector(ctx context.Context, provider models.ConnectorProvider, req models.CreateConnectorRequest) result.Result[models.ConnectorSummary]
	DeleteConnector(ctx context.Context, provider models.ConnectorProvider, ref models.DataSourceRef) result.Result[result.Void]
	DeleteConnectorByID(ctx context.Context, connectorID string) result.Result[result.Void]
	GetConnector(ctx context.Context, connectorID string) result.Result[models.ConnectorSummary]
}

// DataSourceStore persists data sources.
type DataSourceStore interface {
	Create(ctx context.Context, ds models.DataSource) error
	Get(ctx context.Context, workspaceID, name string) (*models.DataSource, error)
	List(ctx context.Context, workspaceID string) ([]models.DataSource, error)
	Delete(ctx context.Context, workspaceID, name string) error
}

// ManagedDataSources keeps data sources and their connectors in step.
type ManagedDataSources struct {
	api    ConnectorsAPI
	store  DataSourceStore
	logger *slog.Logger
}

// NewManagedDataSources wires the managed data source operations.
func NewManagedDataSources(api ConnectorsAPI, store DataSourceStore, logger *slog.Logger) *ManagedDataSources {
	return &ManagedDataSources{api: api, store: store, logger: logger}
}

// EnableRequest asks for a provider's managed data source in a workspace.
type EnableRequest struct {
	WorkspaceID     string
	WorkspaceAPIKey string
	Provider        models.ConnectorProvider
	ConnectionID    string
}

// Enable creates the connector and then the data source pointing at it. If
// the data source cannot be stored, or the create has an unknown outcome, the
// connector is deleted again.
func (m *ManagedDataSources) Enable(ctx context.Context, req EnableRequest) result.Result[models.DataSource] {
	name := models.ManagedDataSourceName(req.Provider)
	logger := m.logger.With("workspace_id", req.WorkspaceID, "provider", req.Provider)

	_, err := m.store.Get(ctx, req.WorkspaceID, name)
	switch {
	case err == nil:
		return result.Err[models.DataSource](result.Errorf(result.ErrorTypeDataSourceAlreadyExists,
			"A data source named %s already exists", name))
	case !errors.Is(err, database.ErrNotFound):
		return result.Err[models.DataSource](result.Wrap(result.ErrorTypeInternalServerError, err, "Failed to look up the data source"))
	}

	created := m.api.CreateConnector(ctx, req.Provider, models.CreateConnectorRequest{
		WorkspaceID:     req.WorkspaceID,
		WorkspaceAPIKey: req.WorkspaceAPIKey,
		DataSourceName:  name,
		ConnectionID:    req.ConnectionID,
	})
	if created.IsErr() {
		if created.Error().OutcomeUnknown() {
			logger.Warn("connector creation outcome unknown, deleting connector", "error", created.Error())
			m.deleteOrphan(ctx, logger, req.Provider, models.DataSourceRef{WorkspaceID: req.WorkspaceID, DataSourceName: name})
		}
		return result.Err[models.DataSource](created.Error())
	}

	connectorID := created.Value().ID
	provider := req.Provider
	ds := models.DataSource{
		WorkspaceID:       req.WorkspaceID,
		Name:              name,
		Description:       "Managed " + string(req.Provider) + " data source",
		ConnectorID:       &connectorID,
		ConnectorProvider: &provider,
		CreatedAt:         time.Now().UTC(),
	}
	if err := m.store.Create(ctx, ds); err != nil {
		logger.Error("failed to store data source, deleting connector", "connector_id", connectorID, "error", err)
		if deleted := m.api.DeleteConnectorByID(ctx, connectorID); deleted.IsErr() {
			logger.Error("failed to delete connector of unsaved data source", "connector_id", connectorID, "error", deleted.Error())
		}
		return result.Err[models.DataSource](result.Wrap(result.ErrorTypeInternalServerError, err, "Failed to create the data source"))
	}

	logger.Info("managed data source enabled", "connector_id", connectorID)
	return result.Ok(ds)
}

// Disable deletes the connector, then the data source. When the connector
// delete has an unknown outcome the data source is kept so that the link to
// a possibly live connector is not lost.
func (m *ManagedDataSources) Disable(ctx context.Context, workspaceID string, provider models.ConnectorProvider) result.Result[result.Void] {
	name := models.ManagedDataSourceName(provider)
	logger := m.logger.With("workspace_id", workspaceID, "provider", provider)

	ds, err := m.store.Get(ctx, workspaceID, name)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// A connector left behind by an interrupted Enable has no data
			// source. Removing it lets the provider be enabled again.
			if m.deleteOrphan(ctx, logger, provider, models.DataSourceRef{WorkspaceID: workspaceID, DataSourceName: name}) {
				return result.OkVoid()
			}
			return result.Err[result.Void](result.Errorf(result.ErrorTypeDataSourceNotFound, "Data source %s not found", name))
		}
		return result.Err[result.Void](result.Wrap(result.ErrorTypeInternalServerError, err, "Failed to look up the data source"))
	}
	if !ds.Managed() {
		return result.Err[result.Void](result.Errorf(result.ErrorTypeInvalidRequest, "Data source %s is not managed", name))
	}

	deleted := m.api.DeleteConnectorByID(ctx, *ds.ConnectorID)
	if deleted.IsErr() && deleted.Error().Type != result.ErrorTypeConnectorNotFound {
		logger.Warn("failed to delete connector, keeping data source", "connector_id", *ds.ConnectorID, "error", deleted.Error())
		return deleted
	}

	if err := m.store.Delete(ctx, workspaceID, name); err != nil && !errors.Is(err, database.ErrNotFound) {
		return result.Err[result.Void](result.Wrap(result.ErrorTypeInternalServerError, err, "Failed to delete the data source"))
	}

	logger.Info("managed data source disabled", "connector_id", *ds.ConnectorID)
	return result.OkVoid()
}

// deleteOrphan deletes the connector backing a data source that does not
// exist. It reports whether a connector was deleted.
func (m *ManagedDataSources) deleteOrphan(ctx context.Context, logger *slog.Logger, provider models.ConnectorProvider, ref models.DataSourceRef) bool {
	deleted := m.api.DeleteConnector(ctx, provider, ref)
	switch {
	case deleted.IsOk():
		logger.Warn("deleted connector without data source", "data_source", ref.DataSourceName)
		return true
	case deleted.Error().Type == result.ErrorTypeConnectorNotFound:
		return false
	default:
		logger.Error("failed to delete connector without data source", "data_source", ref.DataSourceName, "error", deleted.Error())
		return false
	}
}

// DataSourceView is one row of the data source listing.
type DataSourceView struct {
	Name                string                    `json:"name"`
	Description         string                    `json:"description,omitempty"`
	Provider            *models.ConnectorProvider `json:"provider,omitempty"`
	Enabled             bool                      `json:"enabled"`
	Connector           *models.ConnectorSummary  `json:"connector,omitempty"`
	FetchConnectorError bool                      `json:"fetchConnectorError"`
	SynchronizedAgo     string                    `json:"synchronizedAgo,omitempty"`
}

// List returns the workspace's unmanaged data sources followed by one entry
// per supported provider. Connector details are best effort: a failed fetch
// marks its entry instead of failing the listing.
func (m *ManagedDataSources) List(ctx context.Context, workspaceID string) result.Result[[]DataSourceView] {
	sources, err := m.store.List(ctx, workspaceID)
	if err != nil {
		return result.Err[[]DataSourceView](result.Wrap(result.ErrorTypeInternalServerError, err, "Failed to list data sources"))
	}

	var views []DataSourceView
	managed := make(map[models.ConnectorProvider]models.DataSource)
	for _, ds := range sources {
		if ds.Managed() && ds.ConnectorProvider != nil {
			managed[*ds.ConnectorProvider] = ds
			continue
		}
		views = append(views, DataSourceView{Name: ds.Name, Description: ds.Description, Enabled: true})
	}

	all := models.AllProviders()
	providerViews := make([]DataSourceView, len(all))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range all {
		i, p := i, p // per-iteration copies (go directive < 1.22)
		view := DataSourceView{Name: models.ManagedDataSourceName(p), Provider: &p}
		ds, ok := managed[p]
		if !ok {
			providerViews[i] = view
			continue
		}
		view.Description = ds.Description
		view.Enabled = true
		connectorID := *ds.ConnectorID

		g.Go(func() error {
			fetched := m.api.GetConnector(gctx, connectorID)
			if fetched.IsErr() {
				m.logger.Warn("failed to fetch connector", "connector_id", connectorID, "error", fetched.Error())
				view.FetchConnectorError = true
				providerViews[i] = view
				return nil
			}
			summary := fetched.Value()
			view.Connector = &summary
			if summary.LastSyncSuccessfulTime != nil {
				view.SynchronizedAgo = humanize.Time(time.UnixMilli(*summary.LastSyncSuccessfulTime))
			}
			providerViews[i] = view
			return nil
		})
	}
	_ = g.Wait()

	return result.Ok(append(views, providerViews...))
}
