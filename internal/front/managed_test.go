package front

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/STRATINT/connectors/internal/database"
	"github.com/STRATINT/connectors/internal/models"
	"github.com/STRATINT/connectors/internal/result"
)

type fakeConnectorsAPI struct {
	mu        sync.Mutex
	createErr *result.Error
	deleteErr *result.Error
	getErr    map[string]*result.Error
	created   []models.CreateConnectorRequest
	deleted   []string
	summaries map[string]models.ConnectorSummary

	// responseLost commits the next create but answers with a transport
	// failure, as when the response is dropped on the way back.
	responseLost bool
	refDeleteErr *result.Error
}

func newFakeConnectorsAPI() *fakeConnectorsAPI {
	return &fakeConnectorsAPI{
		getErr:    make(map[string]*result.Error),
		summaries: make(map[string]models.ConnectorSummary),
	}
}

func (f *fakeConnectorsAPI) CreateConnector(ctx context.Context, provider models.ConnectorProvider, req models.CreateConnectorRequest) result.Result[models.ConnectorSummary] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return result.Err[models.ConnectorSummary](f.createErr)
	}
	if _, ok := f.findLocked(provider, req.WorkspaceID, req.DataSourceName); ok {
		return result.Err[models.ConnectorSummary](result.NewError(result.ErrorTypeConnectorConflict, "Connector already exists for this data source"))
	}
	summary := models.ConnectorSummary{
		ID:             "conn-" + string(provider),
		Type:           provider,
		WorkspaceID:    req.WorkspaceID,
		DataSourceName: req.DataSourceName,
	}
	f.summaries[summary.ID] = summary
	if f.responseLost {
		f.responseLost = false
		return result.Err[models.ConnectorSummary](result.NewError(result.ErrorTypeTransportFailure, "Unexpected response status: 502 Bad Gateway"))
	}
	return result.Ok(summary)
}

func (f *fakeConnectorsAPI) findLocked(provider models.ConnectorProvider, workspaceID, name string) (string, bool) {
	for id, s := range f.summaries {
		if s.Type == provider && s.WorkspaceID == workspaceID && s.DataSourceName == name {
			return id, true
		}
	}
	return "", false
}

func (f *fakeConnectorsAPI) DeleteConnector(ctx context.Context, provider models.ConnectorProvider, ref models.DataSourceRef) result.Result[result.Void] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refDeleteErr != nil {
		return result.Err[result.Void](f.refDeleteErr)
	}
	id, ok := f.findLocked(provider, ref.WorkspaceID, ref.DataSourceName)
	if !ok {
		return result.Err[result.Void](result.NewError(result.ErrorTypeConnectorNotFound, "Connector not found"))
	}
	f.deleted = append(f.deleted, id)
	delete(f.summaries, id)
	return result.OkVoid()
}

func (f *fakeConnectorsAPI) connectorCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.summaries)
}

func (f *fakeConnectorsAPI) DeleteConnectorByID(ctx context.Context, connectorID string) result.Result[result.Void] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, connectorID)
	if f.deleteErr != nil {
		return result.Err[result.Void](f.deleteErr)
	}
	delete(f.summaries, connectorID)
	return result.OkVoid()
}

func (f *fakeConnectorsAPI) GetConnector(ctx context.Context, connectorID string) result.Result[models.ConnectorSummary] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rerr := f.getErr[connectorID]; rerr != nil {
		return result.Err[models.ConnectorSummary](rerr)
	}
	summary, ok := f.summaries[connectorID]
	if !ok {
		return result.Err[models.ConnectorSummary](result.NewError(result.ErrorTypeConnectorNotFound, "Connector not found"))
	}
	return result.Ok(summary)
}

// failingStore refuses inserts and delegates everything else.
type failingStore struct {
	DataSourceStore
}

func (failingStore) Create(context.Context, models.DataSource) error {
	return errors.New("disk full")
}

func newManaged(api ConnectorsAPI, store DataSourceStore) *ManagedDataSources {
	return NewManagedDataSources(api, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func enableSlack(t *testing.T, m *ManagedDataSources) models.DataSource {
	t.Helper()
	res := m.Enable(context.Background(), EnableRequest{
		WorkspaceID:     "ws1",
		WorkspaceAPIKey: "key",
		Provider:        models.ConnectorProviderSlack,
		ConnectionID:    "oauth-1",
	})
	require.True(t, res.IsOk(), "unexpected error: %v", res.Error())
	return res.Value()
}

func TestEnableCreatesConnectorAndDataSource(t *testing.T) {
	api := newFakeConnectorsAPI()
	store := database.NewMemoryStore().DataSources()
	m := newManaged(api, store)

	ds := enableSlack(t, m)
	assert.Equal(t, "managed-slack", ds.Name)
	require.NotNil(t, ds.ConnectorID)
	assert.Equal(t, "conn-slack", *ds.ConnectorID)

	require.Len(t, api.created, 1)
	assert.Equal(t, "managed-slack", api.created[0].DataSourceName)
	assert.Equal(t, "oauth-1", api.created[0].ConnectionID)

	stored, err := store.Get(context.Background(), "ws1", "managed-slack")
	require.NoError(t, err)
	assert.True(t, stored.Managed())
	assert.Equal(t, models.ConnectorProviderSlack, *stored.ConnectorProvider)
}

func TestEnableRejectsExistingDataSource(t *testing.T) {
	api := newFakeConnectorsAPI()
	m := newManaged(api, database.NewMemoryStore().DataSources())
	enableSlack(t, m)

	res := m.Enable(context.Background(), EnableRequest{WorkspaceID: "ws1", Provider: models.ConnectorProviderSlack, ConnectionID: "oauth-2"})
	require.True(t, res.IsErr())
	assert.Equal(t, result.ErrorTypeDataSourceAlreadyExists, res.Error().Type)
	assert.Len(t, api.created, 1)
}

func TestEnableCreateFailureWritesNothing(t *testing.T) {
	api := newFakeConnectorsAPI()
	api.createErr = result.NewError(result.ErrorTypeProviderError, "invalid oauth connection")
	store := database.NewMemoryStore().DataSources()
	m := newManaged(api, store)

	res := m.Enable(context.Background(), EnableRequest{WorkspaceID: "ws1", Provider: models.ConnectorProviderNotion, ConnectionID: "bad"})
	require.True(t, res.IsErr())
	assert.Equal(t, result.ErrorTypeProviderError, res.Error().Type)

	_, err := store.Get(context.Background(), "ws1", "managed-notion")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestEnableStoreFailureDeletesConnector(t *testing.T) {
	api := newFakeConnectorsAPI()
	m := newManaged(api, failingStore{DataSourceStore: database.NewMemoryStore().DataSources()})

	res := m.Enable(context.Background(), EnableRequest{WorkspaceID: "ws1", Provider: models.ConnectorProviderSlack, ConnectionID: "oauth-1"})
	require.True(t, res.IsErr())
	assert.Equal(t, result.ErrorTypeInternalServerError, res.Error().Type)
	assert.Equal(t, []string{"conn-slack"}, api.deleted)
}

func TestDisableDeletesConnectorThenDataSource(t *testing.T) {
	api := newFakeConnectorsAPI()
	store := database.NewMemoryStore().DataSources()
	m := newManaged(api, store)
	enableSlack(t, m)

	res := m.Disable(context.Background(), "ws1", models.ConnectorProviderSlack)
	require.True(t, res.IsOk(), "unexpected error: %v", res.Error())
	assert.Equal(t, []string{"conn-slack"}, api.deleted)

	_, err := store.Get(context.Background(), "ws1", "managed-slack")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestDisableKeepsDataSourceOnTransportFailure(t *testing.T) {
	api := newFakeConnectorsAPI()
	store := database.NewMemoryStore().DataSources()
	m := newManaged(api, store)
	enableSlack(t, m)

	api.deleteErr = result.NewError(result.ErrorTypeTransportFailure, "Unexpected response status: 502 Bad Gateway")
	res := m.Disable(context.Background(), "ws1", models.ConnectorProviderSlack)
	require.True(t, res.IsErr())
	assert.True(t, res.Error().OutcomeUnknown())

	stored, err := store.Get(context.Background(), "ws1", "managed-slack")
	require.NoError(t, err)
	assert.Equal(t, "conn-slack", *stored.ConnectorID)
}

func TestDisableToleratesMissingConnector(t *testing.T) {
	api := newFakeConnectorsAPI()
	store := database.NewMemoryStore().DataSources()
	m := newManaged(api, store)
	enableSlack(t, m)

	api.deleteErr = result.NewError(result.ErrorTypeConnectorNotFound, "Connector not found")
	res := m.Disable(context.Background(), "ws1", models.ConnectorProviderSlack)
	require.True(t, res.IsOk(), "unexpected error: %v", res.Error())

	_, err := store.Get(context.Background(), "ws1", "managed-slack")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestDisableErrors(t *testing.T) {
	store := database.NewMemoryStore().DataSources()
	m := newManaged(newFakeConnectorsAPI(), store)

	res := m.Disable(context.Background(), "ws1", models.ConnectorProviderNotion)
	require.True(t, res.IsErr())
	assert.Equal(t, result.ErrorTypeDataSourceNotFound, res.Error().Type)

	require.NoError(t, store.Create(context.Background(), models.DataSource{
		WorkspaceID: "ws1",
		Name:        "managed-notion",
		CreatedAt:   time.Now().UTC(),
	}))
	res = m.Disable(context.Background(), "ws1", models.ConnectorProviderNotion)
	require.True(t, res.IsErr())
	assert.Equal(t, result.ErrorTypeInvalidRequest, res.Error().Type)
}

func TestListMarksFetchFailures(t *testing.T) {
	api := newFakeConnectorsAPI()
	store := database.NewMemoryStore().DataSources()
	m := newManaged(api, store)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, models.DataSource{WorkspaceID: "ws1", Name: "uploads", Description: "Files", CreatedAt: time.Now().UTC()}))
	enableSlack(t, m)
	require.True(t, m.Enable(ctx, EnableRequest{WorkspaceID: "ws1", Provider: models.ConnectorProviderNotion, ConnectionID: "oauth-n"}).IsOk())

	synced := time.Now().Add(-2 * time.Hour).UnixMilli()
	slack := api.summaries["conn-slack"]
	slack.LastSyncSuccessfulTime = &synced
	api.summaries["conn-slack"] = slack
	api.getErr["conn-notion"] = result.NewError(result.ErrorTypeTransportFailure, "connection refused")

	res := m.List(ctx, "ws1")
	require.True(t, res.IsOk(), "unexpected error: %v", res.Error())
	views := res.Value()
	require.Len(t, views, 1+len(models.AllProviders()))

	assert.Equal(t, "uploads", views[0].Name)
	assert.Nil(t, views[0].Provider)

	byName := make(map[string]DataSourceView)
	for _, v := range views[1:] {
		byName[v.Name] = v
	}

	slackView := byName["managed-slack"]
	assert.True(t, slackView.Enabled)
	require.NotNil(t, slackView.Connector)
	assert.Equal(t, "conn-slack", slackView.Connector.ID)
	assert.Equal(t, "2 hours ago", slackView.SynchronizedAgo)
	assert.False(t, slackView.FetchConnectorError)

	notionView := byName["managed-notion"]
	assert.True(t, notionView.Enabled)
	assert.True(t, notionView.FetchConnectorError)
	assert.Nil(t, notionView.Connector)
}

func TestListShowsDisabledProviders(t *testing.T) {
	m := newManaged(newFakeConnectorsAPI(), database.NewMemoryStore().DataSources())

	res := m.List(context.Background(), "ws1")
	require.True(t, res.IsOk())
	for _, v := range res.Value() {
		assert.False(t, v.Enabled, v.Name)
		assert.NotNil(t, v.Provider, v.Name)
	}
}

func TestEnableUnknownOutcomeDeletesConnector(t *testing.T) {
	api := newFakeConnectorsAPI()
	api.responseLost = true
	store := database.NewMemoryStore().DataSources()
	m := newManaged(api, store)
	ctx := context.Background()

	res := m.Enable(ctx, EnableRequest{WorkspaceID: "ws1", Provider: models.ConnectorProviderSlack, ConnectionID: "oauth-1"})
	require.True(t, res.IsErr())
	assert.Equal(t, result.ErrorTypeTransportFailure, res.Error().Type)
	assert.Zero(t, api.connectorCount(), "the committed connector is deleted again")
	assert.Equal(t, []string{"conn-slack"}, api.deleted)

	_, err := store.Get(ctx, "ws1", "managed-slack")
	assert.ErrorIs(t, err, database.ErrNotFound)

	// The workspace can enable the provider again.
	ds := enableSlack(t, m)
	assert.Equal(t, "conn-slack", *ds.ConnectorID)
}

func TestDisableRemovesConnectorLeftWithoutDataSource(t *testing.T) {
	api := newFakeConnectorsAPI()
	api.responseLost = true
	api.refDeleteErr = result.NewError(result.ErrorTypeTransportFailure, "connection refused")
	store := database.NewMemoryStore().DataSources()
	m := newManaged(api, store)
	ctx := context.Background()

	res := m.Enable(ctx, EnableRequest{WorkspaceID: "ws1", Provider: models.ConnectorProviderSlack, ConnectionID: "oauth-1"})
	require.True(t, res.IsErr())
	require.Equal(t, 1, api.connectorCount(), "compensation failed, the connector is left behind")

	retry := m.Enable(ctx, EnableRequest{WorkspaceID: "ws1", Provider: models.ConnectorProviderSlack, ConnectionID: "oauth-1"})
	require.True(t, retry.IsErr())
	assert.Equal(t, result.ErrorTypeConnectorConflict, retry.Error().Type)

	api.refDeleteErr = nil
	require.True(t, m.Disable(ctx, "ws1", models.ConnectorProviderSlack).IsOk())
	assert.Zero(t, api.connectorCount())

	again := m.Disable(ctx, "ws1", models.ConnectorProviderSlack)
	require.True(t, again.IsErr())
	assert.Equal(t, result.ErrorTypeDataSourceNotFound, again.Error().Type)

	enableSlack(t, m)
}
