package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/STRATINT/connectors/internal/database"
	"github.com/STRATINT/connectors/internal/models"
	"github.com/STRATINT/connectors/internal/result"
	"github.com/STRATINT/connectors/internal/worker"
)

// ConnectorStore inserts connector records.
type ConnectorStore interface {
	Create(ctx context.Context, c models.Connector) error
}

// StateStore holds the provider's auxiliary rows.
type StateStore interface {
	Create(ctx context.Context, s models.ProviderState) error
	Get(ctx context.Context, connectorID string) (*models.ProviderState, error)
	UpdateConnection(ctx context.Context, connectorID, connectionID string) error
	Delete(ctx context.Context, connectorID string) error
}

// Broker resolves and revokes broker connections.
type Broker interface {
	AccessToken(ctx context.Context, integrationID, connectionID string) (string, error)
	DeleteConnection(ctx context.Context, integrationID, connectionID string) error
}

// Supervisor runs connector workers.
type Supervisor interface {
	Start(connectorID string, fn worker.SyncFunc) bool
	Stop(ctx context.Context, connectorID string) error
}

// Remote is the provider API a connector syncs from.
type Remote interface {
	// Validate checks an access token and returns the remote tenant id.
	Validate(ctx context.Context, token string) (string, error)
	// Sync performs one synchronization run with token.
	Sync(ctx context.Context, token string, progress worker.ProgressFunc) error
}

// OAuthConfig wires a provider whose credentials live in the broker.
type OAuthConfig struct {
	Provider      models.ConnectorProvider
	IntegrationID string
	Connectors    ConnectorStore
	States        StateStore
	Broker        Broker
	Supervisor    Supervisor
	Remote        Remote
	// Timeout bounds stop and clean.
	Timeout time.Duration
	Logger  *slog.Logger
}

type oauthConnector struct {
	OAuthConfig
}

// NewOAuthBehaviors builds the four lifecycle behaviors of a broker-backed
// provider.
func NewOAuthBehaviors(cfg OAuthConfig) Behaviors {
	c := &oauthConnector{OAuthConfig: cfg}
	return Behaviors{
		Create: c.create,
		Stop:   c.stop,
		Clean:  c.clean,
		Resume: c.resume,
	}
}

func (c *oauthConnector) create(ctx context.Context, params CreateParams) result.Result[string] {
	if params.Credentials == "" {
		return result.Err[string](result.NewError(result.ErrorTypeInvalidRequest, "a connection id is required"))
	}

	token, err := c.Broker.AccessToken(ctx, c.IntegrationID, params.Credentials)
	if err != nil {
		return result.Err[string](result.Errorf(result.ErrorTypeProviderError, "failed to resolve %s credentials: %v", c.Provider, err))
	}

	externalID, err := c.Remote.Validate(ctx, token)
	if err != nil {
		return result.Err[string](result.Errorf(result.ErrorTypeProviderError, "invalid %s credentials: %v", c.Provider, err))
	}

	connector := models.Connector{
		ID:             uuid.NewString(),
		Type:           c.Provider,
		WorkspaceID:    params.WorkspaceID,
		DataSourceName: params.DataSourceName,
	}
	if err := c.Connectors.Create(ctx, connector); err != nil {
		if errors.Is(err, database.ErrConflict) {
			return result.Err[string](result.Errorf(result.ErrorTypeConnectorConflict,
				"a connector already exists for data source %s", params.DataSourceName))
		}
		return result.Err[string](result.Wrap(result.ErrorTypeInternalServerError, err, "failed to create connector"))
	}

	state := models.ProviderState{
		ConnectorID:  connector.ID,
		ExternalID:   externalID,
		ConnectionID: params.Credentials,
	}
	if err := c.States.Create(ctx, state); err != nil {
		return result.Err[string](result.Wrap(result.ErrorTypeInternalServerError, err, "failed to store provider state"))
	}

	c.Logger.Info("connector created", "connector_id", connector.ID, "provider", c.Provider, "external_id", externalID)
	return result.Ok(connector.ID)
}

func (c *oauthConnector) stop(ctx context.Context, connectorID string) result.Result[result.Void] {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	if err := c.Supervisor.Stop(ctx, connectorID); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return result.Err[result.Void](result.NewError(result.ErrorTypeProviderError, "timeout"))
		}
		return result.Err[result.Void](result.NewError(result.ErrorTypeProviderError, err.Error()))
	}
	return result.OkVoid()
}

func (c *oauthConnector) clean(ctx context.Context, connectorID string) result.Result[result.Void] {
	// A worker may have been restarted since the orchestrator stopped it.
	if res := c.stop(ctx, connectorID); res.IsErr() {
		return res
	}

	state, err := c.States.Get(ctx, connectorID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		// Released by an earlier attempt.
		return result.OkVoid()
	case err != nil:
		return result.Err[result.Void](result.Wrap(result.ErrorTypeInternalServerError, err, "failed to read provider state"))
	}

	brokerCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	if err := c.Broker.DeleteConnection(brokerCtx, c.IntegrationID, state.ConnectionID); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return result.Err[result.Void](result.NewError(result.ErrorTypeProviderError, "timeout"))
		}
		return result.Err[result.Void](result.Errorf(result.ErrorTypeProviderError, "failed to revoke %s connection: %v", c.Provider, err))
	}

	if err := c.States.Delete(ctx, connectorID); err != nil {
		return result.Err[result.Void](result.Wrap(result.ErrorTypeInternalServerError, err, "failed to delete provider state"))
	}
	return result.OkVoid()
}

func (c *oauthConnector) resume(ctx context.Context, connectorID, credentials string) result.Result[result.Void] {
	connectionID := credentials
	if connectionID == "" {
		state, err := c.States.Get(ctx, connectorID)
		if err != nil {
			return result.Err[result.Void](result.Wrap(result.ErrorTypeInternalServerError, err, "no stored connection for connector"))
		}
		connectionID = state.ConnectionID
	}

	if _, err := c.Broker.AccessToken(ctx, c.IntegrationID, connectionID); err != nil {
		return result.Err[result.Void](result.Errorf(result.ErrorTypeProviderError, "failed to resolve %s credentials: %v", c.Provider, err))
	}

	if credentials != "" {
		if err := c.States.UpdateConnection(ctx, connectorID, credentials); err != nil {
			return result.Err[result.Void](result.Wrap(result.ErrorTypeInternalServerError, err, "failed to store connection"))
		}
	}

	if c.Supervisor.Start(connectorID, c.syncFunc(connectionID)) {
		c.Logger.Info("connector worker started", "connector_id", connectorID, "provider", c.Provider)
	}
	return result.OkVoid()
}

// syncFunc resolves a fresh token for every run since broker tokens expire.
func (c *oauthConnector) syncFunc(connectionID string) worker.SyncFunc {
	return func(ctx context.Context, progress worker.ProgressFunc) error {
		token, err := c.Broker.AccessToken(ctx, c.IntegrationID, connectionID)
		if err != nil {
			return fmt.Errorf("failed to resolve credentials: %w", err)
		}
		return c.Remote.Sync(ctx, token, progress)
	}
}
