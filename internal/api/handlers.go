package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/STRATINT/connectors/internal/lifecycle"
	"github.com/STRATINT/connectors/internal/logging"
	"github.com/STRATINT/connectors/internal/models"
	"github.com/STRATINT/connectors/internal/result"
	"log/slog"
)

// Lifecycle is the part of the orchestrator the connector routes use.
type Lifecycle interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) result.Result[models.Connector]
	Pause(ctx context.Context, id string) result.Result[string]
	Resume(ctx context.Context, id, credentials string) result.Result[string]
	Delete(ctx context.Context, id string) result.Result[result.Void]
	Get(ctx context.Context, id string) result.Result[models.Connector]
	FindByDataSource(ctx context.Context, provider models.ConnectorProvider, workspaceID, dataSourceName string) result.Result[models.Connector]
}

// Handler serves the connector lifecycle endpoints.
type Handler struct {
	lifecycle Lifecycle
	logger    *slog.Logger
}

func NewHandler(lifecycle Lifecycle, logger *slog.Logger) *Handler {
	return &Handler{lifecycle: lifecycle, logger: logger}
}

// AddHandlers registers the connector routes on r.
func (h *Handler) AddHandlers(r *mux.Router) {
	r.HandleFunc("/connectors/create/{provider}", h.CreateConnector).Methods(http.MethodPost)
	r.HandleFunc("/connectors/pause/{provider}", h.PauseConnector).Methods(http.MethodPost)
	r.HandleFunc("/connectors/resume/{provider}", h.ResumeConnector).Methods(http.MethodPost)
	r.HandleFunc("/connectors/delete/{provider}", h.DeleteConnector).Methods(http.MethodDelete)
	r.HandleFunc("/connectors/{connector_id}", h.DeleteConnectorByID).Methods(http.MethodDelete)
	r.HandleFunc("/connectors/{connector_id}", h.GetConnector).Methods(http.MethodGet)
}

// CreateConnector handles POST /connectors/create/{provider}
func (h *Handler) CreateConnector(w http.ResponseWriter, r *http.Request) {
	provider, rerr := providerParam(r)
	if rerr != nil {
		WriteError(w, rerr)
		return
	}

	var req models.CreateConnectorRequest
	if rerr := DecodeJSON(r, &req); rerr != nil {
		WriteError(w, rerr)
		return
	}

	ctx := h.requestContext(r, "provider", provider, "workspace_id", req.WorkspaceID)
	res := h.lifecycle.Create(ctx, lifecycle.CreateRequest{
		Provider:       provider,
		WorkspaceID:    req.WorkspaceID,
		DataSourceName: req.DataSourceName,
		Credentials:    req.ConnectionID,
	})
	WriteResult(w, res, func(c models.Connector) any { return c.Summary() })
}

// PauseConnector handles POST /connectors/pause/{provider}
func (h *Handler) PauseConnector(w http.ResponseWriter, r *http.Request) {
	var ref models.DataSourceRef
	if rerr := DecodeJSON(r, &ref); rerr != nil {
		WriteError(w, rerr)
		return
	}
	ctx, connector, ok := h.resolve(w, r, ref)
	if !ok {
		return
	}
	WriteResult(w, h.lifecycle.Pause(ctx, connector.ID), connectorIDResponse)
}

// ResumeConnector handles POST /connectors/resume/{provider}
func (h *Handler) ResumeConnector(w http.ResponseWriter, r *http.Request) {
	var req models.ResumeConnectorRequest
	if rerr := DecodeJSON(r, &req); rerr != nil {
		WriteError(w, rerr)
		return
	}
	ctx, connector, ok := h.resolve(w, r, models.DataSourceRef{WorkspaceID: req.WorkspaceID, DataSourceName: req.DataSourceName})
	if !ok {
		return
	}
	WriteResult(w, h.lifecycle.Resume(ctx, connector.ID, req.ConnectionID), connectorIDResponse)
}

// DeleteConnector handles DELETE /connectors/delete/{provider}
func (h *Handler) DeleteConnector(w http.ResponseWriter, r *http.Request) {
	var ref models.DataSourceRef
	if rerr := DecodeJSON(r, &ref); rerr != nil {
		WriteError(w, rerr)
		return
	}
	ctx, connector, ok := h.resolve(w, r, ref)
	if !ok {
		return
	}
	WriteResult(w, h.lifecycle.Delete(ctx, connector.ID), successResponse)
}

// DeleteConnectorByID handles DELETE /connectors/{connector_id}
func (h *Handler) DeleteConnectorByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["connector_id"]
	ctx := h.requestContext(r, "connector_id", id)
	WriteResult(w, h.lifecycle.Delete(ctx, id), successResponse)
}

// GetConnector handles GET /connectors/{connector_id}
func (h *Handler) GetConnector(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["connector_id"]
	ctx := h.requestContext(r, "connector_id", id)
	WriteResult(w, h.lifecycle.Get(ctx, id), func(c models.Connector) any { return c.Summary() })
}

// resolve looks up the connector backing a data source of the route's
// provider. It writes the error response itself when ok is false.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, ref models.DataSourceRef) (context.Context, models.Connector, bool) {
	provider, rerr := providerParam(r)
	if rerr != nil {
		WriteError(w, rerr)
		return nil, models.Connector{}, false
	}
	if ref.WorkspaceID == "" || ref.DataSourceName == "" {
		WriteError(w, invalidRequest("workspaceId and dataSourceName are required"))
		return nil, models.Connector{}, false
	}

	ctx := h.requestContext(r, "provider", provider, "workspace_id", ref.WorkspaceID)
	connector, rerr := h.lifecycle.FindByDataSource(ctx, provider, ref.WorkspaceID, ref.DataSourceName).Unpack()
	if rerr != nil {
		WriteError(w, rerr)
		return nil, models.Connector{}, false
	}
	return logging.WithContext(ctx, logging.FromContext(ctx, h.logger).With("connector_id", connector.ID)), connector, true
}

func (h *Handler) requestContext(r *http.Request, attrs ...any) context.Context {
	ctx := r.Context()
	return logging.WithContext(ctx, logging.FromContext(ctx, h.logger).With(attrs...))
}

func providerParam(r *http.Request) (models.ConnectorProvider, *result.Error) {
	provider, err := models.ParseConnectorProvider(mux.Vars(r)["provider"])
	if err != nil {
		return "", result.Wrap(result.ErrorTypeInvalidRequest, err, err.Error())
	}
	return provider, nil
}

func connectorIDResponse(id string) any {
	return models.ConnectorIDResponse{ConnectorID: id}
}

func successResponse(result.Void) any {
	return models.SuccessResponse{Success: true}
}
