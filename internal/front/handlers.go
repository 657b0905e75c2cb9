package front

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/STRATINT/connectors/internal/api"
	"github.com/STRATINT/connectors/internal/models"
	"github.com/STRATINT/connectors/internal/result"
)

// Handler serves the workspace data source endpoints of the front service.
type Handler struct {
	managed *ManagedDataSources
	logger  *slog.Logger
}

func NewHandler(managed *ManagedDataSources, logger *slog.Logger) *Handler {
	return &Handler{managed: managed, logger: logger}
}

// AddHandlers registers the data source routes on r.
func (h *Handler) AddHandlers(r *mux.Router) {
	r.HandleFunc("/api/w/{wId}/data_sources", h.ListDataSources).Methods(http.MethodGet)
	r.HandleFunc("/api/w/{wId}/data_sources/managed/{provider}", h.EnableManaged).Methods(http.MethodPost)
	r.HandleFunc("/api/w/{wId}/data_sources/managed/{provider}", h.DisableManaged).Methods(http.MethodDelete)
}

type enableBody struct {
	ConnectionID    string `json:"connectionId"`
	WorkspaceAPIKey string `json:"workspaceAPIKey,omitempty"`
}

type dataSourcesResponse struct {
	DataSources []DataSourceView `json:"dataSources"`
}

type dataSourceResponse struct {
	DataSource models.DataSource `json:"dataSource"`
}

// ListDataSources handles GET /api/w/{wId}/data_sources
func (h *Handler) ListDataSources(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["wId"]
	api.WriteResult(w, h.managed.List(r.Context(), workspaceID), func(views []DataSourceView) any {
		return dataSourcesResponse{DataSources: views}
	})
}

// EnableManaged handles POST /api/w/{wId}/data_sources/managed/{provider}
func (h *Handler) EnableManaged(w http.ResponseWriter, r *http.Request) {
	provider, rerr := providerVar(r)
	if rerr != nil {
		api.WriteError(w, rerr)
		return
	}

	var body enableBody
	if rerr := api.DecodeJSON(r, &body); rerr != nil {
		api.WriteError(w, rerr)
		return
	}
	if body.ConnectionID == "" {
		api.WriteError(w, result.NewError(result.ErrorTypeInvalidRequest, "connectionId is required"))
		return
	}

	res := h.managed.Enable(r.Context(), EnableRequest{
		WorkspaceID:     mux.Vars(r)["wId"],
		WorkspaceAPIKey: body.WorkspaceAPIKey,
		Provider:        provider,
		ConnectionID:    body.ConnectionID,
	})
	api.WriteResult(w, res, func(ds models.DataSource) any { return dataSourceResponse{DataSource: ds} })
}

// DisableManaged handles DELETE /api/w/{wId}/data_sources/managed/{provider}
func (h *Handler) DisableManaged(w http.ResponseWriter, r *http.Request) {
	provider, rerr := providerVar(r)
	if rerr != nil {
		api.WriteError(w, rerr)
		return
	}
	res := h.managed.Disable(r.Context(), mux.Vars(r)["wId"], provider)
	api.WriteResult(w, res, func(result.Void) any { return models.SuccessResponse{Success: true} })
}

func providerVar(r *http.Request) (models.ConnectorProvider, *result.Error) {
	provider, err := models.ParseConnectorProvider(mux.Vars(r)["provider"])
	if err != nil {
		return "", result.Wrap(result.ErrorTypeInvalidRequest, err, err.Error())
	}
	return provider, nil
}
