package models

import "github.com/STRATINT/connectors/internal/result"

// CreateConnectorRequest is the body of POST /connectors/create/{provider}.
type CreateConnectorRequest struct {
	WorkspaceID     string `json:"workspaceId"`
	WorkspaceAPIKey string `json:"workspaceAPIKey"`
	DataSourceName  string `json:"dataSourceName"`
	ConnectionID    string `json:"connectionId"`
}

// ResumeConnectorRequest is the body of POST /connectors/resume/{provider}.
// An empty ConnectionID reuses the stored connection.
type ResumeConnectorRequest struct {
	WorkspaceID     string `json:"workspaceId"`
	WorkspaceAPIKey string `json:"workspaceAPIKey"`
	DataSourceName  string `json:"dataSourceName"`
	ConnectionID    string `json:"connectionId,omitempty"`
}

// DataSourceRef addresses a connector by the data source it backs. It is the
// body of pause and delete.
type DataSourceRef struct {
	WorkspaceID    string `json:"workspaceId"`
	DataSourceName string `json:"dataSourceName"`
}

// ConnectorIDResponse is returned by pause and resume.
type ConnectorIDResponse struct {
	ConnectorID string `json:"connectorId"`
}

// SuccessResponse is returned by delete.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is the body of every failed call.
type ErrorResponse struct {
	Error result.Error `json:"error"`
}
