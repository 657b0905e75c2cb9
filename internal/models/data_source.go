package models

import "time"

// DataSource is a named container for documents owned by the front service.
// It is managed when ConnectorID is set; a data source never changes category.
type DataSource struct {
	WorkspaceID       string             `json:"workspace_id"`
	Name              string             `json:"name"`
	Description       string             `json:"description,omitempty"`
	ConnectorID       *string            `json:"connector_id,omitempty"`
	ConnectorProvider *ConnectorProvider `json:"connector_provider,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
}

// Managed reports whether a connector backs the data source.
func (d DataSource) Managed() bool {
	return d.ConnectorID != nil
}

// ManagedDataSourceName is the data source name used for a provider's
// managed data source in a workspace.
func ManagedDataSourceName(provider ConnectorProvider) string {
	return "managed-" + string(provider)
}
