package models

import "time"

// ProviderState is the provider-specific row attached to a connector. It is
// released by the provider cleaner in the same transaction that deletes the
// connector record.
type ProviderState struct {
	ConnectorID string `json:"connector_id"`
	// ExternalID identifies the remote tenant: the Slack team or the
	// Notion workspace.
	ExternalID   string    `json:"external_id"`
	ConnectionID string    `json:"connection_id"`
	CreatedAt    time.Time `json:"created_at"`
}
