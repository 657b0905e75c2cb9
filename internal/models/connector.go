package models

import (
	"fmt"
	"time"
)

// ConnectorProvider is the closed set of provider tags a connector can have.
type ConnectorProvider string

const (
	ConnectorProviderSlack  ConnectorProvider = "slack"
	ConnectorProviderNotion ConnectorProvider = "notion"
)

// AllProviders lists every supported provider. The provider registry refuses
// to start unless each of them has a full set of behaviors.
func AllProviders() []ConnectorProvider {
	return []ConnectorProvider{ConnectorProviderSlack, ConnectorProviderNotion}
}

// ParseConnectorProvider validates a provider tag coming from a request.
func ParseConnectorProvider(raw string) (ConnectorProvider, error) {
	for _, p := range AllProviders() {
		if string(p) == raw {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown connector provider %q", raw)
}

// SyncStatus is the outcome of the last synchronization run.
type SyncStatus string

const (
	SyncStatusUnset     SyncStatus = ""
	SyncStatusSucceeded SyncStatus = "succeeded"
	SyncStatusFailed    SyncStatus = "failed"
)

// ConnectorState is the lifecycle state seen by the orchestrator. A deleted
// connector has no record, so it has no state value.
type ConnectorState string

const (
	ConnectorStateActive ConnectorState = "active"
	ConnectorStatePaused ConnectorState = "paused"
)

// Connector is the persisted record of one provider integration instance.
type Connector struct {
	ID             string            `json:"id"`
	Type           ConnectorProvider `json:"type"`
	WorkspaceID    string            `json:"workspace_id"`
	DataSourceName string            `json:"data_source_name"`

	// Sync bookkeeping, written only by the worker supervising the connector.
	LastSyncStatus          SyncStatus `json:"last_sync_status,omitempty"`
	LastSyncStartTime       *time.Time `json:"last_sync_start_time,omitempty"`
	LastSyncFinishTime      *time.Time `json:"last_sync_finish_time,omitempty"`
	LastSyncSuccessfulTime  *time.Time `json:"last_sync_successful_time,omitempty"`
	FirstSuccessfulSyncTime *time.Time `json:"first_successful_sync_time,omitempty"`
	FirstSyncProgress       *string    `json:"first_sync_progress,omitempty"`

	PausedAt  *time.Time `json:"paused_at,omitempty"` // Set while the worker is paused
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// State derives the lifecycle state from the record.
func (c Connector) State() ConnectorState {
	if c.PausedAt != nil {
		return ConnectorStatePaused
	}
	return ConnectorStateActive
}

// ConnectorSummary is the wire representation returned by the connectors API.
// Times are epoch milliseconds.
type ConnectorSummary struct {
	ID                      string            `json:"id"`
	Type                    ConnectorProvider `json:"type"`
	WorkspaceID             string            `json:"workspaceId"`
	DataSourceName          string            `json:"dataSourceName"`
	LastSyncStatus          SyncStatus        `json:"lastSyncStatus,omitempty"`
	LastSyncStartTime       *int64            `json:"lastSyncStartTime,omitempty"`
	LastSyncFinishTime      *int64            `json:"lastSyncFinishTime,omitempty"`
	LastSyncSuccessfulTime  *int64            `json:"lastSyncSuccessfulTime,omitempty"`
	FirstSuccessfulSyncTime *int64            `json:"firstSuccessfulSyncTime,omitempty"`
	FirstSyncProgress       *string           `json:"firstSyncProgress,omitempty"`
	PausedAt                *int64            `json:"pausedAt,omitempty"`
}

// Summary converts the record to its wire form without altering any field.
func (c Connector) Summary() ConnectorSummary {
	return ConnectorSummary{
		ID:                      c.ID,
		Type:                    c.Type,
		WorkspaceID:             c.WorkspaceID,
		DataSourceName:          c.DataSourceName,
		LastSyncStatus:          c.LastSyncStatus,
		LastSyncStartTime:       millis(c.LastSyncStartTime),
		LastSyncFinishTime:      millis(c.LastSyncFinishTime),
		LastSyncSuccessfulTime:  millis(c.LastSyncSuccessfulTime),
		FirstSuccessfulSyncTime: millis(c.FirstSuccessfulSyncTime),
		FirstSyncProgress:       c.FirstSyncProgress,
		PausedAt:                millis(c.PausedAt),
	}
}

func millis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
