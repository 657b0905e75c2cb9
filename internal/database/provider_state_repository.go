package database

import (
	"context"
	"fmt"
	"time"

	"github.com/STRATINT/connectors/internal/models"
)

// ProviderStateRepository stores the auxiliary row of one provider. Slack and
// Notion keep the same shape in their own tables.
type ProviderStateRepository struct {
	db             *DB
	table          string
	externalColumn string
}

// NewSlackConfigurationRepository stores Slack team bindings.
func NewSlackConfigurationRepository(db *DB) *ProviderStateRepository {
	return &ProviderStateRepository{db: db, table: "slack_configurations", externalColumn: "slack_team_id"}
}

// NewNotionStateRepository stores Notion workspace bindings.
func NewNotionStateRepository(db *DB) *ProviderStateRepository {
	return &ProviderStateRepository{db: db, table: "notion_connector_states", externalColumn: "notion_workspace_id"}
}

// Create inserts the auxiliary row of a connector.
func (r *ProviderStateRepository) Create(ctx context.Context, s models.ProviderState) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (connector_id, %s, connection_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, r.table, r.externalColumn)

	_, err := r.db.conn(ctx).ExecContext(ctx, query, s.ConnectorID, s.ExternalID, s.ConnectionID, s.CreatedAt)
	return toError(err, "failed to create %s row for connector %s", r.table, s.ConnectorID)
}

// Get retrieves the auxiliary row of a connector.
func (r *ProviderStateRepository) Get(ctx context.Context, connectorID string) (*models.ProviderState, error) {
	query := fmt.Sprintf(`
		SELECT connector_id, %s, connection_id, created_at
		FROM %s
		WHERE connector_id = $1
	`, r.externalColumn, r.table)

	var s models.ProviderState
	err := r.db.conn(ctx).QueryRowContext(ctx, query, connectorID).Scan(
		&s.ConnectorID, &s.ExternalID, &s.ConnectionID, &s.CreatedAt,
	)
	if err != nil {
		return nil, toError(err, "failed to get %s row for connector %s", r.table, connectorID)
	}
	return &s, nil
}

// UpdateConnection replaces the stored broker connection id.
func (r *ProviderStateRepository) UpdateConnection(ctx context.Context, connectorID, connectionID string) error {
	query := fmt.Sprintf(`UPDATE %s SET connection_id = $2 WHERE connector_id = $1`, r.table)
	res, err := r.db.conn(ctx).ExecContext(ctx, query, connectorID, connectionID)
	if err != nil {
		return toError(err, "failed to update %s row for connector %s", r.table, connectorID)
	}
	return expectOneRow(res, "%s row for connector %s", r.table, connectorID)
}

// Delete removes the auxiliary row. An absent row is not an error so that a
// cleaner can be retried.
func (r *ProviderStateRepository) Delete(ctx context.Context, connectorID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE connector_id = $1`, r.table)
	_, err := r.db.conn(ctx).ExecContext(ctx, query, connectorID)
	return toError(err, "failed to delete %s row for connector %s", r.table, connectorID)
}
