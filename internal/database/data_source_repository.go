package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/STRATINT/connectors/internal/models"
)

// DataSourceRepository persists the front service's data sources.
type DataSourceRepository struct {
	db *DB
}

// NewDataSourceRepository creates a new PostgreSQL data source repository.
func NewDataSourceRepository(db *DB) *DataSourceRepository {
	return &DataSourceRepository{db: db}
}

// Create inserts a data source. A duplicate name in the workspace yields ErrConflict.
func (r *DataSourceRepository) Create(ctx context.Context, ds models.DataSource) error {
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO data_sources (workspace_id, name, description, connector_id, connector_provider, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		ds.WorkspaceID, ds.Name, ds.Description, ds.ConnectorID, ds.ConnectorProvider, ds.CreatedAt,
	)
	return toError(err, "failed to create data source %s/%s", ds.WorkspaceID, ds.Name)
}

// Get retrieves a data source by workspace and name.
func (r *DataSourceRepository) Get(ctx context.Context, workspaceID, name string) (*models.DataSource, error) {
	query := `
		SELECT workspace_id, name, description, connector_id, connector_provider, created_at
		FROM data_sources
		WHERE workspace_id = $1 AND name = $2
	`
	ds, err := scanDataSource(r.db.conn(ctx).QueryRowContext(ctx, query, workspaceID, name))
	if err != nil {
		return nil, toError(err, "failed to get data source %s/%s", workspaceID, name)
	}
	return ds, nil
}

// List returns the data sources of a workspace ordered by name.
func (r *DataSourceRepository) List(ctx context.Context, workspaceID string) ([]models.DataSource, error) {
	query := `
		SELECT workspace_id, name, description, connector_id, connector_provider, created_at
		FROM data_sources
		WHERE workspace_id = $1
		ORDER BY name ASC
	`
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}
	defer rows.Close()

	var out []models.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		out = append(out, *ds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating data sources: %w", err)
	}
	return out, nil
}

// Delete removes a data source. An absent data source yields ErrNotFound.
func (r *DataSourceRepository) Delete(ctx context.Context, workspaceID, name string) error {
	res, err := r.db.conn(ctx).ExecContext(ctx,
		`DELETE FROM data_sources WHERE workspace_id = $1 AND name = $2`, workspaceID, name)
	if err != nil {
		return toError(err, "failed to delete data source %s/%s", workspaceID, name)
	}
	return expectOneRow(res, "data source %s/%s", workspaceID, name)
}

func scanDataSource(row rowScanner) (*models.DataSource, error) {
	var (
		ds          models.DataSource
		connectorID sql.NullString
		provider    sql.NullString
	)
	if err := row.Scan(&ds.WorkspaceID, &ds.Name, &ds.Description, &connectorID, &provider, &ds.CreatedAt); err != nil {
		return nil, err
	}
	if connectorID.Valid {
		ds.ConnectorID = &connectorID.String
	}
	if provider.Valid {
		p := models.ConnectorProvider(provider.String)
		ds.ConnectorProvider = &p
	}
	return &ds, nil
}
