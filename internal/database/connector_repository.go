package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/STRATINT/connectors/internal/models"
)

const connectorColumns = `
	id, type, workspace_id, data_source_name,
	last_sync_status, last_sync_start_time, last_sync_finish_time,
	last_sync_successful_time, first_successful_sync_time, first_sync_progress,
	paused_at, created_at, updated_at`

// ConnectorRepository persists connector records in PostgreSQL. Every method
// runs inside the transaction carried by ctx when there is one.
type ConnectorRepository struct {
	db *DB
}

// NewConnectorRepository creates a new PostgreSQL connector repository.
func NewConnectorRepository(db *DB) *ConnectorRepository {
	return &ConnectorRepository{db: db}
}

// Tx runs fn in a transaction shared by every repository built on the same DB.
func (r *ConnectorRepository) Tx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.Tx(ctx, fn)
}

// Create inserts a new connector record. A second connector for the same
// workspace data source yields ErrConflict.
func (r *ConnectorRepository) Create(ctx context.Context, c models.Connector) error {
	query := `
		INSERT INTO connectors (
			id, type, workspace_id, data_source_name, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $5)
	`
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.conn(ctx).ExecContext(ctx, query,
		c.ID, c.Type, c.WorkspaceID, c.DataSourceName, c.CreatedAt,
	)
	return toError(err, "failed to create connector %s", c.ID)
}

// Get retrieves a connector by ID.
func (r *ConnectorRepository) Get(ctx context.Context, id string) (*models.Connector, error) {
	query := `SELECT ` + connectorColumns + ` FROM connectors WHERE id = $1`
	c, err := scanConnector(r.db.conn(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, toError(err, "failed to get connector %s", id)
	}
	return c, nil
}

// GetForUpdate retrieves a connector and locks its row until the surrounding
// transaction ends. A row locked by another transaction yields ErrConflict
// rather than blocking.
func (r *ConnectorRepository) GetForUpdate(ctx context.Context, id string) (*models.Connector, error) {
	if _, ok := txFromContext(ctx); !ok {
		return nil, fmt.Errorf("GetForUpdate requires a transaction")
	}

	query := `SELECT ` + connectorColumns + ` FROM connectors WHERE id = $1 FOR UPDATE NOWAIT`
	c, err := scanConnector(r.db.conn(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, toError(err, "failed to lock connector %s", id)
	}
	return c, nil
}

// FindByDataSource retrieves the connector of the given type backing a
// workspace data source.
func (r *ConnectorRepository) FindByDataSource(ctx context.Context, provider models.ConnectorProvider, workspaceID, dataSourceName string) (*models.Connector, error) {
	query := `SELECT ` + connectorColumns + `
		FROM connectors
		WHERE type = $1 AND workspace_id = $2 AND data_source_name = $3`

	c, err := scanConnector(r.db.conn(ctx).QueryRowContext(ctx, query, provider, workspaceID, dataSourceName))
	if err != nil {
		return nil, toError(err, "failed to find %s connector for %s/%s", provider, workspaceID, dataSourceName)
	}
	return c, nil
}

// List returns every connector ordered by creation time.
func (r *ConnectorRepository) List(ctx context.Context) ([]models.Connector, error) {
	query := `SELECT ` + connectorColumns + ` FROM connectors ORDER BY created_at ASC`

	rows, err := r.db.conn(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list connectors: %w", err)
	}
	defer rows.Close()

	var connectors []models.Connector
	for rows.Next() {
		c, err := scanConnector(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connector: %w", err)
		}
		connectors = append(connectors, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connectors: %w", err)
	}

	return connectors, nil
}

// Delete removes a connector record. Deleting an absent record yields ErrNotFound.
func (r *ConnectorRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM connectors WHERE id = $1`, id)
	if err != nil {
		return toError(err, "failed to delete connector %s", id)
	}
	return expectOneRow(res, "connector %s", id)
}

// SetPaused records or clears the pause marker.
func (r *ConnectorRepository) SetPaused(ctx context.Context, id string, pausedAt *time.Time) error {
	query := `UPDATE connectors SET paused_at = $2, updated_at = NOW() WHERE id = $1`
	res, err := r.db.conn(ctx).ExecContext(ctx, query, id, pausedAt)
	if err != nil {
		return toError(err, "failed to update pause state of connector %s", id)
	}
	return expectOneRow(res, "connector %s", id)
}

// SyncStarted records the start of a sync run. The start time never moves
// backwards.
func (r *ConnectorRepository) SyncStarted(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE connectors
		SET last_sync_start_time = GREATEST(COALESCE(last_sync_start_time, $2), $2),
		    updated_at = NOW()
		WHERE id = $1
	`
	return r.updateSync(ctx, "sync start", id, query, at)
}

// SyncSucceeded records a successful sync run and clears the first sync
// progress marker.
func (r *ConnectorRepository) SyncSucceeded(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE connectors
		SET last_sync_status = CASE
		        WHEN last_sync_finish_time IS NULL OR last_sync_finish_time <= $2 THEN 'succeeded'
		        ELSE last_sync_status END,
		    last_sync_finish_time = GREATEST(COALESCE(last_sync_finish_time, $2), $2),
		    last_sync_successful_time = GREATEST(COALESCE(last_sync_successful_time, $2), $2),
		    first_successful_sync_time = COALESCE(first_successful_sync_time, $2),
		    first_sync_progress = NULL,
		    updated_at = NOW()
		WHERE id = $1
	`
	return r.updateSync(ctx, "sync success", id, query, at)
}

// SyncFailed records a failed sync run.
func (r *ConnectorRepository) SyncFailed(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE connectors
		SET last_sync_status = CASE
		        WHEN last_sync_finish_time IS NULL OR last_sync_finish_time < $2 THEN 'failed'
		        ELSE last_sync_status END,
		    last_sync_finish_time = GREATEST(COALESCE(last_sync_finish_time, $2), $2),
		    updated_at = NOW()
		WHERE id = $1
	`
	return r.updateSync(ctx, "sync failure", id, query, at)
}

// SyncProgress records first sync progress. It is ignored once the connector
// has completed a successful sync.
func (r *ConnectorRepository) SyncProgress(ctx context.Context, id string, progress string) error {
	query := `
		UPDATE connectors
		SET first_sync_progress = $2, updated_at = NOW()
		WHERE id = $1 AND first_successful_sync_time IS NULL
	`
	_, err := r.db.conn(ctx).ExecContext(ctx, query, id, progress)
	return toError(err, "failed to record sync progress of connector %s", id)
}

func (r *ConnectorRepository) updateSync(ctx context.Context, what, id, query string, at time.Time) error {
	res, err := r.db.conn(ctx).ExecContext(ctx, query, id, at.UTC())
	if err != nil {
		return toError(err, "failed to record %s of connector %s", what, id)
	}
	return expectOneRow(res, "connector %s", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnector(row rowScanner) (*models.Connector, error) {
	var (
		c        models.Connector
		status   sql.NullString
		progress sql.NullString
	)

	err := row.Scan(
		&c.ID,
		&c.Type,
		&c.WorkspaceID,
		&c.DataSourceName,
		&status,
		&c.LastSyncStartTime,
		&c.LastSyncFinishTime,
		&c.LastSyncSuccessfulTime,
		&c.FirstSuccessfulSyncTime,
		&progress,
		&c.PausedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.LastSyncStatus = models.SyncStatus(status.String)
	if progress.Valid {
		c.FirstSyncProgress = &progress.String
	}
	return &c, nil
}

func expectOneRow(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return nil
}
