package database

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/STRATINT/connectors/internal/models"
)

type memTxKey struct{}

func memTxFromContext(ctx context.Context) (*MemoryStore, bool) {
	s, ok := ctx.Value(memTxKey{}).(*MemoryStore)
	return s, ok
}

// MemoryStore is an in-memory replacement for the Postgres schema, used in
// tests and local development. Transactions are serialized and roll back by
// restoring a snapshot; operations outside a transaction wait for the running
// one to finish.
type MemoryStore struct {
	sem chan struct{}

	connectors  map[string]models.Connector
	states      map[string]map[string]models.ProviderState
	dataSources map[string]models.DataSource
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sem:        make(chan struct{}, 1),
		connectors: make(map[string]models.Connector),
		states: map[string]map[string]models.ProviderState{
			"slack_configurations":    {},
			"notion_connector_states": {},
		},
		dataSources: make(map[string]models.DataSource),
	}
}

type memSnapshot struct {
	connectors  map[string]models.Connector
	states      map[string]map[string]models.ProviderState
	dataSources map[string]models.DataSource
}

func (s *MemoryStore) snapshot() memSnapshot {
	states := make(map[string]map[string]models.ProviderState, len(s.states))
	for table, rows := range s.states {
		states[table] = maps.Clone(rows)
	}
	return memSnapshot{
		connectors:  maps.Clone(s.connectors),
		states:      states,
		dataSources: maps.Clone(s.dataSources),
	}
}

func (s *MemoryStore) restore(snap memSnapshot) {
	s.connectors = snap.connectors
	s.states = snap.states
	s.dataSources = snap.dataSources
}

// acquire takes exclusive access unless ctx already runs in one of this
// store's transactions.
func (s *MemoryStore) acquire(ctx context.Context) (func(), error) {
	if tx, ok := memTxFromContext(ctx); ok && tx == s {
		return func() {}, nil
	}
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Tx runs fn in a transaction. Every change made through a context returned
// to fn is discarded when fn fails or panics.
func (s *MemoryStore) Tx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if tx, ok := memTxFromContext(ctx); ok && tx == s {
		return fn(ctx)
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer release()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	if err := fn(context.WithValue(ctx, memTxKey{}, s)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Connectors returns the connector table.
func (s *MemoryStore) Connectors() *MemoryConnectorRepository {
	return &MemoryConnectorRepository{s: s}
}

// SlackConfigurations returns the Slack auxiliary table.
func (s *MemoryStore) SlackConfigurations() *MemoryProviderStateRepository {
	return &MemoryProviderStateRepository{s: s, table: "slack_configurations"}
}

// NotionStates returns the Notion auxiliary table.
func (s *MemoryStore) NotionStates() *MemoryProviderStateRepository {
	return &MemoryProviderStateRepository{s: s, table: "notion_connector_states"}
}

// DataSources returns the front service's data source table.
func (s *MemoryStore) DataSources() *MemoryDataSourceRepository {
	return &MemoryDataSourceRepository{s: s}
}

// MemoryConnectorRepository mirrors ConnectorRepository.
type MemoryConnectorRepository struct {
	s *MemoryStore
}

func (r *MemoryConnectorRepository) Tx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.s.Tx(ctx, fn)
}

func (r *MemoryConnectorRepository) Create(ctx context.Context, c models.Connector) error {
	release, err := r.s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if _, ok := r.s.connectors[c.ID]; ok {
		return fmt.Errorf("connector %s: %w", c.ID, ErrConflict)
	}
	for _, existing := range r.s.connectors {
		if existing.WorkspaceID == c.WorkspaceID && existing.DataSourceName == c.DataSourceName {
			return fmt.Errorf("connector for %s/%s: %w", c.WorkspaceID, c.DataSourceName, ErrConflict)
		}
	}

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	r.s.connectors[c.ID] = c
	return nil
}

func (r *MemoryConnectorRepository) Get(ctx context.Context, id string) (*models.Connector, error) {
	release, err := r.s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	c, ok := r.s.connectors[id]
	if !ok {
		return nil, fmt.Errorf("connector %s: %w", id, ErrNotFound)
	}
	return &c, nil
}

func (r *MemoryConnectorRepository) GetForUpdate(ctx context.Context, id string) (*models.Connector, error) {
	if tx, ok := memTxFromContext(ctx); !ok || tx != r.s {
		return nil, fmt.Errorf("GetForUpdate requires a transaction")
	}
	return r.Get(ctx, id)
}

func (r *MemoryConnectorRepository) FindByDataSource(ctx context.Context, provider models.ConnectorProvider, workspaceID, dataSourceName string) (*models.Connector, error) {
	release, err := r.s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	for _, c := range r.s.connectors {
		if c.Type == provider && c.WorkspaceID == workspaceID && c.DataSourceName == dataSourceName {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%s connector for %s/%s: %w", provider, workspaceID, dataSourceName, ErrNotFound)
}

func (r *MemoryConnectorRepository) List(ctx context.Context) ([]models.Connector, error) {
	release, err := r.s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	out := make([]models.Connector, 0, len(r.s.connectors))
	for _, c := range r.s.connectors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryConnectorRepository) Delete(ctx context.Context, id string) error {
	return r.update(ctx, id, func(*models.Connector) bool {
		delete(r.s.connectors, id)
		return false
	})
}

func (r *MemoryConnectorRepository) SetPaused(ctx context.Context, id string, pausedAt *time.Time) error {
	return r.update(ctx, id, func(c *models.Connector) bool {
		c.PausedAt = pausedAt
		return true
	})
}

func (r *MemoryConnectorRepository) SyncStarted(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, func(c *models.Connector) bool {
		c.LastSyncStartTime = latest(c.LastSyncStartTime, at)
		return true
	})
}

func (r *MemoryConnectorRepository) SyncSucceeded(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, func(c *models.Connector) bool {
		if c.LastSyncFinishTime == nil || !c.LastSyncFinishTime.After(at) {
			c.LastSyncStatus = models.SyncStatusSucceeded
		}
		c.LastSyncFinishTime = latest(c.LastSyncFinishTime, at)
		c.LastSyncSuccessfulTime = latest(c.LastSyncSuccessfulTime, at)
		if c.FirstSuccessfulSyncTime == nil {
			t := at.UTC()
			c.FirstSuccessfulSyncTime = &t
		}
		c.FirstSyncProgress = nil
		return true
	})
}

func (r *MemoryConnectorRepository) SyncFailed(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, func(c *models.Connector) bool {
		if c.LastSyncFinishTime == nil || c.LastSyncFinishTime.Before(at) {
			c.LastSyncStatus = models.SyncStatusFailed
		}
		c.LastSyncFinishTime = latest(c.LastSyncFinishTime, at)
		return true
	})
}

func (r *MemoryConnectorRepository) SyncProgress(ctx context.Context, id string, progress string) error {
	err := r.update(ctx, id, func(c *models.Connector) bool {
		if c.FirstSuccessfulSyncTime != nil {
			return false
		}
		c.FirstSyncProgress = &progress
		return true
	})
	// Matches the SQL form, where an unknown id updates zero rows.
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// update applies fn to the stored record and saves it when fn returns true.
func (r *MemoryConnectorRepository) update(ctx context.Context, id string, fn func(*models.Connector) bool) error {
	release, err := r.s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	c, ok := r.s.connectors[id]
	if !ok {
		return fmt.Errorf("connector %s: %w", id, ErrNotFound)
	}
	if fn(&c) {
		c.UpdatedAt = time.Now().UTC()
		r.s.connectors[id] = c
	}
	return nil
}

func latest(current *time.Time, at time.Time) *time.Time {
	at = at.UTC()
	if current != nil && current.After(at) {
		return current
	}
	return &at
}

// MemoryProviderStateRepository mirrors ProviderStateRepository.
type MemoryProviderStateRepository struct {
	s     *MemoryStore
	table string
}

func (r *MemoryProviderStateRepository) Create(ctx context.Context, state models.ProviderState) error {
	release, err := r.s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if _, ok := r.s.connectors[state.ConnectorID]; !ok {
		return fmt.Errorf("%s row references unknown connector %s", r.table, state.ConnectorID)
	}
	if _, ok := r.s.states[r.table][state.ConnectorID]; ok {
		return fmt.Errorf("%s row for connector %s: %w", r.table, state.ConnectorID, ErrConflict)
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now().UTC()
	}
	r.s.states[r.table][state.ConnectorID] = state
	return nil
}

func (r *MemoryProviderStateRepository) Get(ctx context.Context, connectorID string) (*models.ProviderState, error) {
	release, err := r.s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	state, ok := r.s.states[r.table][connectorID]
	if !ok {
		return nil, fmt.Errorf("%s row for connector %s: %w", r.table, connectorID, ErrNotFound)
	}
	return &state, nil
}

func (r *MemoryProviderStateRepository) UpdateConnection(ctx context.Context, connectorID, connectionID string) error {
	release, err := r.s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	state, ok := r.s.states[r.table][connectorID]
	if !ok {
		return fmt.Errorf("%s row for connector %s: %w", r.table, connectorID, ErrNotFound)
	}
	state.ConnectionID = connectionID
	r.s.states[r.table][connectorID] = state
	return nil
}

func (r *MemoryProviderStateRepository) Delete(ctx context.Context, connectorID string) error {
	release, err := r.s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	delete(r.s.states[r.table], connectorID)
	return nil
}

// MemoryDataSourceRepository mirrors DataSourceRepository.
type MemoryDataSourceRepository struct {
	s *MemoryStore
}

func dataSourceKey(workspaceID, name string) string {
	return workspaceID + "/" + name
}

func (r *MemoryDataSourceRepository) Create(ctx context.Context, ds models.DataSource) error {
	release, err := r.s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	key := dataSourceKey(ds.WorkspaceID, ds.Name)
	if _, ok := r.s.dataSources[key]; ok {
		return fmt.Errorf("data source %s: %w", key, ErrConflict)
	}
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = time.Now().UTC()
	}
	r.s.dataSources[key] = ds
	return nil
}

func (r *MemoryDataSourceRepository) Get(ctx context.Context, workspaceID, name string) (*models.DataSource, error) {
	release, err := r.s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ds, ok := r.s.dataSources[dataSourceKey(workspaceID, name)]
	if !ok {
		return nil, fmt.Errorf("data source %s/%s: %w", workspaceID, name, ErrNotFound)
	}
	return &ds, nil
}

func (r *MemoryDataSourceRepository) List(ctx context.Context, workspaceID string) ([]models.DataSource, error) {
	release, err := r.s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var out []models.DataSource
	for _, ds := range r.s.dataSources {
		if ds.WorkspaceID == workspaceID {
			out = append(out, ds)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryDataSourceRepository) Delete(ctx context.Context, workspaceID, name string) error {
	release, err := r.s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	key := dataSourceKey(workspaceID, name)
	if _, ok := r.s.dataSources[key]; !ok {
		return fmt.Errorf("data source %s: %w", key, ErrNotFound)
	}
	delete(r.s.dataSources, key)
	return nil
}

// MemoryLocker is the in-process counterpart of Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewMemoryLocker creates an empty locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]bool)}
}

// TryLock acquires the lease for key without waiting.
func (l *MemoryLocker) TryLock(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return nil, fmt.Errorf("lock %s: %w", key, ErrConflict)
	}
	l.held[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
