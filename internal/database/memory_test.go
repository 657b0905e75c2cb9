package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/STRATINT/connectors/internal/models"
)

func newConnector(id string) models.Connector {
	return models.Connector{
		ID:             id,
		Type:           models.ConnectorProviderSlack,
		WorkspaceID:    "ws1",
		DataSourceName: "managed-slack-" + id,
	}
}

func TestMemoryStoreTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := store.Connectors()
	slack := store.SlackConfigurations()

	require.NoError(t, repo.Create(ctx, newConnector("c1")))
	require.NoError(t, slack.Create(ctx, models.ProviderState{ConnectorID: "c1", ExternalID: "T1", ConnectionID: "conn"}))

	boom := errors.New("boom")
	err := store.Tx(ctx, func(ctx context.Context) error {
		require.NoError(t, slack.Delete(ctx, "c1"))
		require.NoError(t, repo.Delete(ctx, "c1"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.Get(ctx, "c1")
	assert.NoError(t, err, "connector should survive the rolled back transaction")
	_, err = slack.Get(ctx, "c1")
	assert.NoError(t, err, "auxiliary row should survive the rolled back transaction")
}

func TestMemoryStoreTxRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := store.Connectors()
	require.NoError(t, repo.Create(ctx, newConnector("c1")))

	assert.Panics(t, func() {
		_ = store.Tx(ctx, func(ctx context.Context) error {
			require.NoError(t, repo.Delete(ctx, "c1"))
			panic("provider exploded")
		})
	})

	_, err := repo.Get(ctx, "c1")
	assert.NoError(t, err)

	// The store must be usable again after the panic.
	require.NoError(t, store.Tx(ctx, func(ctx context.Context) error {
		return repo.Delete(ctx, "c1")
	}))
	_, err = repo.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreNestedTxJoins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := store.Connectors()

	err := store.Tx(ctx, func(ctx context.Context) error {
		require.NoError(t, repo.Create(ctx, newConnector("c1")))
		return store.Tx(ctx, func(ctx context.Context) error {
			_, err := repo.GetForUpdate(ctx, "c1")
			return err
		})
	})
	require.NoError(t, err)
}

func TestMemoryStoreGetForUpdateRequiresTx(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Connectors().GetForUpdate(context.Background(), "c1")
	assert.Error(t, err)
}

func TestMemoryStoreWaitsForRunningTx(t *testing.T) {
	store := NewMemoryStore()
	repo := store.Connectors()
	entered := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = store.Tx(context.Background(), func(ctx context.Context) error {
			close(entered)
			<-done
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := repo.List(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(done)
	_, err = repo.List(context.Background())
	assert.NoError(t, err)
}

func TestMemoryConnectorUniqueDataSource(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Connectors()

	c := newConnector("c1")
	require.NoError(t, repo.Create(ctx, c))

	dup := c
	dup.ID = "c2"
	assert.ErrorIs(t, repo.Create(ctx, dup), ErrConflict)
}

func TestMemorySyncBookkeeping(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().Connectors()
	require.NoError(t, repo.Create(ctx, newConnector("c1")))

	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	require.NoError(t, repo.SyncProgress(ctx, "c1", "12 channels"))
	require.NoError(t, repo.SyncStarted(ctx, "c1", t1))
	require.NoError(t, repo.SyncStarted(ctx, "c1", t0))

	c, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, c.LastSyncStartTime.Equal(t1), "start time must not move backwards")
	require.NotNil(t, c.FirstSyncProgress)
	assert.Equal(t, "12 channels", *c.FirstSyncProgress)

	require.NoError(t, repo.SyncSucceeded(ctx, "c1", t1))
	require.NoError(t, repo.SyncSucceeded(ctx, "c1", t1))

	c, err = repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSucceeded, c.LastSyncStatus)
	assert.True(t, c.FirstSuccessfulSyncTime.Equal(t1))
	assert.Nil(t, c.FirstSyncProgress)

	require.NoError(t, repo.SyncProgress(ctx, "c1", "ignored"))
	require.NoError(t, repo.SyncFailed(ctx, "c1", t0))

	c, err = repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, c.FirstSyncProgress, "progress is ignored after the first success")
	assert.Equal(t, models.SyncStatusSucceeded, c.LastSyncStatus, "a stale failure must not win")
	assert.True(t, c.LastSyncFinishTime.Equal(t1))

	t2 := t1.Add(time.Minute)
	require.NoError(t, repo.SyncFailed(ctx, "c1", t2))
	c, err = repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, c.LastSyncStatus)
	assert.True(t, c.LastSyncSuccessfulTime.Equal(t1))
	assert.True(t, c.FirstSuccessfulSyncTime.Equal(t1))
}

func TestMemoryProviderStateDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	notion := store.NotionStates()

	require.NoError(t, store.Connectors().Create(ctx, newConnector("c1")))
	require.NoError(t, notion.Create(ctx, models.ProviderState{ConnectorID: "c1", ExternalID: "W1", ConnectionID: "conn"}))

	require.NoError(t, notion.Delete(ctx, "c1"))
	require.NoError(t, notion.Delete(ctx, "c1"))

	_, err := notion.Get(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDataSources(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryStore().DataSources()

	id := "c1"
	provider := models.ConnectorProviderSlack
	require.NoError(t, repo.Create(ctx, models.DataSource{WorkspaceID: "ws1", Name: "managed-slack", ConnectorID: &id, ConnectorProvider: &provider}))
	require.NoError(t, repo.Create(ctx, models.DataSource{WorkspaceID: "ws1", Name: "docs"}))
	require.NoError(t, repo.Create(ctx, models.DataSource{WorkspaceID: "ws2", Name: "docs"}))

	assert.ErrorIs(t, repo.Create(ctx, models.DataSource{WorkspaceID: "ws1", Name: "docs"}), ErrConflict)

	list, err := repo.List(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "docs", list[0].Name)
	assert.True(t, list[1].Managed())

	require.NoError(t, repo.Delete(ctx, "ws1", "docs"))
	assert.ErrorIs(t, repo.Delete(ctx, "ws1", "docs"), ErrNotFound)
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()

	release, err := locker.TryLock(ctx, "connector:c1")
	require.NoError(t, err)

	_, err = locker.TryLock(ctx, "connector:c1")
	assert.ErrorIs(t, err, ErrConflict)

	other, err := locker.TryLock(ctx, "connector:c2")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := locker.TryLock(ctx, "connector:c1")
	require.NoError(t, err)
	again()
}
