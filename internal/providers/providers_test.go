package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/STRATINT/connectors/internal/models"
	"github.com/STRATINT/connectors/internal/result"
)

func noopBehaviors() Behaviors {
	return Behaviors{
		Create: func(context.Context, CreateParams) result.Result[string] { return result.Ok("id") },
		Stop:   func(context.Context, string) result.Result[result.Void] { return result.OkVoid() },
		Clean:  func(context.Context, string) result.Result[result.Void] { return result.OkVoid() },
		Resume: func(context.Context, string, string) result.Result[result.Void] { return result.OkVoid() },
	}
}

func fullTable() map[models.ConnectorProvider]Behaviors {
	table := make(map[models.ConnectorProvider]Behaviors)
	for _, p := range models.AllProviders() {
		table[p] = noopBehaviors()
	}
	return table
}

func TestNewRegistryRequiresEveryProvider(t *testing.T) {
	table := fullTable()
	delete(table, models.ConnectorProviderNotion)

	_, err := NewRegistry(table)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion")
}

func TestNewRegistryRequiresEveryBehavior(t *testing.T) {
	tests := map[string]func(*Behaviors){
		"creator": func(b *Behaviors) { b.Create = nil },
		"stopper": func(b *Behaviors) { b.Stop = nil },
		"cleaner": func(b *Behaviors) { b.Clean = nil },
		"resumer": func(b *Behaviors) { b.Resume = nil },
	}

	for name, strip := range tests {
		t.Run(name, func(t *testing.T) {
			table := fullTable()
			b := table[models.ConnectorProviderSlack]
			strip(&b)
			table[models.ConnectorProviderSlack] = b

			_, err := NewRegistry(table)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "missing "+name)
		})
	}
}

func TestNewRegistryRejectsUnsupportedTag(t *testing.T) {
	table := fullTable()
	table["github"] = noopBehaviors()

	_, err := NewRegistry(table)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestLookup(t *testing.T) {
	registry, err := NewRegistry(fullTable())
	require.NoError(t, err)

	b, err := registry.Lookup(models.ConnectorProviderSlack)
	require.NoError(t, err)
	assert.True(t, b.Stop(context.Background(), "c1").IsOk())

	_, err = registry.Lookup("github")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
