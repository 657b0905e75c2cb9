// Package providers maps every connector type to the behaviors the lifecycle
// orchestrator dispatches to.
package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/STRATINT/connectors/internal/models"
	"github.com/STRATINT/connectors/internal/result"
)

// ErrUnknownProvider is returned by Lookup for a tag with no registered
// behaviors. It signals a deployment error, never a missing connector.
var ErrUnknownProvider = errors.New("unknown connector provider")

// CreateParams identifies the data source a new connector backs and the
// broker credential it syncs with.
type CreateParams struct {
	WorkspaceID    string
	DataSourceName string
	Credentials    string
}

// Creator provisions a connector and its provider state in the transaction
// carried by ctx, and returns the new connector id.
type Creator func(ctx context.Context, params CreateParams) result.Result[string]

// Stopper halts the connector's worker. Stopping a stopped connector succeeds.
type Stopper func(ctx context.Context, connectorID string) result.Result[result.Void]

// Cleaner releases provider-side resources in the transaction carried by ctx.
// It must be safe to run again after a failed attempt.
type Cleaner func(ctx context.Context, connectorID string) result.Result[result.Void]

// Resumer restarts the connector's worker. An empty credentials string reuses
// the stored connection.
type Resumer func(ctx context.Context, connectorID, credentials string) result.Result[result.Void]

// Behaviors is the dispatch table entry of one provider.
type Behaviors struct {
	Create Creator
	Stop   Stopper
	Clean  Cleaner
	Resume Resumer
}

func (b Behaviors) complete() error {
	switch {
	case b.Create == nil:
		return errors.New("missing creator")
	case b.Stop == nil:
		return errors.New("missing stopper")
	case b.Clean == nil:
		return errors.New("missing cleaner")
	case b.Resume == nil:
		return errors.New("missing resumer")
	}
	return nil
}

// Registry is the immutable provider dispatch table.
type Registry struct {
	behaviors map[models.ConnectorProvider]Behaviors
}

// NewRegistry validates that every supported provider has all four
// behaviors. The process must not start otherwise.
func NewRegistry(behaviors map[models.ConnectorProvider]Behaviors) (*Registry, error) {
	table := make(map[models.ConnectorProvider]Behaviors, len(behaviors))
	for _, p := range models.AllProviders() {
		b, ok := behaviors[p]
		if !ok {
			return nil, fmt.Errorf("provider %s: no behaviors registered", p)
		}
		if err := b.complete(); err != nil {
			return nil, fmt.Errorf("provider %s: %w", p, err)
		}
		table[p] = b
	}
	for p := range behaviors {
		if _, ok := table[p]; !ok {
			return nil, fmt.Errorf("provider %s: %w", p, ErrUnknownProvider)
		}
	}
	return &Registry{behaviors: table}, nil
}

// Lookup returns the behaviors registered for p.
func (r *Registry) Lookup(p models.ConnectorProvider) (Behaviors, error) {
	b, ok := r.behaviors[p]
	if !ok {
		return Behaviors{}, fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
	return b, nil
}
