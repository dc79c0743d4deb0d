package registry

import (
	"context"
	"errors"
	"fmt"

	"federegistry/pkg/protocol"
	"federegistry/pkg/store"
	"federegistry/pkg/types"

	"go.uber.org/zap"
)

// Directory is the node's active list of trusted registries.
type Directory struct {
	deps      Deps
	publisher *Publisher
	retractor *Retractor
}

func NewDirectory(deps Deps, publisher *Publisher, retractor *Retractor) *Directory {
	return &Directory{
		deps:      deps.withDefaults(),
		publisher: publisher,
		retractor: retractor,
	}
}

// Get returns the stored directory, empty if none has been set.
func (d *Directory) Get(ctx context.Context) (types.Registries, error) {
	raw, err := d.deps.Store.Read(ctx, types.RegistriesKey)
	if errors.Is(err, store.ErrNotFound) {
		return types.Registries{}, nil
	}
	if err != nil {
		return types.Registries{}, fmt.Errorf("failed to read directory: %w", err)
	}

	regs, err := protocol.DecodeRegistries(raw)
	if err != nil {
		return types.Registries{}, fmt.Errorf("stored directory: %w", err)
	}
	return regs, nil
}

// Set replaces the directory with regs: it retracts this node's record from
// every registry in the current directory, stores regs, then publishes to
// every registry in regs. The steps are not transactional; a failure after
// the store leaves regs active with some registries unpublished, and the
// returned error names them.
func (d *Directory) Set(ctx context.Context, regs types.Registries) error {
	regs = regs.Clone()

	current, err := d.Get(ctx)
	if err != nil {
		// without the old list there is nothing to retract from
		d.deps.Logger.Warn("Cannot read current directory, skipping retraction", zap.Error(err))
		current = types.Registries{}
	}

	if err := d.retractor.Retract(ctx, current); err != nil {
		return fmt.Errorf("directory not replaced: %w", err)
	}

	if err := d.deps.Store.Write(ctx, types.RegistriesKey, protocol.EncodeRegistries(regs)); err != nil {
		return fmt.Errorf("failed to store directory: %w", err)
	}
	if m := d.deps.Metrics; m != nil {
		m.DirectorySize.Set(float64(regs.Len()))
	}

	d.deps.Logger.Info("Directory updated",
		zap.Int("previous", current.Len()),
		zap.Int("registries", regs.Len()))

	return d.publisher.Publish(ctx, regs)
}
