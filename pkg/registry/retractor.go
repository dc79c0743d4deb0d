package registry

import (
	"context"
	"fmt"

	"federegistry/pkg/federation"
	"federegistry/pkg/types"

	"go.uber.org/zap"
)

// Retractor withdraws this node's record from registries it no longer
// trusts.
type Retractor struct {
	deps Deps
	opts Options
}

func NewRetractor(deps Deps, opts Options) *Retractor {
	return &Retractor{
		deps: deps.withDefaults(),
		opts: opts.withDefaults(),
	}
}

// Retract deletes this node's record from every registry in regs. Under
// BestEffort failures are logged and counted and nil is returned; under
// Strict the joined failures are returned.
func (r *Retractor) Retract(ctx context.Context, regs types.Registries) error {
	err := forEachRegistry(regs.Registries, r.opts.PublishConcurrency, func(reg types.Registry) error {
		return r.retractOne(ctx, reg)
	})
	if err != nil && r.opts.RetractionPolicy == Strict {
		return err
	}
	return nil
}

func (r *Retractor) retractOne(ctx context.Context, reg types.Registry) error {
	logger := r.deps.Logger.With(zap.String("registry_address", reg.Address))

	t, err := r.deps.target(reg)
	if err != nil {
		if m := r.deps.Metrics; m != nil {
			m.RetractFailures.WithLabelValues(federation.KindRemote).Inc()
		}
		logger.Warn("Cannot retract from registry with unreadable credential", zap.Error(err))
		return err
	}
	logger = logger.With(zap.String("registry", string(t.ID)))
	kind := federation.KindOf(t.Self)
	if m := r.deps.Metrics; m != nil {
		m.RetractAttempts.WithLabelValues(kind).Inc()
	}

	if t.Self {
		err = r.deps.Store.Delete(ctx, types.PublicKey(t.ID, types.UserRecordKeyName))
	} else if err = r.deps.trustRegistry(ctx, t); err == nil {
		err = r.deps.Remote.Delete(ctx, t.ID, types.UserRecordKeyName, true)
	}

	if err != nil {
		if m := r.deps.Metrics; m != nil {
			m.RetractFailures.WithLabelValues(kind).Inc()
		}
		logger.Warn("Failed to retract record",
			zap.String("kind", kind),
			zap.String("policy", string(r.opts.RetractionPolicy)),
			zap.Error(err))
		return fmt.Errorf("retract from %s: %w", t.ID, err)
	}

	logger.Debug("Retracted record", zap.String("kind", kind))
	return nil
}
